package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/schema"
)

// EventType defines the type of a hook event.
type EventType string

// Events whose name starts with "Pre" run synchronously and an error from
// any listener cancels the operation.
const (
	// Chunk lifecycle
	EventPreChunkWrite     EventType = "PreChunkWrite"
	EventPostChunkWrite    EventType = "PostChunkWrite"
	EventPostManifestWrite EventType = "PostManifestWrite"

	// Maintenance
	EventPreMerge           EventType = "PreMerge"
	EventPostMerge          EventType = "PostMerge"
	EventMergeAborted       EventType = "MergeAborted"
	EventPostGarbageCollect EventType = "PostGarbageCollect"
	EventPostReplicate      EventType = "PostReplicate"
	EventConsistencyError   EventType = "ConsistencyError"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener is implemented by anything that wants table events.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners; lower runs first.
	Priority() int
	// IsAsync requests background execution. Ignored for Pre-hooks.
	IsAsync() bool
}

// ListenerFunc adapts a function to a synchronous HookListener.
type ListenerFunc func(ctx context.Context, event HookEvent) error

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return 0 }
func (f ListenerFunc) IsAsync() bool                                      { return false }

// ChunkWritePayload is sent before a chunk is serialized. Records must not
// be modified.
type ChunkWritePayload struct {
	Table   string
	Chunk   core.ChunkRef
	Schema  *schema.Schema
	Records []schema.Record
}

func NewPreChunkWriteEvent(payload ChunkWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPreChunkWrite, payload: payload}
}

// ChunkWrittenPayload is sent once a chunk's files are published.
type ChunkWrittenPayload struct {
	Table    string
	Chunk    core.ChunkRef
	Duration time.Duration
}

func NewPostChunkWriteEvent(payload ChunkWrittenPayload) HookEvent {
	return &BaseEvent{eventType: EventPostChunkWrite, payload: payload}
}

// ManifestWritePayload is sent after a generation file was persisted.
type ManifestWritePayload struct {
	Table      string
	ReplicaID  string
	Generation uint64
	NumChunks  int
	Path       string
}

func NewPostManifestWriteEvent(payload ManifestWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPostManifestWrite, payload: payload}
}

// MergePayload describes a merge. Output is fully populated only in PostMerge.
type MergePayload struct {
	Table    string
	Inputs   []core.ChunkRef
	Output   core.ChunkRef
	Duration time.Duration
}

func NewPreMergeEvent(payload MergePayload) HookEvent {
	return &BaseEvent{eventType: EventPreMerge, payload: payload}
}

func NewPostMergeEvent(payload MergePayload) HookEvent {
	return &BaseEvent{eventType: EventPostMerge, payload: payload}
}

// MergeAbortedPayload is sent when a merge output could not be published.
type MergeAbortedPayload struct {
	MergePayload
	Reason error
}

func NewMergeAbortedEvent(payload MergeAbortedPayload) HookEvent {
	return &BaseEvent{eventType: EventMergeAborted, payload: payload}
}

// GarbageCollectPayload summarizes one gc pass.
type GarbageCollectPayload struct {
	Table              string
	DeletedChunks      []string
	DeletedGenerations []uint64
	DeletedFiles       int
	SweptOrphans       int
}

func NewPostGarbageCollectEvent(payload GarbageCollectPayload) HookEvent {
	return &BaseEvent{eventType: EventPostGarbageCollect, payload: payload}
}

// ReplicatePayload lists what a replicateFrom call changed.
type ReplicatePayload struct {
	Table      string
	Generation uint64
	Added      []core.ChunkRef
	Dropped    []core.ChunkRef
}

func NewPostReplicateEvent(payload ReplicatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostReplicate, payload: payload}
}

// ConsistencyPayload reports chunks referenced by the head generation but
// missing from the artifact index.
type ConsistencyPayload struct {
	Table    string
	Missing  []string
	Repaired bool
}

func NewConsistencyErrorEvent(payload ConsistencyPayload) HookEvent {
	return &BaseEvent{eventType: EventConsistencyError, payload: payload}
}

// --- HookManager implementation ---

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is the default implementation of HookManager.
type DefaultHookManager struct {
	mu        sync.RWMutex
	listeners map[EventType][]*listenerWithPriority
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	// insert after listeners of equal priority so registration order is kept
	idx := sort.Search(len(l), func(i int) bool { return l[i].priority > item.priority })
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if isPreHook && item.listener.IsAsync() {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(item *listenerWithPriority) {
			defer m.wg.Done()
			if err := item.listener.OnEvent(context.WithoutCancel(ctx), event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}

// NopManager discards every event.
type NopManager struct{}

func (NopManager) Register(EventType, HookListener)         {}
func (NopManager) Trigger(context.Context, HookEvent) error { return nil }
func (NopManager) Stop()                                    {}
