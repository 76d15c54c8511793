package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockListener struct {
	priority  int
	name      string
	isAsync   bool
	returnErr error
	workDelay time.Duration

	mu        *sync.Mutex
	callOrder *[]string
	onEvent   func(HookEvent)
}

func (m *mockListener) OnEvent(ctx context.Context, event HookEvent) error {
	if m.workDelay > 0 {
		time.Sleep(m.workDelay)
	}
	if m.onEvent != nil {
		m.onEvent(event)
	}
	if m.callOrder != nil {
		m.mu.Lock()
		*m.callOrder = append(*m.callOrder, m.name)
		m.mu.Unlock()
	}
	return m.returnErr
}

func (m *mockListener) Priority() int { return m.priority }
func (m *mockListener) IsAsync() bool { return m.isAsync }

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) listener(name string, priority int) *mockListener {
	return &mockListener{name: name, priority: priority, mu: &r.mu, callOrder: &r.calls}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDefaultHookManager_PriorityOrder(t *testing.T) {
	m := NewHookManager(nil)
	var rec recorder
	m.Register(EventPreMerge, rec.listener("p10", 10))
	m.Register(EventPreMerge, rec.listener("p1", 1))
	m.Register(EventPreMerge, rec.listener("p5", 5))
	m.Register(EventPreMerge, rec.listener("p5-second", 5))

	require.NoError(t, m.Trigger(context.Background(), NewPreMergeEvent(MergePayload{Table: "events"})))
	assert.Equal(t, []string{"p1", "p5", "p5-second", "p10"}, rec.get())
}

func TestDefaultHookManager_PreHookCancels(t *testing.T) {
	m := NewHookManager(nil)
	var rec recorder
	boom := errors.New("not now")

	failing := rec.listener("fail", 5)
	failing.returnErr = boom
	m.Register(EventPreChunkWrite, rec.listener("first", 1))
	m.Register(EventPreChunkWrite, failing)
	m.Register(EventPreChunkWrite, rec.listener("never", 10))

	err := m.Trigger(context.Background(), NewPreChunkWriteEvent(ChunkWritePayload{Table: "events"}))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "fail"}, rec.get())
}

func TestDefaultHookManager_PreHookIgnoresAsync(t *testing.T) {
	m := NewHookManager(nil)
	var rec recorder
	l := rec.listener("async-pre", 1)
	l.isAsync = true
	m.Register(EventPreMerge, l)

	require.NoError(t, m.Trigger(context.Background(), NewPreMergeEvent(MergePayload{})))
	assert.Equal(t, []string{"async-pre"}, rec.get())
}

func TestDefaultHookManager_PostHooks(t *testing.T) {
	m := NewHookManager(nil)
	var rec recorder

	failing := rec.listener("sync-fail", 1)
	failing.returnErr = errors.New("ignored")
	async := rec.listener("async", 2)
	async.isAsync = true
	async.workDelay = 20 * time.Millisecond

	m.Register(EventPostChunkWrite, failing)
	m.Register(EventPostChunkWrite, async)
	m.Register(EventPostChunkWrite, rec.listener("sync", 3))

	payload := ChunkWrittenPayload{Table: "events", Chunk: core.ChunkRef{ChunkID: "c1", NumRecords: 3}}
	require.NoError(t, m.Trigger(context.Background(), NewPostChunkWriteEvent(payload)))
	assert.Equal(t, []string{"sync-fail", "sync"}, rec.get())

	m.Stop()
	assert.ElementsMatch(t, []string{"sync-fail", "sync", "async"}, rec.get())
}

func TestDefaultHookManager_StopWaitsForAsync(t *testing.T) {
	m := NewHookManager(nil)
	var done atomic.Bool
	m.Register(EventPostGarbageCollect, &mockListener{
		isAsync:   true,
		workDelay: 30 * time.Millisecond,
		onEvent:   func(HookEvent) { done.Store(true) },
	})

	require.NoError(t, m.Trigger(context.Background(), NewPostGarbageCollectEvent(GarbageCollectPayload{})))
	m.Stop()
	assert.True(t, done.Load())
}

func TestListenerFunc(t *testing.T) {
	m := NewHookManager(nil)
	var got MergeAbortedPayload
	m.Register(EventMergeAborted, ListenerFunc(func(_ context.Context, e HookEvent) error {
		got = e.Payload().(MergeAbortedPayload)
		return nil
	}))
	reason := core.ErrMergeConflict
	require.NoError(t, m.Trigger(context.Background(), NewMergeAbortedEvent(MergeAbortedPayload{
		MergePayload: MergePayload{Table: "events"},
		Reason:       reason,
	})))
	assert.Equal(t, "events", got.Table)
	assert.ErrorIs(t, got.Reason, core.ErrMergeConflict)
}

func TestNopManager(t *testing.T) {
	var m HookManager = NopManager{}
	m.Register(EventPreMerge, ListenerFunc(func(context.Context, HookEvent) error { return errors.New("x") }))
	require.NoError(t, m.Trigger(context.Background(), NewPreMergeEvent(MergePayload{})))
	m.Stop()
}

func BenchmarkTrigger_PreHook_10_Listeners(b *testing.B) {
	m := NewHookManager(nil)
	for i := 0; i < 10; i++ {
		m.Register(EventPreMerge, &mockListener{priority: i})
	}
	event := NewPreMergeEvent(MergePayload{})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Trigger(ctx, event)
	}
}
