package table

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
	"sync"
)

// IDSource produces chunk ids. Ids only need to be unique; they are never
// used for ordering.
type IDSource interface {
	NewID() string
}

type randomIDSource struct{}

// NewRandomIDSource returns the default source of random 128-bit hex ids.
func NewRandomIDSource() IDSource { return randomIDSource{} }

func (randomIDSource) NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("table: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

type seededIDSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededIDSource returns a deterministic id source for tests.
func NewSeededIDSource(seed uint64) IDSource {
	return &seededIDSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededIDSource) NewID() string {
	var b [16]byte
	s.mu.Lock()
	for i := 0; i < len(b); i += 8 {
		v := s.rng.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	s.mu.Unlock()
	return hex.EncodeToString(b[:])
}
