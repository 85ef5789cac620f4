package engine

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces ids for new entities.
// Implemented by UUIDGenerator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-sortable UUIDv7 entity ids.
//
// Stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if the random source fails.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order.
//
//	gen := NewFixedGenerator("id-1", "id-2")
//	gen.Generate() // "id-1"
//	gen.Generate() // "id-2"
//	gen.Generate() // panic: all ids exhausted
//
// Running out of ids panics, so a test that creates more entities than it
// planned for fails loudly.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Remaining returns how many ids have not been handed out.
func (g *FixedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids) - g.idx
}
