package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator returns prefix followed by a zero-padded counter.
//
//	gen := NewSequenceGenerator("00000000-0000-7000-8000-")
//	gen.Generate() // "00000000-0000-7000-8000-000000000001"
//	gen.Generate() // "00000000-0000-7000-8000-000000000002"
//
// With a UUID-shaped prefix the results are valid UUID strings, which keeps
// golden traces readable and stable. Safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// Prefixes for the ids the fakes and harness generate.
const (
	EntityIDPrefix   = "00000000-0000-7000-8000-"
	DocumentIDPrefix = "00000000-0000-4000-9000-"
	SecretPrefix     = "00000000-0000-4000-a000-"
)

// NewSequenceGenerator creates a generator whose first id ends in 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%012d", g.prefix, g.n)
}
