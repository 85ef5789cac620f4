package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator_V7(t *testing.T) {
	gen := UUIDGenerator{}
	a := gen.Generate()
	b := gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("id-1", "id-2")
	assert.Equal(t, 2, gen.Remaining())
	assert.Equal(t, "id-1", gen.Generate())
	assert.Equal(t, "id-2", gen.Generate())
	assert.Equal(t, 0, gen.Remaining())
	assert.Panics(t, func() { gen.Generate() })
}
