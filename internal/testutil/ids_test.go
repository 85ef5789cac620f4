package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("doc-")
	assert.Equal(t, "doc-000000000001", gen.Generate())
	assert.Equal(t, "doc-000000000002", gen.Generate())
}

func TestSequenceGenerator_UUIDPrefixesParse(t *testing.T) {
	for _, prefix := range []string{EntityIDPrefix, DocumentIDPrefix, SecretPrefix} {
		id := NewSequenceGenerator(prefix).Generate()
		_, err := uuid.Parse(id)
		require.NoError(t, err, id)
	}
}
