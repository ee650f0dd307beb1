package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDIsVersion7AndOrdered(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	require.NoError(t, err)
	second, err := gen.NewID()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	parsed, err := goUUID.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.Less(t, first, second)
}

func TestGeneratorNewRequestID(t *testing.T) {
	t.Parallel()

	id := New().NewRequestID()
	parsed, err := goUUID.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(4), parsed.Version())
}
