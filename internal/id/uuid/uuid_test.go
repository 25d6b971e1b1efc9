package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDIsTimeOrdered(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.Less(t, id1, id2)
}

func TestGeneratorRunAndRequestIDs(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	run := gen.NewRunID()
	assert.NotEqual(t, goUUID.Nil, run)
	assert.Equal(t, goUUID.Version(7), run.Version())

	req := gen.NewRequestID()
	_, err := goUUID.Parse(req)
	require.NoError(t, err)
	assert.NotEqual(t, req, gen.NewRequestID())
}
