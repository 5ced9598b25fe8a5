package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billscan/billscan/internal/model"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("scanned page bytes")
	id, err := s.Put(payload, model.KindPage)
	require.NoError(t, err)
	assert.Contains(t, string(id), "page:")

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, s.Exists(id))
}

func TestPutIsIdempotent(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("same bytes")
	id1, err := s.Put(payload, model.KindInput)
	require.NoError(t, err)
	id2, err := s.Put(payload, model.KindInput)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestDistinctKindsYieldDistinctIDs(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("identical payload")
	asInput, err := s.Put(payload, model.KindInput)
	require.NoError(t, err)
	asPage, err := s.Put(payload, model.KindPage)
	require.NoError(t, err)
	assert.NotEqual(t, asInput, asPage)
}

func TestGetUnknownIDFails(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(model.NewArtifactID(model.KindZone, []byte("never stored")))
	assert.Error(t, err)

	_, err = s.Get(model.ArtifactID("garbage"))
	assert.Error(t, err)
	assert.False(t, s.Exists(model.ArtifactID("garbage")))
}
