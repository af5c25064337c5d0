package usage_test

import (
	"context"
	"testing"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryIndex struct {
	refs []models.Reference
}

func (m *memoryIndex) AddReference(_ context.Context, ref models.Reference) error {
	m.refs = append(m.refs, ref)
	return nil
}

func (m *memoryIndex) ClearReferences(_ context.Context, sourceType, sourceID string) error {
	kept := m.refs[:0]
	for _, r := range m.refs {
		if r.SourceType != sourceType || r.SourceID != sourceID {
			kept = append(kept, r)
		}
	}
	m.refs = kept
	return nil
}

func TestURL(t *testing.T) {
	assert.Equal(t, "/media/usage/12", usage.URL("", 12))
	assert.Equal(t, "/admin/media/usage/3", usage.URL("/admin/media/usage", 3))
}

func TestReindex(t *testing.T) {
	idx := &memoryIndex{refs: []models.Reference{
		{MediaID: 1, SourceType: "page", SourceID: "5", Field: "body"},
		{MediaID: 2, SourceType: "page", SourceID: "6", Field: "body"},
	}}

	err := usage.Reindex(context.Background(), idx, "page", "5", []models.Reference{
		{MediaID: 3, Field: "hero"},
		{MediaID: 4, Field: "body"},
	})
	require.NoError(t, err)

	require.Len(t, idx.refs, 3)
	assert.Equal(t, int64(2), idx.refs[0].MediaID)
	assert.Equal(t, "5", idx.refs[1].SourceID)
	assert.Equal(t, "page", idx.refs[2].SourceType)
}
