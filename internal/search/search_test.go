package search_test

import (
	"testing"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMediaFields(t *testing.T) {
	fields := search.DefaultMediaFields()
	assert.True(t, search.HasFilter(fields, "collection"))
	assert.True(t, search.HasFilter(fields, "uploaded_by_user"))
	assert.False(t, search.HasFilter(fields, "title"))

	var names []string
	for _, f := range fields {
		if f.Kind == search.Text {
			names = append(names, f.Name)
			assert.Equal(t, float64(10), f.Boost)
			assert.True(t, f.PartialMatch)
		}
	}
	assert.Equal(t, []string{"title", "tags.name"}, names)
}

func TestRank(t *testing.T) {
	now := time.Now()
	interview := &models.Media{ID: 1, Title: "Interview with the band", Tags: []string{"music"}, CreatedAt: now.Add(-time.Hour)}
	concert := &models.Media{ID: 2, Title: "Live concert", Tags: []string{"music", "live"}, CreatedAt: now.Add(-2 * time.Hour)}
	lecture := &models.Media{ID: 3, Title: "Physics lecture", CreatedAt: now}

	fields := search.DefaultMediaFields()
	ranked := search.Rank(fields, []*models.Media{interview, concert, lecture}, "live mus")
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].ID)
	assert.Equal(t, int64(1), ranked[1].ID)

	all := search.Rank(fields, []*models.Media{interview, concert, lecture}, "  ")
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{all[0].ID, all[1].ID, all[2].ID})
}

func TestScoreExactMatch(t *testing.T) {
	fields := []search.Field{search.SearchField("title", false, 2)}
	m := &models.Media{Title: "Morning news"}
	assert.Equal(t, float64(2), search.Score(fields, m, []string{"news"}))
	assert.Equal(t, float64(0), search.Score(fields, m, []string{"new"}))
}
