// Package usage answers where a media item is referenced from.
package usage

import (
	"context"
	"strconv"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// Finder looks up the references to a media item.
type Finder interface {
	FindUsage(ctx context.Context, mediaID int64) ([]models.Reference, error)
}

// Indexer maintains the reference index a Finder reads.
type Indexer interface {
	AddReference(ctx context.Context, ref models.Reference) error
	ClearReferences(ctx context.Context, sourceType, sourceID string) error
}

// URL returns the usage route for a media id under prefix, e.g.
// "/media/usage/12".
func URL(prefix string, mediaID int64) string {
	if prefix == "" {
		prefix = "/media/usage/"
	}
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix + strconv.FormatInt(mediaID, 10)
}

// Reindex replaces the references held by one source object.
func Reindex(ctx context.Context, idx Indexer, sourceType, sourceID string, refs []models.Reference) error {
	if err := idx.ClearReferences(ctx, sourceType, sourceID); err != nil {
		return err
	}
	for _, ref := range refs {
		ref.SourceType = sourceType
		ref.SourceID = sourceID
		if err := idx.AddReference(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}
