package media

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
)

// DeleteFilesHook removes a record's stored file and then its thumbnail.
// The record itself is not saved. A failure on the file leaves the
// thumbnail in place.
func DeleteFilesHook(files storage.Backend) events.Handler {
	return func(ctx context.Context, payload any) error {
		ev, ok := payload.(events.PreDelete)
		if !ok || ev.Media == nil {
			return nil
		}
		if ev.Media.File != "" {
			if err := files.Delete(ctx, ev.Media.File); err != nil {
				return fmt.Errorf("delete file %s: %w", ev.Media.File, err)
			}
		}
		if ev.Media.Thumbnail != "" {
			if err := files.Delete(ctx, ev.Media.Thumbnail); err != nil {
				return fmt.Errorf("delete thumbnail %s: %w", ev.Media.Thumbnail, err)
			}
		}
		return nil
	}
}
