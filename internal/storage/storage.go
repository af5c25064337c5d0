package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Upload prefixes for the two file fields of a media record.
const (
	MediaPrefix     = "media"
	ThumbnailPrefix = "media_thumbnails"
)

// ErrInvalidName is returned for names that escape the storage root.
var ErrInvalidName = errors.New("invalid storage name")

// Backend stores the binary resources referenced by media records.
type Backend interface {
	// Save stores r under name, or under a free variant of name when it is
	// taken, and returns the name actually used.
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	// Delete removes name. A resource that is already gone is not an error.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	// URL returns an address clients can fetch name from.
	URL(ctx context.Context, name string) (string, error)
	Name() string
}

// URLCache keeps generated URLs for a while.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

var invalidChars = regexp.MustCompile(`[^-\w.]`)

// ValidName makes filename safe to store: spaces become underscores and
// anything other than letters, digits, dashes, underscores and dots is
// dropped.
func ValidName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	name = invalidChars.ReplaceAllString(name, "")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// UploadPath joins prefix with a sanitised filename.
func UploadPath(prefix, filename string) string {
	return path.Join(prefix, ValidName(filename))
}

// alternativeName appends a short random suffix before the extension.
func alternativeName(name string) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	root := strings.TrimSuffix(file, ext)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	return dir + root + "_" + suffix + ext
}

// cleanName rejects absolute names and ".." segments. Dots inside a
// segment, as in "live..set.mp3", are fine.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", ErrInvalidName
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", ErrInvalidName
		}
	}
	return path.Clean(name), nil
}
