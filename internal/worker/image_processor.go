package worker

import (
	"bytes"
	"context"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"github.com/disintegration/imaging"
)

const defaultMaxThumbnailWidth = 640

// Thumbnail is the outcome of normalising one thumbnail image.
type Thumbnail struct {
	Name         string
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
}

// ImageProcessor rewrites uploaded thumbnails as JPEGs no wider than
// maxWidth.
type ImageProcessor struct {
	files    storage.Backend
	maxWidth int
}

func NewImageProcessor(files storage.Backend, maxWidth int) *ImageProcessor {
	if maxWidth <= 0 {
		maxWidth = defaultMaxThumbnailWidth
	}
	return &ImageProcessor{files: files, maxWidth: maxWidth}
}

// Normalize decodes the stored image name and saves the resized JPEG next to
// it. The original is left alone.
func (ip *ImageProcessor) Normalize(ctx context.Context, name string) (*Thumbnail, error) {
	r, _, err := ip.files.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open thumbnail: %w", err)
	}
	defer r.Close()

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}

	bounds := img.Bounds()
	result := &Thumbnail{SourceWidth: bounds.Dx(), SourceHeight: bounds.Dy()}

	if result.SourceWidth > ip.maxWidth {
		img = imaging.Resize(img, ip.maxWidth, 0, imaging.Lanczos)
	}
	result.Width = img.Bounds().Dx()
	result.Height = img.Bounds().Dy()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	target := jpegName(name)
	saved, err := ip.files.Save(ctx, target, &buf, int64(buf.Len()), "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("save thumbnail: %w", err)
	}
	result.Name = saved
	return result, nil
}

func jpegName(name string) string {
	dir, file := path.Split(name)
	root := strings.TrimSuffix(file, path.Ext(file))
	return dir + root + ".jpg"
}
