package models

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

// TitleMaxLength bounds Media.Title and Kind values.
const TitleMaxLength = 255

// Kind is the enumerated media type tag.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Kinds lists the accepted kinds with their display labels.
var Kinds = []struct {
	Kind  Kind
	Label string
}{
	{KindAudio, "Audio file"},
	{KindVideo, "Video file"},
}

func (k Kind) Valid() bool {
	for _, c := range Kinds {
		if c.Kind == k {
			return true
		}
	}
	return false
}

// KindChoices renders Kinds for error messages, e.g. "audio (Audio file)".
func KindChoices() string {
	choices := make([]string, len(Kinds))
	for i, c := range Kinds {
		choices[i] = fmt.Sprintf("%s (%s)", c.Kind, c.Label)
	}
	return strings.Join(choices, ", ")
}

// KindFromContentType maps a MIME type to a media kind. It returns "" for
// anything that is neither audio nor video.
func KindFromContentType(contentType string) Kind {
	switch {
	case strings.HasPrefix(contentType, "audio/"):
		return KindAudio
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	default:
		return ""
	}
}

// Record is implemented by every concrete media type. Types that embed Media
// get it for free.
type Record interface {
	Base() *Media
}

// Media is the abstract audio/video record.
type Media struct {
	ID               int64
	Title            string
	File             string
	Kind             Kind
	Width            *int32
	Height           *int32
	Thumbnail        string
	CreatedAt        time.Time
	UploadedByUserID *string
	Tags             []string
	CollectionID     int64

	// CollectionPath is loaded with the row and never written.
	CollectionPath string
}

func (m *Media) Base() *Media { return m }

func (m *Media) String() string { return m.Title }

// Filename is the basename of the stored file, or "" without one.
func (m *Media) Filename() string {
	return basename(m.File)
}

func (m *Media) ThumbnailFilename() string {
	return basename(m.Thumbnail)
}

// FileExtension returns the extension of Filename without its leading dot.
func (m *Media) FileExtension() string {
	return Extension(m.Filename())
}

// HasThumbnail reports whether a thumbnail resource is referenced.
func (m *Media) HasThumbnail() bool {
	return m.Thumbnail != ""
}

// Validate checks the fields a record needs before it is stored.
func (m *Media) Validate() error {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return &ValidationError{Field: "title", Message: "this field is required"}
	}
	if utf8.RuneCountInString(title) > TitleMaxLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("ensure this value has at most %d characters", TitleMaxLength)}
	}
	if m.File == "" {
		return &ValidationError{Field: "file", Message: "this field is required"}
	}
	if !m.Kind.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("%q is not one of the available choices: %s", m.Kind, KindChoices())}
	}
	if m.Width != nil && *m.Width <= 0 {
		return &ValidationError{Field: "width", Message: "must be a positive integer"}
	}
	if m.Height != nil && *m.Height <= 0 {
		return &ValidationError{Field: "height", Message: "must be a positive integer"}
	}
	return nil
}

// Extension returns the extension of name without the leading dot. Leading
// dots of the basename never start an extension, so ".hidden" has none.
func Extension(name string) string {
	base := strings.TrimLeft(basename(name), ".")
	ext := path.Ext(base)
	return strings.TrimPrefix(ext, ".")
}

func basename(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasSuffix(name, "/") {
		return ""
	}
	return path.Base(name)
}

// Source describes one playable rendition of a media file.
type Source struct {
	Src  string `json:"src"`
	Type string `json:"type"`
}
