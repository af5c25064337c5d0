package media

import (
	"mime"
	"strings"
)

const defaultContentType = "application/octet-stream"

// Extensions missing from some system mime tables.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".weba": "audio/webm",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

func init() {
	for ext, typ := range mediaTypes {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// ContentType guesses the bare MIME type of filename from its extension,
// falling back to application/octet-stream. Parameters such as charset are
// dropped.
func ContentType(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return defaultContentType
	}
	typ := mime.TypeByExtension(strings.ToLower(filename[i:]))
	if typ == "" {
		return defaultContentType
	}
	if mediaType, _, err := mime.ParseMediaType(typ); err == nil {
		return mediaType
	}
	typ, _, _ = strings.Cut(typ, ";")
	return strings.TrimSpace(typ)
}
