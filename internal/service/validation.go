package service

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
)

// ValidateContentType checks the first bytes of an upload against the
// declared kind. Generic binary types pass; a detected text, image or
// other-kind media type does not.
func ValidateContentType(head []byte, declared models.Kind) error {
	actualType := http.DetectContentType(head)
	if !isContentTypeMatch(actualType, declared) {
		return fmt.Errorf("content type mismatch: declared=%s, detected=%s", declared, actualType)
	}
	return nil
}

// containerTypes are sniffed from a container format that carries audio-only
// files too (m4a, aac in mp4, weba).
var containerTypes = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
}

func isContentTypeMatch(actual string, declared models.Kind) bool {
	if containerTypes[actual] {
		return declared == models.KindAudio || declared == models.KindVideo
	}
	switch prefix := strings.Split(actual, "/")[0]; prefix {
	case "audio", "video":
		return models.Kind(prefix) == declared
	case "text", "image":
		return false
	}
	// application/octet-stream, application/ogg and friends
	return true
}
