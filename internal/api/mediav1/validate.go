package mediav1

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxPageSize = 100
	maxFilename = 255
)

func (m *MediaMetadata) Validate() error {
	if m == nil {
		return errors.New("metadata is required")
	}
	if strings.TrimSpace(m.Filename) == "" {
		return errors.New("filename is required")
	}
	if len(m.Filename) > maxFilename || len(m.ThumbnailFilename) > maxFilename {
		return fmt.Errorf("filename must be at most %d bytes", maxFilename)
	}
	if m.Size < 0 {
		return errors.New("size must not be negative")
	}
	if m.Type != "" && m.Type != "audio" && m.Type != "video" {
		return fmt.Errorf("type %q must be audio or video", m.Type)
	}
	return nil
}

func validateID(id int64) error {
	if id <= 0 {
		return errors.New("id must be positive")
	}
	return nil
}

func (r *GetMediaRequest) Validate() error      { return validateID(r.ID) }
func (r *DeleteMediaRequest) Validate() error   { return validateID(r.ID) }
func (r *DownloadMediaRequest) Validate() error { return validateID(r.ID) }
func (r *GetMediaUsageRequest) Validate() error { return validateID(r.ID) }

func (r *ListMediaRequest) Validate() error {
	if r.PageSize < 0 || r.PageSize > maxPageSize {
		return fmt.Errorf("page_size must be between 0 and %d", maxPageSize)
	}
	return nil
}

func (r *SearchMediaRequest) Validate() error {
	if r.Limit < 0 || r.Limit > maxPageSize {
		return fmt.Errorf("limit must be between 0 and %d", maxPageSize)
	}
	return nil
}

func (r *UpdateMediaRequest) Validate() error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	if len(r.UpdateMask) == 0 {
		return errors.New("update_mask is required")
	}
	return nil
}
