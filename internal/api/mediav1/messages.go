package mediav1

import "time"

// ProcessingStatus mirrors the thumbnail job state of a record.
type ProcessingStatus string

const (
	ProcessingStatusNone       ProcessingStatus = ""
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// MediaMetadata opens an upload stream.
type MediaMetadata struct {
	Title             string   `json:"title"`
	Type              string   `json:"type,omitempty"`
	Filename          string   `json:"filename"`
	ContentType       string   `json:"content_type,omitempty"`
	Size              int64    `json:"size,omitempty"`
	CollectionID      int64    `json:"collection_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Width             *int32   `json:"width,omitempty"`
	Height            *int32   `json:"height,omitempty"`
	ThumbnailFilename string   `json:"thumbnail_filename,omitempty"`
}

// UploadMediaRequest carries exactly one of its fields. The first message of
// a stream must be Metadata.
type UploadMediaRequest struct {
	Metadata       *MediaMetadata `json:"metadata,omitempty"`
	Chunk          []byte         `json:"chunk,omitempty"`
	ThumbnailChunk []byte         `json:"thumbnail_chunk,omitempty"`
}

func (r *UploadMediaRequest) GetMetadata() *MediaMetadata {
	if r == nil {
		return nil
	}
	return r.Metadata
}

func (r *UploadMediaRequest) GetChunk() []byte {
	if r == nil {
		return nil
	}
	return r.Chunk
}

func (r *UploadMediaRequest) GetThumbnailChunk() []byte {
	if r == nil {
		return nil
	}
	return r.ThumbnailChunk
}

type Source struct {
	Src  string `json:"src"`
	Type string `json:"type"`
}

// Media is the wire form of a record with its derived accessors.
type Media struct {
	ID                int64            `json:"id"`
	Title             string           `json:"title"`
	Type              string           `json:"type"`
	File              string           `json:"file"`
	Filename          string           `json:"filename"`
	FileExtension     string           `json:"file_extension"`
	Thumbnail         string           `json:"thumbnail,omitempty"`
	ThumbnailURL      string           `json:"thumbnail_url,omitempty"`
	Width             *int32           `json:"width,omitempty"`
	Height            *int32           `json:"height,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UploadedByUserID  string           `json:"uploaded_by_user_id,omitempty"`
	Tags              []string         `json:"tags"`
	CollectionID      int64            `json:"collection_id"`
	URL               string           `json:"url"`
	Sources           []Source         `json:"sources"`
	UsageURL          string           `json:"usage_url"`
	Editable          bool             `json:"editable"`
	ProcessingStatus  ProcessingStatus `json:"processing_status,omitempty"`
	ProcessingMessage string           `json:"processing_message,omitempty"`
}

type UploadMediaResponse struct {
	Media *Media `json:"media"`
	Size  int64  `json:"size"`
}

type GetMediaRequest struct {
	ID int64 `json:"id"`
}

type GetMediaResponse struct {
	Media *Media `json:"media"`
}

// ListMediaRequest filters the listing. Action limits results to collections
// where the caller holds that permission.
type ListMediaRequest struct {
	CollectionID int64  `json:"collection_id,omitempty"`
	UploadedBy   string `json:"uploaded_by,omitempty"`
	Tag          string `json:"tag,omitempty"`
	Type         string `json:"type,omitempty"`
	Action       string `json:"action,omitempty"`
	PageSize     int32  `json:"page_size,omitempty"`
	PageToken    string `json:"page_token,omitempty"`
}

type ListMediaResponse struct {
	Media         []*Media `json:"media"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

type SearchMediaRequest struct {
	Query        string `json:"query"`
	CollectionID int64  `json:"collection_id,omitempty"`
	UploadedBy   string `json:"uploaded_by,omitempty"`
	Limit        int32  `json:"limit,omitempty"`
}

type SearchMediaResponse struct {
	Media []*Media `json:"media"`
}

// FileData is an inline file for UpdateMedia.
type FileData struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// UpdateMediaRequest changes the fields named in UpdateMask.
type UpdateMediaRequest struct {
	ID           int64     `json:"id"`
	UpdateMask   []string  `json:"update_mask"`
	Title        string    `json:"title,omitempty"`
	CollectionID int64     `json:"collection_id,omitempty"`
	Width        *int32    `json:"width,omitempty"`
	Height       *int32    `json:"height,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	File         *FileData `json:"file,omitempty"`
	Thumbnail    *FileData `json:"thumbnail,omitempty"`
}

type UpdateMediaResponse struct {
	Media *Media `json:"media"`
}

type DeleteMediaRequest struct {
	ID int64 `json:"id"`
}

type DeleteMediaResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type DownloadMediaRequest struct {
	ID int64 `json:"id"`
}

type FileInfo struct {
	MediaID     int64  `json:"media_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// DownloadMediaResponse carries Info in the first message and Chunk after.
type DownloadMediaResponse struct {
	Info  *FileInfo `json:"info,omitempty"`
	Chunk []byte    `json:"chunk,omitempty"`
}

func (r *DownloadMediaResponse) GetInfo() *FileInfo {
	if r == nil {
		return nil
	}
	return r.Info
}

func (r *DownloadMediaResponse) GetChunk() []byte {
	if r == nil {
		return nil
	}
	return r.Chunk
}

type GetMediaUsageRequest struct {
	ID int64 `json:"id"`
}

type Reference struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Field      string `json:"field,omitempty"`
	Label      string `json:"label,omitempty"`
}

type GetMediaUsageResponse struct {
	References []Reference `json:"references"`
	UsageURL   string      `json:"usage_url"`
}
