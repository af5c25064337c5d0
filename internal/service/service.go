package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/api/mediav1"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func (s *MediaServer) UploadMedia(stream mediav1.MediaService_UploadMediaServer) error {
	ctx := stream.Context()
	if !s.uploadSem.TryAcquire(1) {
		return status.Error(codes.ResourceExhausted, "too many concurrent uploads")
	}
	defer s.uploadSem.Release(1)

	// Receive first message
	firstMsg, err := stream.Recv()
	if err != nil {
		return status.Error(codes.InvalidArgument, "no metadata received")
	}

	meta := firstMsg.GetMetadata()
	if meta == nil {
		return status.Error(codes.InvalidArgument, "first message must be metadata")
	}
	if err := meta.Validate(); err != nil {
		return status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	if meta.Size > s.maxUploadBytes {
		return status.Errorf(codes.InvalidArgument, "file too large: %d bytes (max %d)", meta.Size, s.maxUploadBytes)
	}

	user, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	if !s.manager.MayAdd(user) {
		return s.toStatus(ctx, media.ErrPermissionDenied)
	}

	// Chunks for the file and the thumbnail may interleave, so both are
	// spooled to disk before they reach storage.
	file, err := newSpool("upload-*")
	if err != nil {
		return status.Error(codes.Internal, "failed to buffer upload")
	}
	defer file.cleanup()
	thumb, err := newSpool("thumbnail-*")
	if err != nil {
		return status.Error(codes.Internal, "failed to buffer upload")
	}
	defer thumb.cleanup()

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break // Client finished sending
		}
		if err != nil {
			return status.Error(codes.Internal, "failed to receive chunk")
		}

		if chunk := msg.GetChunk(); len(chunk) > 0 {
			if err := file.write(chunk, s.maxUploadBytes); err != nil {
				return err
			}
		}
		if chunk := msg.GetThumbnailChunk(); len(chunk) > 0 {
			if meta.ThumbnailFilename == "" {
				return status.Error(codes.InvalidArgument, "thumbnail chunk without thumbnail_filename")
			}
			if err := thumb.write(chunk, maxThumbnailBytes); err != nil {
				return err
			}
		}
	}
	if file.size == 0 {
		return status.Error(codes.InvalidArgument, "empty file")
	}

	kind := models.Kind(meta.Type)
	contentType := meta.ContentType
	if contentType == "" {
		contentType = media.ContentType(meta.Filename)
	}
	if kind == "" {
		kind = models.KindFromContentType(contentType)
	}
	if err := ValidateContentType(file.head, kind); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	body, err := file.reader()
	if err != nil {
		return status.Error(codes.Internal, "failed to read buffered upload")
	}
	in := media.CreateInput{
		Title:        meta.Title,
		Kind:         kind,
		CollectionID: meta.CollectionID,
		Tags:         meta.Tags,
		Width:        meta.Width,
		Height:       meta.Height,
		File: media.Upload{
			Filename:    meta.Filename,
			Body:        body,
			Size:        file.size,
			ContentType: contentType,
		},
	}
	if thumb.size > 0 {
		thumbBody, err := thumb.reader()
		if err != nil {
			return status.Error(codes.Internal, "failed to read buffered upload")
		}
		in.Thumbnail = &media.Upload{Filename: meta.ThumbnailFilename, Body: thumbBody, Size: thumb.size}
	}

	rec, err := s.manager.Create(ctx, user, in)
	if err != nil {
		return s.toStatus(ctx, err)
	}

	return stream.SendAndClose(&mediav1.UploadMediaResponse{
		Media: s.toMedia(ctx, user, rec),
		Size:  file.size,
	})
}

func (s *MediaServer) GetMedia(ctx context.Context, req *mediav1.GetMediaRequest) (*mediav1.GetMediaResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.manager.Get(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &mediav1.GetMediaResponse{Media: s.toMedia(ctx, user, rec)}, nil
}

func (s *MediaServer) ListMedia(ctx context.Context, req *mediav1.ListMediaRequest) (*mediav1.ListMediaResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	action := models.Action(req.Action)
	if action != "" && !action.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", req.Action)
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if req.PageToken != "" {
		parsed, err := strconv.Atoi(req.PageToken)
		if err != nil || parsed < 0 {
			return nil, status.Error(codes.InvalidArgument, "invalid page_token")
		}
		offset = parsed
	}

	// Fetch one extra row to know whether there is another page.
	records, err := s.manager.List(ctx, media.Filter{
		CollectionID: req.CollectionID,
		UploadedBy:   req.UploadedBy,
		Tag:          req.Tag,
		Kind:         models.Kind(req.Type),
		User:         user,
		Action:       action,
	}, limit+1, offset)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &mediav1.ListMediaResponse{Media: []*mediav1.Media{}}
	for i, rec := range records {
		if i == limit {
			break
		}
		resp.Media = append(resp.Media, s.toMedia(ctx, user, rec))
	}
	if len(records) > limit {
		resp.NextPageToken = strconv.Itoa(offset + limit)
	}
	return resp, nil
}

func (s *MediaServer) SearchMedia(ctx context.Context, req *mediav1.SearchMediaRequest) (*mediav1.SearchMediaResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	limit := int(req.Limit)
	if limit == 0 {
		limit = 20
	}
	records, err := s.manager.Search(ctx, req.Query, media.Filter{
		CollectionID: req.CollectionID,
		UploadedBy:   req.UploadedBy,
	}, limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &mediav1.SearchMediaResponse{Media: make([]*mediav1.Media, 0, len(records))}
	for _, rec := range records {
		resp.Media = append(resp.Media, s.toMedia(ctx, user, rec))
	}
	return resp, nil
}

func (s *MediaServer) UpdateMedia(ctx context.Context, req *mediav1.UpdateMediaRequest) (*mediav1.UpdateMediaResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	in := media.UpdateInput{
		Fields:       req.UpdateMask,
		Title:        req.Title,
		CollectionID: req.CollectionID,
		Width:        req.Width,
		Height:       req.Height,
		Tags:         req.Tags,
	}
	if req.File != nil {
		if int64(len(req.File.Content)) > s.maxUploadBytes {
			return nil, status.Error(codes.InvalidArgument, "file too large")
		}
		in.File = inlineUpload(req.File)
	}
	if req.Thumbnail != nil {
		if len(req.Thumbnail.Content) > maxThumbnailBytes {
			return nil, status.Error(codes.InvalidArgument, "thumbnail too large")
		}
		in.Thumbnail = inlineUpload(req.Thumbnail)
	}

	rec, err := s.manager.Update(ctx, user, req.ID, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &mediav1.UpdateMediaResponse{Media: s.toMedia(ctx, user, rec)}, nil
}

func (s *MediaServer) DeleteMedia(ctx context.Context, req *mediav1.DeleteMediaRequest) (*mediav1.DeleteMediaResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Delete(ctx, user, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &mediav1.DeleteMediaResponse{
		Success: true,
		Message: "media deleted",
	}, nil
}

func (s *MediaServer) DownloadMedia(req *mediav1.DownloadMediaRequest, stream mediav1.MediaService_DownloadMediaServer) error {
	if err := req.Validate(); err != nil {
		return status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	ctx := stream.Context()

	rec, reader, size, err := s.manager.Serve(ctx, req.ID, s.requestInfo(ctx))
	if err != nil {
		return s.toStatus(ctx, err)
	}
	defer reader.Close()

	// Send file info first
	err = stream.Send(&mediav1.DownloadMediaResponse{
		Info: &mediav1.FileInfo{
			MediaID:     rec.ID,
			Filename:    rec.Filename(),
			ContentType: media.ContentType(rec.Filename()),
			Size:        size,
		},
	})
	if err != nil {
		return err
	}

	buffer := make([]byte, chunkSize)
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			if sendErr := stream.Send(&mediav1.DownloadMediaResponse{Chunk: buffer[:n]}); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return status.Error(codes.Internal, "failed to read file")
		}
	}
}

func (s *MediaServer) GetMediaUsage(ctx context.Context, req *mediav1.GetMediaUsageRequest) (*mediav1.GetMediaUsageResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation failed: %v", err)
	}
	if _, err := s.manager.Get(ctx, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	refs, err := s.manager.GetUsage(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	resp := &mediav1.GetMediaUsageResponse{
		References: make([]mediav1.Reference, 0, len(refs)),
		UsageURL:   s.manager.UsageURL(req.ID),
	}
	for _, r := range refs {
		resp.References = append(resp.References, mediav1.Reference{
			SourceType: r.SourceType,
			SourceID:   r.SourceID,
			Field:      r.Field,
			Label:      r.Label,
		})
	}
	return resp, nil
}

// currentUser resolves the caller and maps resolution failures to codes.
func (s *MediaServer) currentUser(ctx context.Context) (*models.User, error) {
	user, err := middleware.CurrentUser(ctx, s.users)
	switch {
	case errors.Is(err, middleware.ErrUnknownUser):
		return nil, status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, middleware.ErrInactiveUser):
		return nil, status.Error(codes.PermissionDenied, err.Error())
	case err != nil:
		middleware.LoggerFromContext(ctx, s.logger).Error("failed to load user", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to load user")
	}
	return user, nil
}

func (s *MediaServer) requestInfo(ctx context.Context) events.Request {
	req := events.Request{Method: "GRPC", Path: mediav1.MediaService_DownloadMedia_FullMethodName}
	if method, ok := grpc.Method(ctx); ok {
		req.Path = method
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		req.RemoteAddr = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			req.UserAgent = ua[0]
		}
	}
	if principal, ok := middleware.PrincipalFromContext(ctx); ok {
		req.UserID = principal.UserID
	}
	return req
}

func (s *MediaServer) toMedia(ctx context.Context, user *models.User, rec *models.Media) *mediav1.Media {
	out := &mediav1.Media{
		ID:            rec.ID,
		Title:         rec.Title,
		Type:          string(rec.Kind),
		File:          rec.File,
		Filename:      rec.Filename(),
		FileExtension: rec.FileExtension(),
		Thumbnail:     rec.Thumbnail,
		ThumbnailURL:  s.manager.ThumbnailURL(ctx, rec),
		Width:         rec.Width,
		Height:        rec.Height,
		CreatedAt:     rec.CreatedAt,
		Tags:          rec.Tags,
		CollectionID:  rec.CollectionID,
		URL:           s.manager.URL(ctx, rec),
		UsageURL:      s.manager.UsageURL(rec.ID),
		Editable:      s.manager.IsEditableByUser(user, rec),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if rec.UploadedByUserID != nil {
		out.UploadedByUserID = *rec.UploadedByUserID
	}
	for _, src := range s.manager.Sources(ctx, rec) {
		out.Sources = append(out.Sources, mediav1.Source{Src: src.Src, Type: src.Type})
	}

	if s.jobs != nil {
		job, err := s.jobs.GetJobByMediaID(ctx, rec.ID)
		if err == nil && job != nil {
			out.ProcessingStatus = mediav1.ProcessingStatus(job.Status)
			if job.Status == database.JobFailed {
				out.ProcessingMessage = job.ErrorMessage
			}
		}
	}
	return out
}

// toStatus maps domain errors onto gRPC codes.
func (s *MediaServer) toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var verr *models.ValidationError
	switch {
	case errors.Is(err, media.ErrNotFound):
		return status.Error(codes.NotFound, "media not found")
	case errors.Is(err, media.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	middleware.LoggerFromContext(ctx, s.logger).Error("request failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func inlineUpload(f *mediav1.FileData) *media.Upload {
	return &media.Upload{
		Filename:    f.Filename,
		Body:        bytes.NewReader(f.Content),
		Size:        int64(len(f.Content)),
		ContentType: f.ContentType,
	}
}

// spool buffers one incoming file on local disk.
type spool struct {
	f    *os.File
	size int64
	head []byte
}

func newSpool(pattern string) (*spool, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	return &spool{f: f}, nil
}

func (sp *spool) write(chunk []byte, limit int64) error {
	if sp.size+int64(len(chunk)) > limit {
		return status.Errorf(codes.InvalidArgument, "file too large: exceeds %d bytes", limit)
	}
	if missing := 512 - len(sp.head); missing > 0 {
		sp.head = append(sp.head, chunk[:min(missing, len(chunk))]...)
	}
	n, err := sp.f.Write(chunk)
	sp.size += int64(n)
	if err != nil {
		return status.Error(codes.Internal, "failed to write chunk")
	}
	return nil
}

func (sp *spool) reader() (io.Reader, error) {
	if _, err := sp.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool: %w", err)
	}
	return sp.f, nil
}

func (sp *spool) cleanup() {
	sp.f.Close()
	os.Remove(sp.f.Name())
}
