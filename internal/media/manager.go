// Package media ties the media record to its storage backend, permission
// policy, lifecycle events and usage index.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/permissions"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/registry"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/search"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/usage"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = errors.New("media not found")
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	DefaultIndexURL = "/media/"
	DefaultUsageURL = "/media/usage/"
)

// Config is resolved once at startup and handed to the manager.
type Config struct {
	Model    *registry.Model
	IndexURL string
	UsageURL string
}

// Store is the metadata persistence the manager needs. *database.DB
// implements it.
type Store interface {
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	InsertMedia(ctx context.Context, m *models.Media) error
	GetMedia(ctx context.Context, id int64) (*models.Media, error)
	UpdateMedia(ctx context.Context, m *models.Media) error
	DeleteMedia(ctx context.Context, id int64) error
	ListMedia(ctx context.Context, filter database.MediaFilter, limit, offset int) ([]*models.Media, error)
	SearchCandidates(ctx context.Context, terms []string, filter database.MediaFilter) ([]*models.Media, error)
	CreateProcessingJob(ctx context.Context, mediaID int64) (int64, error)
	RemoveUser(ctx context.Context, id string) error
}

// Metrics receives lifecycle counts.
type Metrics interface {
	MediaUploaded(kind models.Kind)
	MediaDeleted(kind models.Kind)
	MediaServed(kind models.Kind)
}

type nopMetrics struct{}

func (nopMetrics) MediaUploaded(models.Kind) {}
func (nopMetrics) MediaDeleted(models.Kind)  {}
func (nopMetrics) MediaServed(models.Kind)   {}

// CollectionScoper narrows listings to the collections a user may act on.
// A nil result means every collection.
type CollectionScoper interface {
	CollectionsUserHasPermissionFor(user *models.User, action models.Action) []string
}

// ActionChecker answers whether a user holds an action anywhere, before a
// target collection is known.
type ActionChecker interface {
	UserHasPermission(user *models.User, action models.Action) bool
}

// Option customises a Manager.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager runs the media operations.
type Manager struct {
	cfg     Config
	store   Store
	files   storage.Backend
	policy  permissions.Policy
	gate    *permissions.Gate
	bus     *events.Bus
	usage   usage.Finder
	logger  *zap.Logger
	metrics Metrics
}

// NewManager builds a manager and subscribes the file deletion hook to
// TopicPreDelete ahead of any other subscriber.
func NewManager(cfg Config, store Store, files storage.Backend, policy permissions.Policy, bus *events.Bus, opts ...Option) (*Manager, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("media config has no model")
	}
	if store == nil || files == nil || policy == nil {
		return nil, fmt.Errorf("media manager needs a store, a storage backend and a policy")
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.UsageURL == "" {
		cfg.UsageURL = DefaultUsageURL
	}
	if bus == nil {
		bus = events.NewBus()
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		files:   files,
		policy:  policy,
		gate:    permissions.NewGate(policy),
		bus:     bus,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
	if f, ok := store.(usage.Finder); ok {
		m.usage = f
	}
	for _, opt := range opts {
		opt(m)
	}

	bus.Subscribe(events.TopicPreDelete, "delete_files", DeleteFilesHook(files))
	return m, nil
}

// Upload is one binary resource sent with a create or update.
type Upload struct {
	Filename    string
	Body        io.Reader
	Size        int64
	ContentType string
}

func (u *Upload) contentType() string {
	if u.ContentType != "" {
		return u.ContentType
	}
	return ContentType(u.Filename)
}

// CreateInput carries the fields of a new record.
type CreateInput struct {
	Title        string
	Kind         models.Kind
	CollectionID int64
	Tags         []string
	Width        *int32
	Height       *int32
	File         Upload
	Thumbnail    *Upload
}

// Create stores the file and optional thumbnail, then inserts the record.
// The kind is derived from the file's content type when not given.
func (m *Manager) Create(ctx context.Context, user *models.User, in CreateInput) (*models.Media, error) {
	if in.CollectionID == 0 {
		in.CollectionID = models.RootCollectionID
	}
	coll, err := m.store.GetCollection(ctx, in.CollectionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &models.ValidationError{Field: "collection", Message: fmt.Sprintf("collection %d does not exist", in.CollectionID)}
	}
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	var uploader *string
	if user != nil && user.ID != "" {
		id := user.ID
		uploader = &id
	}
	if !m.gate.Allowed(user, models.ActionAdd, &models.Media{CollectionID: coll.ID, CollectionPath: coll.Path, UploadedByUserID: uploader}) {
		return nil, ErrPermissionDenied
	}

	if in.Kind == "" {
		in.Kind = models.KindFromContentType(in.File.contentType())
	}
	if in.File.Body == nil || in.File.Filename == "" {
		return nil, &models.ValidationError{Field: "file", Message: "this field is required"}
	}

	rec := m.cfg.Model.New()
	base := rec.Base()
	*base = models.Media{
		Title:            strings.TrimSpace(in.Title),
		File:             storage.UploadPath(storage.MediaPrefix, in.File.Filename),
		Kind:             in.Kind,
		Width:            in.Width,
		Height:           in.Height,
		UploadedByUserID: uploader,
		Tags:             in.Tags,
		CollectionID:     coll.ID,
	}
	if in.Thumbnail != nil {
		base.Thumbnail = storage.UploadPath(storage.ThumbnailPrefix, in.Thumbnail.Filename)
	}
	if err := m.cfg.Model.Validate(rec); err != nil {
		return nil, err
	}

	saved, err := m.files.Save(ctx, base.File, in.File.Body, in.File.Size, in.File.contentType())
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	base.File = saved

	if in.Thumbnail != nil {
		thumb, err := m.files.Save(ctx, base.Thumbnail, in.Thumbnail.Body, in.Thumbnail.Size, in.Thumbnail.contentType())
		if err != nil {
			m.discard(ctx, base.File)
			return nil, fmt.Errorf("store thumbnail: %w", err)
		}
		base.Thumbnail = thumb
	}

	if err := m.store.InsertMedia(ctx, base); err != nil {
		m.discard(ctx, base.File, base.Thumbnail)
		return nil, err
	}

	if base.HasThumbnail() {
		m.queueThumbnail(ctx, base.ID)
	}
	m.metrics.MediaUploaded(base.Kind)
	m.logger.Info("media created",
		zap.Int64("media_id", base.ID),
		zap.String("file", base.File),
		zap.String("type", string(base.Kind)),
	)
	return base, nil
}

// Get loads one record.
func (m *Manager) Get(ctx context.Context, id int64) (*models.Media, error) {
	rec, err := m.store.GetMedia(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return rec, nil
}

// UpdateInput lists the fields to change and their new values. Fields not
// named in Fields are ignored.
type UpdateInput struct {
	Fields       []string
	Title        string
	CollectionID int64
	Width        *int32
	Height       *int32
	Tags         []string
	File         *Upload
	// Thumbnail replaces the thumbnail; nil with "thumbnail" in Fields
	// clears it.
	Thumbnail *Upload
}

// Update applies the editable fields of in to record id. Replaced files are
// removed from storage once the row is saved.
func (m *Manager) Update(ctx context.Context, user *models.User, id int64, in UpdateInput) (*models.Media, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.gate.IsEditableByUser(user, current) {
		return nil, ErrPermissionDenied
	}

	next := *current
	next.Tags = append([]string(nil), current.Tags...)
	var newFile, newThumb *Upload
	thumbTouched := false

	for _, field := range in.Fields {
		if !m.cfg.Model.Editable(field) {
			return nil, &models.ValidationError{Field: field, Message: "field cannot be edited"}
		}
		switch field {
		case "title":
			next.Title = strings.TrimSpace(in.Title)
		case "collection":
			if in.CollectionID == next.CollectionID {
				continue
			}
			coll, err := m.store.GetCollection(ctx, in.CollectionID)
			if errors.Is(err, database.ErrNotFound) {
				return nil, &models.ValidationError{Field: "collection", Message: fmt.Sprintf("collection %d does not exist", in.CollectionID)}
			}
			if err != nil {
				return nil, fmt.Errorf("load collection: %w", err)
			}
			moved := next
			moved.CollectionID, moved.CollectionPath = coll.ID, coll.Path
			if !m.gate.Allowed(user, models.ActionAdd, &moved) {
				return nil, ErrPermissionDenied
			}
			next.CollectionID, next.CollectionPath = coll.ID, coll.Path
		case "width":
			next.Width = in.Width
		case "height":
			next.Height = in.Height
		case "tags":
			next.Tags = in.Tags
		case "file":
			if in.File == nil || in.File.Body == nil {
				return nil, &models.ValidationError{Field: "file", Message: "this field is required"}
			}
			newFile = in.File
			next.File = storage.UploadPath(storage.MediaPrefix, in.File.Filename)
		case "thumbnail":
			thumbTouched = true
			newThumb = in.Thumbnail
			next.Thumbnail = ""
			if newThumb != nil {
				next.Thumbnail = storage.UploadPath(storage.ThumbnailPrefix, newThumb.Filename)
			}
		default:
			return nil, &models.ValidationError{Field: field, Message: "unknown field"}
		}
	}

	rec := m.cfg.Model.New()
	*rec.Base() = next
	if err := m.cfg.Model.Validate(rec); err != nil {
		return nil, err
	}

	if newFile != nil {
		saved, err := m.files.Save(ctx, next.File, newFile.Body, newFile.Size, newFile.contentType())
		if err != nil {
			return nil, fmt.Errorf("store file: %w", err)
		}
		next.File = saved
	}
	if newThumb != nil {
		saved, err := m.files.Save(ctx, next.Thumbnail, newThumb.Body, newThumb.Size, newThumb.contentType())
		if err != nil {
			if newFile != nil {
				m.discard(ctx, next.File)
			}
			return nil, fmt.Errorf("store thumbnail: %w", err)
		}
		next.Thumbnail = saved
	}

	if err := m.store.UpdateMedia(ctx, &next); err != nil {
		if newFile != nil {
			m.discard(ctx, next.File)
		}
		if newThumb != nil {
			m.discard(ctx, next.Thumbnail)
		}
		return nil, mapStoreErr(err)
	}

	if newFile != nil && current.File != next.File {
		m.discard(ctx, current.File)
	}
	if thumbTouched && current.Thumbnail != "" && current.Thumbnail != next.Thumbnail {
		m.discard(ctx, current.Thumbnail)
	}
	if newThumb != nil {
		m.queueThumbnail(ctx, next.ID)
	}
	return &next, nil
}

// Delete checks the delete permission, runs the pre-delete handlers and
// removes the row. A handler error leaves the row in place.
func (m *Manager) Delete(ctx context.Context, user *models.User, id int64) error {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !m.gate.Allowed(user, models.ActionDelete, rec) {
		return ErrPermissionDenied
	}
	if err := m.bus.Publish(ctx, events.TopicPreDelete, events.PreDelete{Media: rec}); err != nil {
		return err
	}
	if err := m.store.DeleteMedia(ctx, id); err != nil {
		return mapStoreErr(err)
	}
	m.metrics.MediaDeleted(rec.Kind)
	m.logger.Info("media deleted", zap.Int64("media_id", id))
	return nil
}

// MayAdd reports whether user may add media to some collection. Policies
// that cannot answer without a collection allow it and Create decides.
func (m *Manager) MayAdd(user *models.User) bool {
	if checker, ok := m.policy.(ActionChecker); ok {
		return checker.UserHasPermission(user, models.ActionAdd)
	}
	return true
}

// IsEditableByUser returns the policy's answer for the change action.
func (m *Manager) IsEditableByUser(user *models.User, rec *models.Media) bool {
	return m.gate.IsEditableByUser(user, rec)
}

// Filter narrows List and Search. When Action is set the results are
// limited to collections where User holds it.
type Filter struct {
	CollectionID int64
	UploadedBy   string
	Tag          string
	Kind         models.Kind
	User         *models.User
	Action       models.Action
}

func (m *Manager) storeFilter(f Filter) database.MediaFilter {
	out := database.MediaFilter{
		CollectionID: f.CollectionID,
		UploadedBy:   f.UploadedBy,
		Tag:          f.Tag,
		Kind:         f.Kind,
	}
	if f.Action != "" {
		if scoper, ok := m.policy.(CollectionScoper); ok {
			out.CollectionPaths = scoper.CollectionsUserHasPermissionFor(f.User, f.Action)
		} else if f.User == nil {
			out.CollectionPaths = []string{}
		}
	}
	return out
}

// List returns records newest first.
func (m *Manager) List(ctx context.Context, f Filter, limit, offset int) ([]*models.Media, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListMedia(ctx, m.storeFilter(f), limit, offset)
}

// Search matches query against the model's search fields. Filters must be
// declared as filter fields of the model.
func (m *Manager) Search(ctx context.Context, query string, f Filter, limit int) ([]*models.Media, error) {
	fields := m.cfg.Model.SearchFields
	if f.CollectionID != 0 && !search.HasFilter(fields, "collection") {
		return nil, &models.ValidationError{Field: "collection", Message: "cannot filter search results on this field"}
	}
	if f.UploadedBy != "" && !search.HasFilter(fields, "uploaded_by_user") {
		return nil, &models.ValidationError{Field: "uploaded_by_user", Message: "cannot filter search results on this field"}
	}

	candidates, err := m.store.SearchCandidates(ctx, search.Terms(query), m.storeFilter(f))
	if err != nil {
		return nil, err
	}
	ranked := search.Rank(fields, candidates, query)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// URL is the storage address of the record's file, or the index route when
// there is none.
func (m *Manager) URL(ctx context.Context, rec *models.Media) string {
	if rec == nil || rec.File == "" {
		return m.cfg.IndexURL
	}
	u, err := m.files.URL(ctx, rec.File)
	if err != nil || u == "" {
		if err != nil {
			m.logger.Debug("file url unavailable", zap.String("file", rec.File), zap.Error(err))
		}
		return m.cfg.IndexURL
	}
	return u
}

// ThumbnailURL is the storage address of the thumbnail, or "".
func (m *Manager) ThumbnailURL(ctx context.Context, rec *models.Media) string {
	if rec == nil || rec.Thumbnail == "" {
		return ""
	}
	u, err := m.files.URL(ctx, rec.Thumbnail)
	if err != nil {
		return ""
	}
	return u
}

// Sources lists the playable renditions of the record. There is always
// exactly one.
func (m *Manager) Sources(ctx context.Context, rec *models.Media) []models.Source {
	return []models.Source{{
		Src:  m.URL(ctx, rec),
		Type: ContentType(rec.Filename()),
	}}
}

func (m *Manager) UsageURL(id int64) string {
	return usage.URL(m.cfg.UsageURL, id)
}

// GetUsage returns what the usage finder reports for id.
func (m *Manager) GetUsage(ctx context.Context, id int64) ([]models.Reference, error) {
	if m.usage == nil {
		return []models.Reference{}, nil
	}
	return m.usage.FindUsage(ctx, id)
}

// Serve opens the record's file for streaming and announces it on
// TopicMediaServed. Handler errors are logged only.
func (m *Manager) Serve(ctx context.Context, id int64, req events.Request) (*models.Media, io.ReadCloser, int64, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, 0, err
	}
	if rec.File == "" {
		return nil, nil, 0, ErrNotFound
	}
	body, size, err := m.files.Open(ctx, rec.File)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open %s: %w", rec.File, err)
	}

	if err := m.bus.Publish(ctx, events.TopicMediaServed, events.MediaServed{Media: rec, Request: req}); err != nil {
		m.logger.Warn("media_served handler failed", zap.Int64("media_id", rec.ID), zap.Error(err))
	}
	m.metrics.MediaServed(rec.Kind)
	return rec, body, size, nil
}

// RemoveUser deletes an account; their media stays with no uploader.
func (m *Manager) RemoveUser(ctx context.Context, userID string) error {
	return mapStoreErr(m.store.RemoveUser(ctx, userID))
}

func (m *Manager) queueThumbnail(ctx context.Context, mediaID int64) {
	if _, err := m.store.CreateProcessingJob(ctx, mediaID); err != nil {
		m.logger.Warn("failed to create processing job", zap.Int64("media_id", mediaID), zap.Error(err))
	}
}

// discard removes stored files that no row points at anymore.
func (m *Manager) discard(ctx context.Context, names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := m.files.Delete(ctx, name); err != nil {
			m.logger.Warn("failed to remove stored file", zap.String("file", name), zap.Error(err))
		}
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
