package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/events"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxPageSize = 100

type handler struct {
	manager *media.Manager
	users   middleware.UserStore
	logger  *zap.Logger
}

type mediaJSON struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Type          models.Kind     `json:"type"`
	Filename      string          `json:"filename"`
	FileExtension string          `json:"file_extension"`
	URL           string          `json:"url"`
	ServeURL      string          `json:"serve_url"`
	ThumbnailURL  string          `json:"thumbnail_url,omitempty"`
	Sources       []models.Source `json:"sources"`
	Width         *int32          `json:"width,omitempty"`
	Height        *int32          `json:"height,omitempty"`
	Tags          []string        `json:"tags"`
	CollectionID  int64           `json:"collection_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UsageURL      string          `json:"usage_url"`
	Editable      bool            `json:"editable"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (h *handler) view(r *http.Request, user *models.User, rec *models.Media) mediaJSON {
	ctx := r.Context()
	out := mediaJSON{
		ID:            rec.ID,
		Title:         rec.Title,
		Type:          rec.Kind,
		Filename:      rec.Filename(),
		FileExtension: rec.FileExtension(),
		URL:           h.manager.URL(ctx, rec),
		ServeURL:      ServeURL(rec),
		ThumbnailURL:  h.manager.ThumbnailURL(ctx, rec),
		Sources:       h.manager.Sources(ctx, rec),
		Width:         rec.Width,
		Height:        rec.Height,
		Tags:          rec.Tags,
		CollectionID:  rec.CollectionID,
		CreatedAt:     rec.CreatedAt,
		UsageURL:      h.manager.UsageURL(rec.ID),
		Editable:      h.manager.IsEditableByUser(user, rec),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// ServeURL is the route that streams rec's file through this service.
func ServeURL(rec *models.Media) string {
	return fmt.Sprintf("/media/%d/serve/%s", rec.ID, rec.Filename())
}

// user resolves the caller and writes the error response itself on failure.
func (h *handler) user(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.CurrentUser(r.Context(), h.users)
	switch {
	case errors.Is(err, middleware.ErrUnknownUser):
		writeJSON(w, http.StatusUnauthorized, errorJSON{Error: err.Error()})
		return nil, false
	case errors.Is(err, middleware.ErrInactiveUser):
		writeJSON(w, http.StatusForbidden, errorJSON{Error: err.Error()})
		return nil, false
	case err != nil:
		h.logger.Error("failed to load user", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal error"})
		return nil, false
	}
	return user, true
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, media.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorJSON{Error: "media not found"})
	case errors.Is(err, media.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorJSON{Error: "permission denied"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: verr.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: "internal error"})
	}
}

// index lists records, or searches them when q is given.
func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := media.Filter{
		UploadedBy: q.Get("uploaded_by"),
		Tag:        q.Get("tag"),
		Kind:       models.Kind(q.Get("type")),
		User:       user,
		Action:     models.Action(q.Get("action")),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "unknown action"})
		return
	}
	var err error
	if filter.CollectionID, err = intParam(q.Get("collection"), 0); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid collection"})
		return
	}
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil || limit <= 0 || limit > maxPageSize {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid limit"})
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid offset"})
		return
	}

	var records []*models.Media
	if query := q.Get("q"); query != "" {
		records, err = h.manager.Search(r.Context(), query, filter, int(limit))
	} else {
		records, err = h.manager.List(r.Context(), filter, int(limit), int(offset))
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make([]mediaJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, h.view(r, user, rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": out})
}

func (h *handler) detail(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	rec, err := h.record(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r, user, rec))
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	rec, err := h.record(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	refs, err := h.manager.GetUsage(r.Context(), rec.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if refs == nil {
		refs = []models.Reference{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"media":      rec.ID,
		"title":      rec.Title,
		"usage_url":  h.manager.UsageURL(rec.ID),
		"references": refs,
	})
}

// serve streams the stored file. The filename in the path must be the
// record's, so stale links stop working once a file is replaced.
func (h *handler) serve(w http.ResponseWriter, r *http.Request) {
	rec, err := h.record(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if mux.Vars(r)["filename"] != rec.Filename() {
		h.fail(w, media.ErrNotFound)
		return
	}

	req := events.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		req.UserID = p.UserID
	}

	rec, body, size, err := h.manager.Serve(r.Context(), rec.ID, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", media.ContentType(rec.Filename()))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rec.Filename()}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("client went away during serve", zap.Int64("media_id", rec.ID), zap.Error(err))
	}
}

func (h *handler) record(r *http.Request) (*models.Media, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return nil, media.ErrNotFound
	}
	return h.manager.Get(r.Context(), id)
}

func intParam(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
