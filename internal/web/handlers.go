package web

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/ops"
	"github.com/hpungsan/baton/internal/store"
)

// Handlers contains HTTP route handlers for the inspector.
type Handlers struct {
	store    *store.Store
	cfg      *config.Config
	renderer *Renderer
	logger   *zap.Logger
}

var statuses = []store.Status{store.StatusSucceeded, store.StatusFailed, store.StatusTurnLimit, store.StatusCancelled}

// HandleList handles GET /folders: folders newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	input := ops.ListInput{
		Status:     r.URL.Query().Get("status"),
		PreviousID: r.URL.Query().Get("previous_id"),
		Limit:      parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:     parseIntParam(r, "offset", 0),
	}

	result, err := ops.List(r.Context(), h.store, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Folders",
			Version: h.renderer.version,
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Status:     input.Status,
		PreviousID: input.PreviousID,
		Statuses:   statuses,
	})
}

// HandleLatest handles GET /folders/latest by redirecting to the newest folder.
func (h *Handlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Latest(r.Context(), h.store, ops.LatestInput{Status: r.URL.Query().Get("status")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if result.Item == nil {
		h.renderer.renderError(w, r, errors.NewNotFound("latest folder"))
		return
	}
	http.Redirect(w, r, "/folders/"+result.Item.ID, http.StatusFound)
}

// HandleDetail handles GET /folders/{id}: manifest, files, response and lineage.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	shown, err := ops.Show(r.Context(), h.store, ops.ShowInput{ID: id, IncludeResponse: true})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, shown)
		return
	}

	lineage, err := ops.Lineage(r.Context(), h.store, ops.LineageInput{ID: id, MaxDepth: 20})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	children, err := ops.List(r.Context(), h.store, ops.ListInput{PreviousID: id, Limit: ops.MaxListLimit})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// The first lineage item is the folder itself.
	var ancestors []db.Folder
	if len(lineage.Items) > 1 {
		ancestors = lineage.Items[1:]
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   "Folder " + id,
			Version: h.renderer.version,
		},
		Manifest:  shown.Manifest,
		Path:      shown.Path,
		Response:  shown.Response,
		Truncated: shown.ResponseTruncated,
		Lineage:   ancestors,
		Children:  children.Items,
	})
}

// HandleFile handles GET /folders/{id}/files/*: one file, with markdown rendered.
func (h *Handlers) HandleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || name == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("file path is required"))
		return
	}

	data, truncated, err := h.store.ReadFile(r.Context(), id, name, ops.DefaultReadLimit)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !utf8.Valid(data) {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(path.Base(name)))
		_, _ = w.Write(data)
		return
	}

	page := FilePageData{
		PageData: PageData{
			Title:   name,
			Version: h.renderer.version,
		},
		FolderID:  id,
		File:      name,
		Size:      int64(len(data)),
		Truncated: truncated,
	}
	switch {
	case !utf8.Valid(data):
		page.Binary = true
	case isMarkdown(name):
		page.Markdown = true
		page.RenderedHTML = renderMarkdown(string(data))
	default:
		page.Text = string(data)
	}

	h.renderer.renderPage(w, "file", page)
}

func isMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
