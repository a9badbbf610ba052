package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/metrics"
	"github.com/hpungsan/baton/internal/ops"
	"github.com/hpungsan/baton/internal/store"
)

func setupTest(t *testing.T) (*Handlers, http.Handler) {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	s, err := store.Open(filepath.Join(base, "outputs"), database)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	h, err := newHandlers(Deps{Store: s, Config: config.DefaultConfig()}, "test")
	if err != nil {
		t.Fatalf("newHandlers: %v", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		t.Fatalf("static sub-FS: %v", err)
	}
	return h, h.routes(staticSub, metrics.New())
}

// seedFolder publishes a folder with the given files and returns its ID.
func seedFolder(t *testing.T, h *Handlers, files map[string]string, m store.Manifest) string {
	t.Helper()
	ctx := context.Background()

	id, err := h.store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var out []store.File
	for name, body := range files {
		out = append(out, store.File{Path: name, Data: []byte(body)})
	}
	if err := h.store.WriteFiles(ctx, id, out); err != nil {
		t.Fatalf("write files: %v", err)
	}
	if m.Status == "" {
		m.Status = store.StatusSucceeded
	}
	if m.Command == "" {
		m.Command = "step"
	}
	if _, err := h.store.Finalize(ctx, id, m); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return id
}

func get(t *testing.T, router http.Handler, target string, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h, router := setupTest(t)
	seedFolder(t, h, map[string]string{"plan.md": "# Plan"}, store.Manifest{Command: "Draft the migration plan"})

	rec := get(t, router, "/folders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Draft the migration plan") {
		t.Error("expected command in response")
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
}

func TestHandleList_Empty(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No folders yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_StatusFilterAndJSON(t *testing.T) {
	h, router := setupTest(t)
	seedFolder(t, h, nil, store.Manifest{Command: "ok step"})
	failed := seedFolder(t, h, nil, store.Manifest{
		Command: "broken step",
		Status:  store.StatusFailed,
		Error:   &store.ErrorInfo{Code: "ASSISTANT_FAILED", Message: "exit status 1"},
	})

	rec := get(t, router, "/folders?status=failed", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var out ops.ListOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != failed {
		t.Fatalf("items = %+v, want only %s", out.Items, failed)
	}
	if out.Pagination.Total != 1 {
		t.Errorf("total = %d, want 1", out.Pagination.Total)
	}
}

func TestHandleList_InvalidStatus(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders?status=bogus&format=json", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", resp.Error.Code)
	}
}

func TestHandleList_InvalidLimitFallsBack(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders?limit=notanumber&offset=bad", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// --- HandleLatest ---

func TestHandleLatest_Redirects(t *testing.T) {
	h, router := setupTest(t)
	seedFolder(t, h, nil, store.Manifest{})
	newest := seedFolder(t, h, nil, store.Manifest{})

	rec := get(t, router, "/folders/latest", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/folders/"+newest {
		t.Errorf("Location = %q, want /folders/%s", loc, newest)
	}
}

func TestHandleLatest_EmptyStore(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders/latest", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected error page")
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h, router := setupTest(t)
	first := seedFolder(t, h, nil, store.Manifest{Command: "first step"})
	second := seedFolder(t, h, map[string]string{
		"review.md":        "# Review",
		store.ResponseName: "All checks passed.",
	}, store.Manifest{Command: "second step", PreviousID: first})
	third := seedFolder(t, h, nil, store.Manifest{Command: "third step", PreviousID: second})

	rec := get(t, router, "/folders/"+second, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"second step",
		"/folders/" + second + "/files/review.md",
		"All checks passed.",
		"/folders/" + first,
		"/folders/" + third,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in detail page", want)
		}
	}
}

func TestHandleDetail_JSON(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, map[string]string{"a.txt": "a"}, store.Manifest{Command: "json step"})

	rec := get(t, router, "/folders/"+id, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.ShowOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Manifest == nil || out.Manifest.ID != id || out.Manifest.Command != "json step" {
		t.Errorf("manifest = %+v", out.Manifest)
	}
}

func TestHandleDetail_ShowsRecordedError(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, nil, store.Manifest{
		Status: store.StatusTurnLimit,
		Error:  &store.ErrorInfo{Code: "TURN_LIMIT", Message: "stopped after 3 turns"},
	})

	rec := get(t, router, "/folders/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stopped after 3 turns") {
		t.Error("expected recorded error message")
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders/01ARZ3NDEKTSV4RRFFQ69G5FAV", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDetail_InvalidID(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/folders/not-a-folder", "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- HandleFile ---

func TestHandleFile_MarkdownRendered(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, map[string]string{
		"docs/notes.md": "# Findings\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>\n",
	}, store.Manifest{})

	rec := get(t, router, "/folders/"+id+"/files/docs/notes.md", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Findings</h1>") {
		t.Error("expected rendered heading")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected rendered GFM table")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("raw HTML must not be passed through")
	}
}

func TestHandleFile_PlainText(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, map[string]string{"main.go": "package main\n\nfunc main() { _ = 1 < 2 }\n"}, store.Manifest{})

	rec := get(t, router, "/folders/"+id+"/files/main.go", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "_ = 1 &lt; 2") {
		t.Error("expected escaped file text")
	}
}

func TestHandleFile_Binary(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, map[string]string{"image.png": "\x89PNG\r\n\x1a\n\xff\xfe"}, store.Manifest{})

	rec := get(t, router, "/folders/"+id+"/files/image.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Binary file not shown") {
		t.Error("expected binary placeholder")
	}

	raw := get(t, router, "/folders/"+id+"/files/image.png?raw=1", "")
	if ct := raw.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("raw Content-Type = %q, want application/octet-stream", ct)
	}
	if raw.Body.String() != "\x89PNG\r\n\x1a\n\xff\xfe" {
		t.Error("raw download should return the file bytes")
	}
}

func TestHandleFile_NotFound(t *testing.T) {
	h, router := setupTest(t)
	id := seedFolder(t, h, map[string]string{"a.txt": "a"}, store.Manifest{})

	rec := get(t, router, "/folders/"+id+"/files/missing.txt", "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// --- Router ---

func TestRoutes_RootRedirects(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/folders" {
		t.Fatalf("got %d %q, want 302 /folders", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRoutes_Healthz(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRoutes_Metrics(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "baton_invocations_in_flight") {
		t.Error("expected baton collectors in exposition")
	}
}

func TestRoutes_Static(t *testing.T) {
	_, router := setupTest(t)

	rec := get(t, router, "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, router := setupTest(t)

	rec := httptest.NewRecorder()
	securityHeaders(router).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options: DENY")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
}

// --- Helpers ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-1", -1},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/folders?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		1 << 20: "1.0 MiB",
	}
	for n, want := range tests {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("01ARZ3NDEKTSV4RRFFQ69G5FAV"); got != "...Q69G5FAV" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(short) = %q", got)
	}
}
