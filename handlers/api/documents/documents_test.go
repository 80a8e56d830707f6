package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"emojiart-server/background"
	"emojiart-server/emojiart"
	"emojiart-server/stores/memory"
	"emojiart-server/workspace"
)

type viewResponse struct {
	Revision   uint64          `json:"revision"`
	Document   json.RawMessage `json:"document"`
	FetchState struct {
		Status  string `json:"status"`
		Locator string `json:"locator"`
	} `json:"fetchState"`
	CanUndo   bool   `json:"canUndo"`
	CanRedo   bool   `json:"canRedo"`
	UndoLabel string `json:"undoLabel"`
	RedoLabel string `json:"redoLabel"`
	HasImage  bool   `json:"hasBackgroundImage"`
}

func (v viewResponse) document(t *testing.T) emojiart.Document {
	t.Helper()
	doc, err := emojiart.Decode(v.Document)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	return doc
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 3))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() failed: %v", err)
	}
	return buf.Bytes()
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	ws      *workspace.Workspace
}

func newTestServer(t *testing.T, fetcher background.Fetcher) *testServer {
	t.Helper()
	if fetcher == nil {
		fetcher = background.FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
			return nil, errors.New("offline")
		})
	}
	ws := workspace.New(memory.NewDocumentStore(), workspace.Config{Fetcher: fetcher})
	t.Cleanup(func() { ws.CloseAll(context.Background()) })

	r := chi.NewRouter()
	r.Route("/api/v1/documents", func(r chi.Router) {
		Register(r, ws, nil)
	})
	return &testServer{t: t, handler: r, ws: ws}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, "/api/v1/documents"+path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create() string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/", "")
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	var response DocumentCreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		s.t.Fatalf("Failed to decode response: %v", err)
	}
	return response.ID
}

func (s *testServer) state(id string) viewResponse {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/"+id+"/state", "")
	if rec.Code != http.StatusOK {
		s.t.Fatalf("state: status %d, body %s", rec.Code, rec.Body.String())
	}
	var v viewResponse
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		s.t.Fatalf("Failed to decode view: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Status code mismatch: got %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestHandleCreate_Blank(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()

	rec := s.do(http.MethodGet, "/"+id, "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
	doc, err := emojiart.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if !doc.Equal(emojiart.New()) {
		t.Errorf("new document = %v, want blank", doc)
	}
}

func TestHandleCreate_FromSnapshot(t *testing.T) {
	s := newTestServer(t, nil)
	snapshot := `{"background":{},"emojis":[{"id":4,"text":"\ud83d\ude00","x":1,"y":2,"size":30}]}`

	rec := s.do(http.MethodPost, "/", snapshot)
	expectStatus(t, rec, http.StatusCreated)
	var response DocumentCreateResponse
	json.NewDecoder(rec.Body).Decode(&response)

	doc := s.state(response.ID).document(t)
	if doc.Len() != 1 || doc.NextID() != 5 {
		t.Errorf("document = %v, want one glyph and next id 5", doc)
	}
}

func TestHandleCreate_InvalidSnapshot(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/", `{"elements":[],"appState":{}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestHandleGet_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/nonexistent", "")
	expectStatus(t, rec, http.StatusNotFound)
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Errorf("Error message mismatch: got %q", rec.Body.String())
	}
}

func TestGlyphLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()

	rec := s.do(http.MethodPost, "/"+id+"/glyphs", `{"text":"\ud83d\ude00","x":10,"y":20,"size":40}`)
	expectStatus(t, rec, http.StatusCreated)
	var added AddGlyphResponse
	if err := json.NewDecoder(rec.Body).Decode(&added); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if added.ID != 1 || added.Revision != 1 {
		t.Errorf("added = %+v, want id 1 at revision 1", added)
	}
	glyph := "/" + id + "/glyphs/1"

	expectStatus(t, s.do(http.MethodPost, glyph+"/move", `{"dx":5,"dy":-5}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, glyph+"/scale", `{"factor":1.5}`), http.StatusOK)

	v := s.state(id)
	g, ok := v.document(t).Glyph(1)
	if !ok || g.X != 15 || g.Y != 15 || g.Size != 60 {
		t.Errorf("glyph = %+v, %v", g, ok)
	}
	if !v.CanUndo || v.UndoLabel != "Scale" {
		t.Errorf("undo = %v %q, want Scale", v.CanUndo, v.UndoLabel)
	}

	expectStatus(t, s.do(http.MethodDelete, glyph, ""), http.StatusOK)
	if s.state(id).document(t).Len() != 0 {
		t.Error("glyph still present after delete")
	}
}

func TestAddGlyph_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()

	tests := []struct {
		name string
		body string
	}{
		{"not emoji", `{"text":"a","x":0,"y":0,"size":10}`},
		{"two emoji", `{"text":"\ud83d\ude00\ud83d\ude00","x":0,"y":0,"size":10}`},
		{"zero size", `{"text":"\ud83d\ude00","x":0,"y":0,"size":0}`},
		{"bad json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s.do(http.MethodPost, "/"+id+"/glyphs", tt.body), http.StatusBadRequest)
		})
	}
	if s.state(id).Revision != 0 {
		t.Error("rejected glyphs changed the document")
	}
}

func TestInvalidGlyphID(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()
	expectStatus(t, s.do(http.MethodDelete, "/"+id+"/glyphs/abc", ""), http.StatusBadRequest)
}

func TestUndoRedo(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()
	s.do(http.MethodPost, "/"+id+"/glyphs", `{"text":"\u2764","x":0,"y":0,"size":12}`)

	rec := s.do(http.MethodPost, "/"+id+"/undo", "")
	expectStatus(t, rec, http.StatusOK)
	var undone struct {
		Applied bool         `json:"applied"`
		View    viewResponse `json:"view"`
	}
	json.NewDecoder(rec.Body).Decode(&undone)
	if !undone.Applied || undone.View.document(t).Len() != 0 || !undone.View.CanRedo {
		t.Errorf("undo = %+v", undone)
	}

	rec = s.do(http.MethodPost, "/"+id+"/undo", "")
	expectStatus(t, rec, http.StatusOK)
	json.NewDecoder(rec.Body).Decode(&undone)
	if undone.Applied {
		t.Error("undo with empty history reported applied")
	}

	expectStatus(t, s.do(http.MethodPost, "/"+id+"/redo", ""), http.StatusOK)
	if s.state(id).document(t).Len() != 1 {
		t.Error("redo did not restore the glyph")
	}
}

func TestUndoableFalse(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()

	rec := s.do(http.MethodPost, "/"+id+"/glyphs?undoable=false", `{"text":"\u2764","x":0,"y":0,"size":12}`)
	expectStatus(t, rec, http.StatusCreated)
	v := s.state(id)
	if v.CanUndo || v.document(t).Len() != 1 {
		t.Errorf("state = %+v, want glyph without undo entry", v)
	}

	expectStatus(t, s.do(http.MethodPost, "/"+id+"/glyphs?undoable=maybe", `{"text":"\u2764","x":0,"y":0,"size":12}`), http.StatusBadRequest)
}

func TestSetBackground_ImageData(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()
	data := pngBytes(t)
	body, _ := json.Marshal(BackgroundRequest{ImageData: data})

	expectStatus(t, s.do(http.MethodPut, "/"+id+"/background", string(body)), http.StatusOK)
	v := s.state(id)
	if !v.HasImage || v.FetchState.Status != "idle" {
		t.Errorf("state = %+v, want idle with image", v)
	}

	rec := s.do(http.MethodGet, "/"+id+"/background/image", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("served image differs from the uploaded bytes")
	}

	expectStatus(t, s.do(http.MethodPut, "/"+id+"/background", `{}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/"+id+"/background/image", ""), http.StatusNotFound)
}

func TestSetBackground_Remote(t *testing.T) {
	data := pngBytes(t)
	release := make(chan struct{})
	fetcher := background.FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if locator != "https://example.com/bg.png" {
			return nil, errors.New("unexpected locator " + locator)
		}
		return data, nil
	})
	s := newTestServer(t, fetcher)
	id := s.create()

	expectStatus(t, s.do(http.MethodPut, "/"+id+"/background", `{"url":"https://example.com/bg.png"}`), http.StatusOK)
	v := s.state(id)
	if v.FetchState.Status != "fetching" || v.FetchState.Locator != "https://example.com/bg.png" {
		t.Errorf("FetchState = %+v, want fetching", v.FetchState)
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for !s.state(id).HasImage {
		if time.Now().After(deadline) {
			t.Fatal("background image never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.state(id).FetchState.Status; got != "idle" {
		t.Errorf("status = %q, want idle", got)
	}
}

func TestSetBackground_Conflict(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()
	expectStatus(t, s.do(http.MethodPut, "/"+id+"/background", `{"url":"https://a","imageData":"AAEC"}`), http.StatusBadRequest)
}

func TestLoadAndSave(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.create()
	s.do(http.MethodPost, "/"+id+"/glyphs", `{"text":"\u2764","x":0,"y":0,"size":12}`)

	snapshot := `{"background":{"url":"https://example.com/x.png"},"emojis":[]}`
	expectStatus(t, s.do(http.MethodPut, "/"+id, snapshot), http.StatusOK)
	v := s.state(id)
	if v.CanUndo || v.document(t).Len() != 0 {
		t.Errorf("state after load = %+v", v)
	}
	expectStatus(t, s.do(http.MethodPut, "/"+id, "garbage"), http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodPost, "/"+id+"/save", ""), http.StatusNoContent)
	stored, err := s.ws.Store().FindID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	doc, err := emojiart.Decode(stored.Data.Bytes())
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if doc.Background().Locator() != "https://example.com/x.png" {
		t.Errorf("saved background = %v", doc.Background())
	}

	expectStatus(t, s.do(http.MethodPost, "/missing/save", ""), http.StatusNotFound)
}

func TestRegister_Guard(t *testing.T) {
	ws := workspace.New(memory.NewDocumentStore(), workspace.Config{})
	t.Cleanup(func() { ws.CloseAll(context.Background()) })
	id, _ := ws.Create(context.Background(), nil)

	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	r := chi.NewRouter()
	Register(r, ws, deny)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/" + id, http.StatusOK},
		{http.MethodGet, "/" + id + "/state", http.StatusOK},
		{http.MethodPost, "/", http.StatusUnauthorized},
		{http.MethodPost, "/" + id + "/undo", http.StatusUnauthorized},
		{http.MethodPut, "/" + id + "/background", http.StatusUnauthorized},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, http.NoBody))
		if rec.Code != tc.want {
			t.Errorf("%s %s: got %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
