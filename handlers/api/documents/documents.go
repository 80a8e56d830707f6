package documents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
	"emojiart-server/editor"
	"emojiart-server/emojiart"
)

type (
	// Workspace gives handlers access to live editors.
	Workspace interface {
		Create(ctx context.Context, data []byte) (string, error)
		Open(ctx context.Context, id string) (*editor.Editor, error)
		Save(ctx context.Context, id string) error
	}

	DocumentCreateResponse struct {
		ID string `json:"id"`
	}

	AddGlyphRequest struct {
		Text string `json:"text"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
		Size int    `json:"size"`
	}

	AddGlyphResponse struct {
		ID       int    `json:"id"`
		Revision uint64 `json:"revision"`
	}

	MoveGlyphRequest struct {
		DX int `json:"dx"`
		DY int `json:"dy"`
	}

	ScaleGlyphRequest struct {
		Factor float64 `json:"factor"`
	}

	// BackgroundRequest selects a blank background when both fields are
	// empty. ImageData is base64 encoded in JSON.
	BackgroundRequest struct {
		URL       string `json:"url,omitempty"`
		ImageData []byte `json:"imageData,omitempty"`
	}

	HistoryResponse struct {
		Applied bool        `json:"applied"`
		View    editor.View `json:"view"`
	}
)

func HandleCreate(ws Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to read request body")
			writeError(w, r, http.StatusInternalServerError, "Failed to read request body")
			return
		}

		id, err := ws.Create(r.Context(), data)
		if err != nil {
			respondError(w, r, err, "Failed to save")
			return
		}

		logrus.WithField("document_id", id).Info("Document created successfully")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

// HandleGet returns the current snapshot of a document.
func HandleGet(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		data, err := ed.Snapshot()
		if err != nil {
			respondError(w, r, err, "Failed to encode document")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}

// HandleLoad replaces a document with the snapshot in the request body.
func HandleLoad(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := ed.Load(data); err != nil {
			respondError(w, r, err, "Failed to load document")
			return
		}
		render.JSON(w, r, ed.View())
	})
}

func HandleState(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		render.JSON(w, r, ed.View())
	})
}

func HandleAddGlyph(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		undoable, ok := undoableParam(w, r)
		if !ok {
			return
		}
		var req AddGlyphRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		id, err := ed.AddGlyph(req.Text, req.X, req.Y, req.Size, undoable)
		if err != nil {
			respondError(w, r, err, "Failed to add glyph")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, AddGlyphResponse{ID: id, Revision: ed.Revision()})
	})
}

func HandleRemoveGlyph(ws Workspace) http.HandlerFunc {
	return withGlyph(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor, glyphID int, undoable bool) {
		if err := ed.RemoveGlyph(glyphID, undoable); err != nil {
			respondError(w, r, err, "Failed to remove glyph")
			return
		}
		render.JSON(w, r, ed.View())
	})
}

func HandleMoveGlyph(ws Workspace) http.HandlerFunc {
	return withGlyph(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor, glyphID int, undoable bool) {
		var req MoveGlyphRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := ed.MoveGlyph(glyphID, req.DX, req.DY, undoable); err != nil {
			respondError(w, r, err, "Failed to move glyph")
			return
		}
		render.JSON(w, r, ed.View())
	})
}

func HandleScaleGlyph(ws Workspace) http.HandlerFunc {
	return withGlyph(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor, glyphID int, undoable bool) {
		var req ScaleGlyphRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := ed.ScaleGlyph(glyphID, req.Factor, undoable); err != nil {
			respondError(w, r, err, "Failed to scale glyph")
			return
		}
		render.JSON(w, r, ed.View())
	})
}

func HandleSetBackground(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		undoable, ok := undoableParam(w, r)
		if !ok {
			return
		}
		var req BackgroundRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		var bg emojiart.Background
		switch {
		case req.URL != "" && len(req.ImageData) > 0:
			writeError(w, r, http.StatusBadRequest, "Specify either url or imageData")
			return
		case req.URL != "":
			bg = emojiart.RemoteBackground(req.URL)
		case len(req.ImageData) > 0:
			bg = emojiart.ImageBackground(req.ImageData)
		default:
			bg = emojiart.BlankBackground()
		}

		if err := ed.SetBackground(bg, undoable); err != nil {
			respondError(w, r, err, "Failed to set background")
			return
		}
		render.JSON(w, r, ed.View())
	})
}

func HandleUndo(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		applied, err := ed.Undo()
		if err != nil {
			respondError(w, r, err, "Failed to undo")
			return
		}
		render.JSON(w, r, HistoryResponse{Applied: applied, View: ed.View()})
	})
}

func HandleRedo(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		applied, err := ed.Redo()
		if err != nil {
			respondError(w, r, err, "Failed to redo")
			return
		}
		render.JSON(w, r, HistoryResponse{Applied: applied, View: ed.View()})
	})
}

func HandleSave(ws Workspace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := ws.Open(r.Context(), id); err != nil {
			respondError(w, r, err, "Failed to open document")
			return
		}
		if err := ws.Save(r.Context(), id); err != nil {
			respondError(w, r, err, "Failed to save")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleBackgroundImage serves the decoded background's original bytes.
func HandleBackgroundImage(ws Workspace) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		img := ed.BackgroundImage()
		if img == nil {
			writeError(w, r, http.StatusNotFound, "Background image not available")
			return
		}
		w.Header().Set("Content-Type", "image/"+img.Format)
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Encoded)))
		w.Write(img.Encoded)
	})
}

func withEditor(ws Workspace, fn func(http.ResponseWriter, *http.Request, *editor.Editor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ed, err := ws.Open(r.Context(), id)
		if err != nil {
			respondError(w, r, err, "Failed to open document")
			return
		}
		fn(w, r, ed)
	}
}

func withGlyph(ws Workspace, fn func(http.ResponseWriter, *http.Request, *editor.Editor, int, bool)) http.HandlerFunc {
	return withEditor(ws, func(w http.ResponseWriter, r *http.Request, ed *editor.Editor) {
		glyphID, err := strconv.Atoi(chi.URLParam(r, "glyphId"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "Invalid glyph id")
			return
		}
		undoable, ok := undoableParam(w, r)
		if !ok {
			return
		}
		fn(w, r, ed, glyphID, undoable)
	})
}

// undoableParam reads the undoable query parameter, which defaults to true.
func undoableParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	v := r.URL.Query().Get("undoable")
	if v == "" {
		return true, true
	}
	undoable, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "undoable must be a boolean")
		return false, false
	}
	return undoable, true
}

func respondError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logrus.WithFields(logrus.Fields{
		"error":       err,
		"document_id": chi.URLParam(r, "id"),
	})

	switch {
	case errors.Is(err, core.ErrNotFound):
		log.Warn("Document with specified ID not found")
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, emojiart.ErrInvalidGlyph), errors.Is(err, emojiart.ErrDeserialization):
		log.Warn(msg)
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, editor.ErrClosed):
		log.Warn(msg)
		writeError(w, r, http.StatusServiceUnavailable, "Document is closing")
	default:
		log.Error(msg)
		writeError(w, r, http.StatusInternalServerError, msg)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// Register adds the document routes to r. Mutating routes are wrapped with
// guard when it is not nil.
func Register(r chi.Router, ws Workspace, guard func(http.Handler) http.Handler) {
	r.Get("/{id}", HandleGet(ws))
	r.Get("/{id}/state", HandleState(ws))
	r.Get("/{id}/background/image", HandleBackgroundImage(ws))

	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Post("/", HandleCreate(ws))
		r.Put("/{id}", HandleLoad(ws))
		r.Post("/{id}/glyphs", HandleAddGlyph(ws))
		r.Delete("/{id}/glyphs/{glyphId}", HandleRemoveGlyph(ws))
		r.Post("/{id}/glyphs/{glyphId}/move", HandleMoveGlyph(ws))
		r.Post("/{id}/glyphs/{glyphId}/scale", HandleScaleGlyph(ws))
		r.Put("/{id}/background", HandleSetBackground(ws))
		r.Post("/{id}/undo", HandleUndo(ws))
		r.Post("/{id}/redo", HandleRedo(ws))
		r.Post("/{id}/save", HandleSave(ws))
	})
}
