package checkpoints

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"emojiart-server/core"
	"emojiart-server/editor"
	"emojiart-server/middleware"
)

type (
	CreateCheckpointRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		CreatedBy   string `json:"created_by"`
	}

	CreateCheckpointResponse struct {
		ID string `json:"id"`
	}

	UpdateCheckpointRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	UpdateSettingsRequest struct {
		MaxCheckpoints int `json:"max_checkpoints"`
	}

	// Editors opens the live editor of a document.
	Editors interface {
		Open(ctx context.Context, id string) (*editor.Editor, error)
	}
)

// HandleCreateCheckpoint stores the document's current snapshot under a name
func HandleCreateCheckpoint(store core.CheckpointStore, editors Editors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		var req CreateCheckpointRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			logrus.WithField("error", err).Error("Failed to decode request")
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if claims := middleware.ClaimsFrom(r.Context()); claims != nil {
			req.CreatedBy = claims.Subject
		}

		ed, err := editors.Open(r.Context(), documentID)
		if err != nil {
			respondError(w, r, err, "Failed to open document")
			return
		}
		data, err := ed.Snapshot()
		if err != nil {
			respondError(w, r, err, "Failed to encode document")
			return
		}

		id, err := store.CreateCheckpoint(r.Context(), documentID, req.Name, req.Description, req.CreatedBy, data)
		if err != nil {
			respondError(w, r, err, "Failed to create checkpoint")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateCheckpointResponse{ID: id})
	}
}

// HandleListCheckpoints lists a document's checkpoints, newest first
func HandleListCheckpoints(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		checkpoints, err := store.ListCheckpoints(r.Context(), documentID)
		if err != nil {
			respondError(w, r, err, "Failed to list checkpoints")
			return
		}

		if checkpoints == nil {
			checkpoints = []core.Checkpoint{}
		}

		render.JSON(w, r, checkpoints)
	}
}

func HandleGetCheckpoint(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkpoint, err := store.GetCheckpoint(r.Context(), chi.URLParam(r, "checkpointId"))
		if err != nil {
			respondError(w, r, err, "Failed to get checkpoint")
			return
		}

		render.JSON(w, r, checkpoint)
	}
}

func HandleDeleteCheckpoint(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DeleteCheckpoint(r.Context(), chi.URLParam(r, "checkpointId"))
		if err != nil {
			respondError(w, r, err, "Failed to delete checkpoint")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUpdateCheckpoint renames a checkpoint
func HandleUpdateCheckpoint(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateCheckpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		err := store.UpdateCheckpointMetadata(r.Context(), chi.URLParam(r, "checkpointId"), req.Name, req.Description)
		if err != nil {
			respondError(w, r, err, "Failed to update checkpoint")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreCheckpoint loads a checkpoint into its document's editor,
// clearing the undo history.
func HandleRestoreCheckpoint(store core.CheckpointStore, editors Editors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkpoint, err := store.GetCheckpoint(r.Context(), chi.URLParam(r, "checkpointId"))
		if err != nil {
			respondError(w, r, err, "Failed to get checkpoint")
			return
		}

		ed, err := editors.Open(r.Context(), checkpoint.DocumentID)
		if err != nil {
			respondError(w, r, err, "Failed to open document")
			return
		}
		if err := ed.Load(checkpoint.Data); err != nil {
			respondError(w, r, err, "Failed to restore checkpoint")
			return
		}

		logrus.WithFields(logrus.Fields{
			"checkpoint_id": checkpoint.ID,
			"document_id":   checkpoint.DocumentID,
		}).Info("Checkpoint restored successfully")
		render.JSON(w, r, ed.View())
	}
}

func HandleGetSettings(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := store.GetCheckpointSettings(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, err, "Failed to get checkpoint settings")
			return
		}

		render.JSON(w, r, settings)
	}
}

func HandleUpdateSettings(store core.CheckpointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			writeError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.MaxCheckpoints < 1 {
			req.MaxCheckpoints = core.DefaultMaxCheckpoints
		}

		err := store.UpdateCheckpointSettings(r.Context(), chi.URLParam(r, "id"), req.MaxCheckpoints)
		if err != nil {
			respondError(w, r, err, "Failed to update checkpoint settings")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Register adds the checkpoint routes to r, which is expected to be mounted
// at the documents prefix.
func Register(r chi.Router, store core.CheckpointStore, editors Editors, guard func(http.Handler) http.Handler) {
	r.Get("/{id}/checkpoints", HandleListCheckpoints(store))
	r.Get("/{id}/checkpoints/settings", HandleGetSettings(store))
	r.Get("/checkpoints/{checkpointId}", HandleGetCheckpoint(store))

	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Post("/{id}/checkpoints", HandleCreateCheckpoint(store, editors))
		r.Put("/{id}/checkpoints/settings", HandleUpdateSettings(store))
		r.Put("/checkpoints/{checkpointId}", HandleUpdateCheckpoint(store))
		r.Delete("/checkpoints/{checkpointId}", HandleDeleteCheckpoint(store))
		r.Post("/checkpoints/{checkpointId}/restore", HandleRestoreCheckpoint(store, editors))
	})
}

func respondError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logrus.WithField("error", err)
	switch {
	case errors.Is(err, core.ErrNotFound):
		log.Warn(msg)
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		log.Error(msg)
		writeError(w, r, http.StatusInternalServerError, msg)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
