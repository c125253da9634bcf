package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"charactercam/server/internal/domain"
	"charactercam/server/internal/middleware"
)

type submitRequest struct {
	GenerationID      string `json:"generation_id"`
	VideoURL          string `json:"video_url" validate:"required,url"`
	CharacterImageURL string `json:"character_image_url" validate:"required,url"`
	CharacterName     string `json:"character_name"`
	SendEmail         bool   `json:"send_email"`
}

type generationItem struct {
	ID                string                `json:"id"`
	Status            domain.Status         `json:"status"`
	VideoURL          string                `json:"video_url"`
	CharacterName     string                `json:"character_name"`
	CharacterImageURL string                `json:"character_image_url"`
	ResultURL         string                `json:"result_url,omitempty"`
	ErrorMessage      string                `json:"error_message,omitempty"`
	Error             *domain.ErrorEnvelope `json:"error,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

// ReserveGeneration creates an uploading placeholder row so the client can
// attach asset URLs once its uploads finish.
// POST /v1/generations/reserve
func (a *App) ReserveGeneration(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	g := &domain.Generation{
		ID:     uuid.NewString(),
		UserID: session.UserID,
		Email:  session.Email,
		Status: domain.StatusUploading,
	}
	if err := a.Store.Create(r.Context(), g); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: failed to reserve generation")
		a.error(w, http.StatusInternalServerError, "could not create generation")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"success": true, "generation_id": g.ID})
}

// SubmitGeneration validates the submission and enqueues it for the worker.
// The response returns before any generation work happens.
// POST /v1/generations
func (a *App) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	id := req.GenerationID
	if id != "" {
		// Pre-reserved uploading row: verify ownership, then mark it ready.
		g, err := a.Store.Get(r.Context(), id)
		if err != nil || g.UserID != session.UserID {
			a.error(w, http.StatusNotFound, "generation not found")
			return
		}
		if g.Status != domain.StatusUploading {
			a.error(w, http.StatusConflict, "generation already submitted")
			return
		}
		if err := a.Store.MarkReady(r.Context(), id, req.VideoURL, req.CharacterImageURL, req.CharacterName, req.SendEmail); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				a.error(w, http.StatusNotFound, "generation not found")
			case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrInvalidInput):
				// Lost a race with a concurrent submit of the same
				// reservation; the row already moved past uploading.
				a.error(w, http.StatusConflict, "generation already submitted")
			default:
				a.Logger.Error().Err(err).Str("generation_id", id).Msg("handlers: failed to mark generation ready")
				a.error(w, http.StatusInternalServerError, "could not submit generation")
			}
			return
		}
	} else {
		id = uuid.NewString()
		g := &domain.Generation{
			ID:                id,
			UserID:            session.UserID,
			Email:             session.Email,
			VideoURL:          req.VideoURL,
			CharacterImageURL: req.CharacterImageURL,
			CharacterName:     req.CharacterName,
			SendEmail:         req.SendEmail,
			Status:            domain.StatusPending,
		}
		if err := a.Store.Create(r.Context(), g); err != nil {
			a.Logger.Error().Err(err).Msg("handlers: failed to create generation")
			a.error(w, http.StatusInternalServerError, "could not submit generation")
			return
		}
	}

	a.json(w, http.StatusAccepted, map[string]any{"success": true, "generation_id": id})
}

// ListGenerations returns the caller's generations, most recent first.
// GET /v1/generations
func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rows, err := a.Store.ListForOwner(r.Context(), session.UserID, 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: failed to list generations")
		a.error(w, http.StatusInternalServerError, "could not list generations")
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	items := make([]generationItem, 0, len(rows))
	for _, g := range rows {
		items = append(items, a.toItem(g, locale))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// DeleteGeneration removes the caller's generation. Deleting a row that is
// still running is how cancellation works; the worker notices the missing
// row at its next step boundary.
// DELETE /v1/generations/{id}
func (a *App) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "id required")
		return
	}

	removed, err := a.Store.Delete(r.Context(), id, session.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("handlers: failed to delete generation")
		a.error(w, http.StatusInternalServerError, "could not delete generation")
		return
	}
	if !removed {
		a.error(w, http.StatusNotFound, "generation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) toItem(g domain.Generation, locale string) generationItem {
	item := generationItem{
		ID:                g.ID,
		Status:            g.Status,
		VideoURL:          g.VideoURL,
		CharacterName:     g.CharacterName,
		CharacterImageURL: g.CharacterImageURL,
		Error:             g.Error,
		CreatedAt:         g.CreatedAt,
		CompletedAt:       g.CompletedAt,
	}
	if g.ResultKey != "" {
		item.ResultURL = strings.TrimRight(a.StorageBaseURL, "/") + "/" + strings.TrimLeft(g.ResultKey, "/")
	}
	if g.Error != nil {
		item.ErrorMessage = g.Error.UserMessage(locale)
	}
	return item
}

func validationMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "VideoURL"):
		return "video_url is required and must be a valid URL"
	case strings.Contains(msg, "CharacterImageURL"):
		return "character_image_url is required and must be a valid URL"
	default:
		return "invalid payload"
	}
}
