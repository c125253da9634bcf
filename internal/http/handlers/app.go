package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"charactercam/server/internal/domain"
)

// App bundles the dependencies shared by the HTTP handlers.
type App struct {
	Store          domain.GenerationStore
	Logger         zerolog.Logger
	StorageBaseURL string

	validate *validator.Validate
}

func NewApp(store domain.GenerationStore, logger zerolog.Logger, storageBaseURL string) *App {
	return &App{
		Store:          store,
		Logger:         logger,
		StorageBaseURL: storageBaseURL,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
