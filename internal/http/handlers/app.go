// Package handlers implements the batch-control HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/infra"
	"github.com/nguyen2715-hue/web/internal/middleware"
)

// BatchRunner is the subset of batch.Runner the API drives.
type BatchRunner interface {
	Start(items []batch.Item) (string, error)
	Cancel() error
	Current() (batch.Snapshot, bool)
	Active() bool
	Events(since int64) []batch.Event
	Results() []batch.ItemResult
}

// ImageReader loads persisted images for the archive download.
type ImageReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

type App struct {
	Runner         BatchRunner
	Images         ImageReader
	Credentials    domain.CredentialPool
	Logger         *infra.Logger
	DefaultAspect  domain.AspectRatio
	DefaultTimeout time.Duration
	// ReferenceDir bounds model and product image paths. Empty rejects
	// every reference image.
	ReferenceDir string

	validate *validator.Validate
}

func NewApp(runner BatchRunner, images ImageReader, creds domain.CredentialPool, logger *infra.Logger) *App {
	return &App{
		Runner:         runner,
		Images:         images,
		Credentials:    creds,
		Logger:         infra.LoggerOrDiscard(logger),
		DefaultAspect:  domain.AspectPortrait,
		DefaultTimeout: 2 * time.Minute,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

type errorBody struct {
	Error     string   `json:"error"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message, RequestID: middleware.RequestIDFromContext(r.Context())})
}
