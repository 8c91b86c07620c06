package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nguyen2715-hue/web/internal/batch"
	"github.com/nguyen2715-hue/web/internal/domain"
	"github.com/nguyen2715-hue/web/internal/domain/jsoncfg"
	"github.com/nguyen2715-hue/web/internal/storage"
	"github.com/nguyen2715-hue/web/pkg/zip"
)

type createBatchRequest struct {
	Outline        jsoncfg.Outline `json:"outline"`
	ModelImages    []string        `json:"model_images" validate:"max=10,dive,required"`
	ProductImages  []string        `json:"product_images" validate:"max=10,dive,required"`
	AspectRatio    string          `json:"aspect_ratio" validate:"omitempty,oneof=9:16 16:9 1:1 4:5 3:4 4:3"`
	TimeoutSeconds int             `json:"timeout_seconds" validate:"omitempty,min=10,max=600"`
}

type createBatchResponse struct {
	ID    string       `json:"id"`
	Items []batch.Item `json:"items"`
}

// CreateBatch expands an outline into items and starts a background run.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.validationError(w, r, err)
		return
	}
	req.Outline.Normalize()
	if err := req.Outline.Validate(); err != nil {
		a.error(w, r, http.StatusUnprocessableEntity, "invalid_outline", err.Error())
		return
	}

	aspect := a.DefaultAspect
	if req.AspectRatio != "" {
		aspect = domain.NormalizeAspectRatio(req.AspectRatio)
	}
	timeout := a.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	models, err := a.resolveReferences(req.ModelImages)
	if err != nil {
		a.error(w, r, http.StatusUnprocessableEntity, "invalid_reference", err.Error())
		return
	}
	products, err := a.resolveReferences(req.ProductImages)
	if err != nil {
		a.error(w, r, http.StatusUnprocessableEntity, "invalid_reference", err.Error())
		return
	}

	items := req.Outline.Items(jsoncfg.ItemOptions{
		ModelImages:   models,
		ProductImages: products,
		AspectRatio:   aspect,
		Timeout:       timeout,
	})

	id, err := a.Runner.Start(items)
	if errors.Is(err, batch.ErrRunAlreadyActive) {
		a.error(w, r, http.StatusConflict, "run_active", "a batch is already running")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("start batch")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to start batch")
		return
	}
	a.Logger.Info().Str("run_id", id).Int("items", len(items)).Msg("batch submitted")
	a.json(w, http.StatusAccepted, createBatchResponse{ID: id, Items: items})
}

// resolveReferences confines reference image paths to ReferenceDir.
func (a *App) resolveReferences(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		path, err := storage.ResolveWithin(a.ReferenceDir, name)
		if err != nil {
			return nil, fmt.Errorf("reference image %q is not available", name)
		}
		out = append(out, path)
	}
	return out, nil
}

func (a *App) validationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		a.error(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	a.json(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: "request failed validation", Fields: fields})
}

// CurrentBatch returns the latest run's snapshot.
func (a *App) CurrentBatch(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.Runner.Current()
	if !ok {
		a.error(w, r, http.StatusNotFound, "not_found", "no batch has been started")
		return
	}
	a.json(w, http.StatusOK, snap)
}

type eventsResponse struct {
	Events  []batch.Event `json:"events"`
	LastSeq int64         `json:"last_seq"`
}

// BatchEvents returns events after ?since=N for incremental polling.
func (a *App) BatchEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			a.error(w, r, http.StatusBadRequest, "bad_request", "since must be a non-negative integer")
			return
		}
		since = v
	}
	events := a.Runner.Events(since)
	last := since
	if n := len(events); n > 0 {
		last = events[n-1].Seq
	}
	a.json(w, http.StatusOK, eventsResponse{Events: events, LastSeq: last})
}

// CancelBatch asks the active run to stop before its next item.
func (a *App) CancelBatch(w http.ResponseWriter, r *http.Request) {
	if err := a.Runner.Cancel(); err != nil {
		if errors.Is(err, batch.ErrNoActiveRun) {
			a.error(w, r, http.StatusConflict, "no_active_run", "no batch is running")
			return
		}
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to cancel batch")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// BatchArchive streams every persisted image of the latest run as a zip.
func (a *App) BatchArchive(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.Runner.Current()
	if !ok {
		a.error(w, r, http.StatusNotFound, "not_found", "no batch has been started")
		return
	}
	if a.Images == nil {
		a.error(w, r, http.StatusNotFound, "not_found", "image storage is not configured")
		return
	}
	var assets []zip.Asset
	for _, res := range a.Runner.Results() {
		if !res.Succeeded() || res.StorageKey == "" {
			continue
		}
		data, err := a.Images.Read(r.Context(), res.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", res.StorageKey).Msg("archive: skip unreadable image")
			continue
		}
		assets = append(assets, zip.Asset{Filename: res.StorageKey, Data: data})
	}
	if len(assets) == 0 {
		a.error(w, r, http.StatusNotFound, "not_found", "no finished images yet")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.zip"`, snap.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.WriteArchive(w, assets, time.Now().UTC()); err != nil {
		a.Logger.Error().Err(err).Str("run_id", snap.ID).Msg("archive: write failed")
	}
}
