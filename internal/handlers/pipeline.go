package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/otcheredev/ris-dicom-renderer/internal/models"
	"github.com/otcheredev/ris-dicom-renderer/internal/pipeline"
	"github.com/otcheredev/ris-dicom-renderer/internal/series"
	"github.com/otcheredev/ris-dicom-renderer/internal/store"
	"github.com/rs/zerolog/log"
)

// PipelineService is the part of the pipeline the admin API drives
type PipelineService interface {
	Reprocess(ctx context.Context, instances []models.InstanceFile) (int, error)
	Discover(ctx context.Context, d models.SeriesDescriptor) error
	Tracked() []series.Snapshot
	Stats(ctx context.Context) pipeline.Stats
}

type PipelineHandler struct {
	pipeline PipelineService
	files    store.FileStore
}

func NewPipelineHandler(p PipelineService, files store.FileStore) *PipelineHandler {
	return &PipelineHandler{
		pipeline: p,
		files:    files,
	}
}

type reprocessRequest struct {
	Instances []models.InstanceFile `json:"instances"`
}

type reprocessResponse struct {
	Requested int      `json:"requested"`
	Queued    int      `json:"queued"`
	Errors    []string `json:"errors,omitempty"`
}

// Reprocess force-queues the given instances
func (h *PipelineHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Instances) == 0 {
		http.Error(w, "No instances given", http.StatusBadRequest)
		return
	}

	queued, err := h.pipeline.Reprocess(r.Context(), req.Instances)
	resp := reprocessResponse{Requested: len(req.Instances), Queued: queued}
	if err != nil {
		log.Warn().Err(err).Int("queued", queued).Msg("Reprocess partially failed")
		resp.Errors = splitErrors(err)
	}

	status := http.StatusAccepted
	if queued == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// DiscoverSeries offers a series descriptor to the watcher
func (h *PipelineHandler) DiscoverSeries(w http.ResponseWriter, r *http.Request) {
	var desc models.SeriesDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.pipeline.Discover(r.Context(), desc); err != nil {
		if errors.Is(err, series.ErrNoInstances) || desc.SeriesUID == "" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("series_uid", desc.SeriesUID).Msg("Failed to queue series")
		http.Error(w, "Failed to queue series", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, desc)
}

// ListSeries returns the tracked series
func (h *PipelineHandler) ListSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Tracked())
}

// GetFile returns the status row of one output path
func (h *PipelineHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}

	rec, err := h.files.GetFile(r.Context(), path)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to get file record")
		http.Error(w, "Failed to get file record", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Stats returns queue and pool counters
func (h *PipelineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Stats(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
