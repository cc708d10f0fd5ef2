package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/job"
)

// Handlers contains the HTTP handlers for the watermark API.
type Handlers struct {
	service            *job.Service
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	defaultPlacement   geometry.Placement
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing. When
// disabled, CreateWatermark only creates the job and returns without
// starting the pipeline; tests use this to control execution.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithDefaultPlacement sets the placement used when a request omits one.
func WithDefaultPlacement(p geometry.Placement) HandlerOption {
	return func(h *Handlers) {
		h.defaultPlacement = p
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateWatermark handles POST /watermarks requests.
func (h *Handlers) CreateWatermark(w http.ResponseWriter, r *http.Request) {
	var req CreateWatermarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	placement := geometry.Placement(req.Placement)
	if placement == "" {
		placement = h.defaultPlacement
	}

	input := job.CreateInput{
		VideoPath:   req.VideoPath,
		ImagePath:   req.ImagePath,
		OutputPath:  req.OutputPath,
		Placement:   placement,
		MaxFraction: req.MaxFraction,
		Publish:     req.Publish,
	}

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Run the pipeline in the background with a detached context so the
	// job keeps running after the request ends.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if _, processErr := h.service.Process(ctx, jobID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("watermark job accepted",
		slog.String("job_id", created.ID),
		slog.String("output", req.OutputPath),
	)

	writeJSON(w, http.StatusAccepted, CreateWatermarkResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetWatermark handles GET /watermarks/{id} requests.
func (h *Handlers) GetWatermark(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, WatermarkResponse{
		ID:           found.ID,
		Status:       string(found.Status),
		OutputPath:   found.FinalPath,
		PublishedURL: found.PublishedURL,
		FailedStep:   found.FailedStep,
		Error:        found.Error,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
