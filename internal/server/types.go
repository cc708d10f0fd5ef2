// Package server provides the HTTP surface of the watermark service:
// handlers, middleware, routes and DTOs separated from domain types.
package server

// CreateWatermarkRequest is the HTTP request body for creating a job.
// Paths are already-cleaned absolute local paths; the server performs no
// URI scheme normalization.
type CreateWatermarkRequest struct {
	// VideoPath is the input video file.
	VideoPath string `json:"video_path" validate:"required,filepath"`
	// ImagePath is the watermark image file.
	ImagePath string `json:"image_path" validate:"required,filepath"`
	// OutputPath is where the watermarked file is written.
	OutputPath string `json:"output_path" validate:"required,filepath"`
	// Placement selects the overlay policy. Empty means the configured
	// default.
	Placement string `json:"placement" validate:"omitempty,oneof=bottom-span bottom-center bottom-right"`
	// MaxFraction bounds fitted overlays per axis. Zero means the default.
	MaxFraction float64 `json:"max_fraction" validate:"omitempty,gt=0,lte=1"`
	// Publish requests an upload of the final file to object storage.
	Publish bool `json:"publish"`
}

// CreateWatermarkResponse is the HTTP response after creating a job.
type CreateWatermarkResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// WatermarkResponse is the HTTP response for getting job details.
type WatermarkResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// OutputPath is the delivered file for completed jobs.
	OutputPath string `json:"output_path,omitempty"`
	// PublishedURL is the object storage URL when publication was requested.
	PublishedURL string `json:"published_url,omitempty"`
	// FailedStep is the pipeline step a failed job broke in.
	FailedStep string `json:"failed_step,omitempty"`
	// Error is the failure message for failed jobs.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
