// Package job provides the watermark job aggregate: a forward-only state
// machine around one pipeline invocation, with repository interfaces for
// persistence and a service coordinating execution.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job has been accepted but not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is processing the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the watermarked file was produced.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the pipeline failed terminally.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is
// attempted. Jobs only move forward; completed and failed are terminal.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one watermark request and its outcome. The three input paths
// are already-cleaned absolute local paths supplied by the caller.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// VideoPath is the input video.
	VideoPath string
	// ImagePath is the watermark image.
	ImagePath string
	// OutputPath is where the watermarked file is written.
	OutputPath string
	// Placement selects the overlay placement policy.
	Placement geometry.Placement
	// MaxFraction bounds fitted overlays; zero means the default.
	MaxFraction float64
	// Publish requests an upload of the final file to object storage.
	Publish bool

	// FinalPath is the delivered file once the job completes. It may be
	// the primary or the re-encoded output; callers cannot tell which.
	FinalPath string
	// PublishedURL is the object storage URL when Publish was requested.
	PublishedURL string
	// Error is the failure message for failed jobs.
	Error string
	// FailedStep is the pipeline step the failure occurred in.
	FailedStep string

	// CreatedAt is when the job was accepted.
	CreatedAt time.Time
	// UpdatedAt is when the job last changed.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished, either way.
	CompletedAt time.Time
}

// New creates a Job with a generated ID in IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a Job with the given ID in IN_QUEUE status. Useful
// for tests that need deterministic IDs.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status. Returns
// ErrInvalidTransition when the move is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the delivered file and transitions to COMPLETED.
func (j *Job) Complete(finalPath, publishedURL string) error {
	j.mu.Lock()
	j.FinalPath = finalPath
	j.PublishedURL = publishedURL
	j.mu.Unlock()
	return j.TransitionTo(StatusCompleted)
}

// Fail records the failed step and message and transitions to FAILED.
func (j *Job) Fail(step, errMsg string) error {
	j.mu.Lock()
	j.FailedStep = step
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// GetStatus returns the current status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Clone returns a copy of the job safe to hand out of the repository.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &Job{
		ID:           j.ID,
		Status:       j.Status,
		VideoPath:    j.VideoPath,
		ImagePath:    j.ImagePath,
		OutputPath:   j.OutputPath,
		Placement:    j.Placement,
		MaxFraction:  j.MaxFraction,
		Publish:      j.Publish,
		FinalPath:    j.FinalPath,
		PublishedURL: j.PublishedURL,
		Error:        j.Error,
		FailedStep:   j.FailedStep,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
