package job

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/framemark/framemark/internal/diag"
	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/pipeline"
	"github.com/framemark/framemark/internal/storage"
)

// PipelineRunner executes one watermark job end to end.
// *pipeline.Pipeline implements it.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// CreateInput contains the parameters for a new watermark job.
type CreateInput struct {
	// VideoPath, ImagePath and OutputPath are cleaned absolute local
	// paths; URI scheme stripping is the caller's responsibility.
	VideoPath  string
	ImagePath  string
	OutputPath string
	// Placement selects the overlay placement policy; empty means
	// bottom-right.
	Placement geometry.Placement
	// MaxFraction bounds fitted overlays; zero means the default.
	MaxFraction float64
	// Publish requests an upload of the final file to object storage.
	Publish bool
}

// Service coordinates watermark job execution: it persists job state,
// runs the pipeline, and optionally publishes the final file.
type Service struct {
	repo   Repository
	runner PipelineRunner
	store  storage.Storage
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(repo Repository, runner PipelineRunner, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		runner: runner,
		store:  store,
		logger: logger,
	}
}

// CreateJob creates and persists a job in IN_QUEUE status.
func (s *Service) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	j := New()
	j.VideoPath = input.VideoPath
	j.ImagePath = input.ImagePath
	j.OutputPath = input.OutputPath
	j.Placement = input.Placement
	j.MaxFraction = input.MaxFraction
	j.Publish = input.Publish

	s.logger.Info("creating watermark job",
		slog.String("job_id", j.ID),
		slog.String("video", input.VideoPath),
		slog.String("image", input.ImagePath),
		slog.String("output", input.OutputPath),
		slog.String("placement", string(input.Placement)),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Process runs the pipeline for a previously created job and records the
// terminal outcome. It is called once per job; the terminal state is
// written exactly once.
func (s *Service) Process(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := j.Start(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}

	res, runErr := s.runner.Run(ctx, pipeline.Request{
		VideoPath:   j.VideoPath,
		ImagePath:   j.ImagePath,
		OutputPath:  j.OutputPath,
		Placement:   j.Placement,
		MaxFraction: j.MaxFraction,
	})
	if runErr != nil {
		return s.failJob(ctx, j, runErr)
	}

	publishedURL := ""
	if j.Publish {
		url, pubErr := s.publish(ctx, j, res.OutputPath)
		if pubErr != nil {
			return s.failJob(ctx, j, diag.Wrap(diag.StepPublish, pubErr))
		}
		publishedURL = url
	}

	if err := j.Complete(res.OutputPath, publishedURL); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Info("watermark job completed",
		slog.String("job_id", j.ID),
		slog.String("final_path", res.OutputPath),
	)
	return j, nil
}

func (s *Service) publish(ctx context.Context, j *Job, finalPath string) (string, error) {
	key := j.ID + "/" + filepath.Base(finalPath)
	url, err := s.store.Publish(ctx, key, finalPath)
	if err != nil {
		if errors.Is(err, storage.ErrPublishNotConfigured) {
			s.logger.Warn("publish requested but no object storage configured",
				slog.String("job_id", j.ID),
			)
		}
		return "", err
	}
	return url, nil
}

func (s *Service) failJob(ctx context.Context, j *Job, cause error) (*Job, error) {
	step := string(diag.StepOf(cause))

	s.logger.Error("watermark job failed",
		slog.String("job_id", j.ID),
		slog.String("step", step),
		slog.String("error", cause.Error()),
	)

	if err := j.Fail(step, cause.Error()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
