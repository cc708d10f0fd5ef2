// Package bootstrap provides dependency initialization for the watermark
// service.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/framemark/framemark/internal/config"
	"github.com/framemark/framemark/internal/encoder"
	"github.com/framemark/framemark/internal/job"
	"github.com/framemark/framemark/internal/overlay"
	"github.com/framemark/framemark/internal/pipeline"
	"github.com/framemark/framemark/internal/probe"
	"github.com/framemark/framemark/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	JobService *job.Service
	Pipeline   *pipeline.Pipeline
}

// Close releases resources owned by the dependency graph. Safe to call
// once after the server has stopped accepting work.
func (d *Dependencies) Close() {
	d.Pipeline.Close()
}

// NewDependencies creates and initializes all dependencies for the
// application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	prober := probe.NewProber(cfg.FFprobePath)
	loader := overlay.NewLoader(store.TempDir())
	runner := encoder.NewRunner(cfg.FFmpegPath)

	pipe := pipeline.New(prober, loader, runner, logger, pipeline.Options{
		OverlayTargetWidth: cfg.OverlayTargetWidth,
		HEVCSecondPass:     cfg.HEVCSecondPass,
	})

	repo := job.NewMemoryRepository()
	svc := job.NewService(repo, pipe, store, logger)

	return &Dependencies{
		JobService: svc,
		Pipeline:   pipe,
	}, nil
}

// initStorage creates the appropriate storage backend based on
// configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
