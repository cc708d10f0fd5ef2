// Package pipeline drives one watermark job end to end: probe, overlay
// load, geometry, composition, the baseline encode pass and the
// opportunistic HEVC re-encode with rollback. The terminal result is
// produced exactly once per job.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/framemark/framemark/internal/compose"
	"github.com/framemark/framemark/internal/diag"
	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/overlay"
	"github.com/framemark/framemark/internal/probe"
)

// tempSuffix is appended to the output path while the primary result is
// parked during the secondary pass.
const tempSuffix = ".primary.tmp.mp4"

// Compositor submits encode work to ffmpeg. *encoder.Runner implements
// it; tests substitute fakes.
type Compositor interface {
	// Composite runs the primary pass for plan into outputPath.
	Composite(ctx context.Context, plan *compose.Plan, outputPath string) error
	// Transcode re-encodes inputPath into outputPath with the given
	// hardware HEVC encoder.
	Transcode(ctx context.Context, inputPath, outputPath, hevcEncoder string) error
	// DetectHEVCEncoder reports the available hardware HEVC encoder name,
	// or empty when the host has none.
	DetectHEVCEncoder(ctx context.Context) (string, error)
}

// MetadataProber extracts source metadata. *probe.Prober implements it.
type MetadataProber interface {
	Probe(ctx context.Context, path string) (*probe.Source, error)
}

// OverlayLoader loads and normalizes the watermark image.
// *overlay.Loader implements it.
type OverlayLoader interface {
	Load(path string, targetWidth int) (*overlay.Image, error)
}

// Options tunes pipeline behavior.
type Options struct {
	// OverlayTargetWidth pre-scales the overlay buffer to this pixel
	// width before compositing. Zero disables pre-scaling.
	OverlayTargetWidth int
	// HEVCSecondPass enables the opportunistic re-encode when hardware
	// supports it.
	HEVCSecondPass bool
}

// Request describes one watermark job. Paths are already-cleaned local
// absolute paths; the caller owns any URI normalization.
type Request struct {
	VideoPath  string
	ImagePath  string
	OutputPath string
	// Placement selects the overlay policy. Empty means bottom-right.
	Placement geometry.Placement
	// MaxFraction bounds fitted overlays; zero means the package default.
	MaxFraction float64
}

// Result is the terminal value of a successful job. OutputPath is the
// final watermarked file; whether the HEVC pass ran is deliberately not
// exposed, both outcomes are equally valid deliverables.
type Result struct {
	OutputPath string
}

// state is one node of the encode state machine. Transitions are
// forward-only; no state is revisited within a job.
type state int

const (
	statePrimaryRunning state = iota
	statePrimaryFailed
	statePrimaryDone
	stateCapabilityProbe
	stateMoveAside
	stateSecondaryRunning
	stateSecondaryDone
	stateSecondaryFailed
	stateTerminal
)

// Pipeline owns the components of the watermark encode flow. One
// Pipeline serves many concurrent jobs; only compositor submissions are
// serialized, through the shared queue.
type Pipeline struct {
	prober MetadataProber
	loader OverlayLoader
	comp   Compositor
	queue  *SerialQueue
	logger *slog.Logger
	opts   Options
}

// New creates a Pipeline. The queue is owned by the pipeline and stopped
// by Close.
func New(prober MetadataProber, loader OverlayLoader, comp Compositor, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		prober: prober,
		loader: loader,
		comp:   comp,
		queue:  NewSerialQueue(),
		logger: logger,
		opts:   opts,
	}
}

// Close stops the compositor submission queue.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Run executes one job and returns its terminal result. The overlay
// buffer is released on every exit path, exactly once, after the result
// is decided. A failed secondary pass never fails the job.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.VideoPath == "" || req.ImagePath == "" || req.OutputPath == "" {
		return nil, diag.Wrap(diag.StepProbe, fmt.Errorf("%w: empty request path", diag.ErrVideoMetadata))
	}
	if req.Placement == "" {
		req.Placement = geometry.PlacementBottomRight
	}

	// Existence of the input video is checked before the overlay is
	// decoded, so a bad video path never costs an image decode.
	src, err := p.prober.Probe(ctx, req.VideoPath)
	if err != nil {
		return nil, diag.Wrap(diag.StepProbe, err)
	}

	ov, err := p.loader.Load(req.ImagePath, p.opts.OverlayTargetWidth)
	if err != nil {
		return nil, diag.Wrap(diag.StepOverlayLoad, err)
	}
	// Both passes are done once the terminal result exists; the secondary
	// pass reads the muxed file and never touches the buffer.
	defer ov.Release()

	geo, err := geometry.Resolve(geometry.ResolveInput{
		NaturalWidth:    src.Width,
		NaturalHeight:   src.Height,
		RotationDegrees: src.RotationDegrees,
		OverlayWidth:    ov.SourceWidth,
		OverlayHeight:   ov.SourceHeight,
		Placement:       req.Placement,
		MaxFraction:     req.MaxFraction,
	})
	if err != nil {
		return nil, diag.Wrap(diag.StepGeometry, err)
	}

	plan, err := compose.Build(src, ov, geo)
	if err != nil {
		return nil, diag.Wrap(diag.StepCompose, err)
	}

	finalPath, err := p.encode(ctx, plan, req.OutputPath, p.snapshot(src, ov, geo))
	if err != nil {
		return nil, err
	}
	return &Result{OutputPath: finalPath}, nil
}

// encode drives the two-pass state machine. It returns the final output
// path; only a primary failure is an error. Rollback is centralized here
// so every branch restores or removes exactly the files it should.
func (p *Pipeline) encode(ctx context.Context, plan *compose.Plan, outputPath string, snap diag.Snapshot) (string, error) {
	tempPath := outputPath + tempSuffix
	var hevcEncoder string

	st := statePrimaryRunning
	for {
		switch st {
		case statePrimaryRunning:
			err := p.queue.Do(ctx, func() error {
				return p.comp.Composite(ctx, plan, outputPath)
			})
			if err != nil {
				// A primary-failure job must leave nothing at the output path.
				p.removeArtifact(outputPath, "partial primary output")
				return "", diag.WrapWithSnapshot(diag.StepPrimaryEncode, err, snap)
			}
			st = statePrimaryDone

		case statePrimaryDone:
			if !p.opts.HEVCSecondPass {
				st = stateTerminal
				continue
			}
			st = stateCapabilityProbe

		case stateCapabilityProbe:
			enc, err := p.comp.DetectHEVCEncoder(ctx)
			if err != nil {
				// The primary output is a complete deliverable; a broken
				// probe only costs the size win.
				p.logger.Warn("hevc capability probe failed, keeping primary output",
					slog.String("step", string(diag.StepCapabilityProbe)),
					slog.String("error", err.Error()),
				)
				st = stateTerminal
				continue
			}
			if enc == "" {
				st = stateTerminal
				continue
			}
			hevcEncoder = enc
			snap.HEVCEncoder = enc
			st = stateMoveAside

		case stateMoveAside:
			if err := os.Rename(outputPath, tempPath); err != nil {
				p.logger.Warn("move-aside failed, skipping secondary pass",
					slog.String("step", string(diag.StepMoveAside)),
					slog.String("error", err.Error()),
				)
				st = stateTerminal
				continue
			}
			st = stateSecondaryRunning

		case stateSecondaryRunning:
			err := p.queue.Do(ctx, func() error {
				return p.comp.Transcode(ctx, tempPath, outputPath, hevcEncoder)
			})
			if err != nil {
				p.logger.Warn("secondary encode failed, rolling back to primary output",
					slog.String("step", string(diag.StepSecondaryEncode)),
					slog.String("encoder", hevcEncoder),
					slog.String("error", err.Error()),
					slog.Int("effective_width", snap.EffectiveWidth),
					slog.Int("effective_height", snap.EffectiveHeight),
					slog.Int("rotation", snap.RotationDegrees),
					slog.Float64("overlay_scale", snap.Scale),
				)
				st = stateSecondaryFailed
				continue
			}
			st = stateSecondaryDone

		case stateSecondaryDone:
			p.removeArtifact(tempPath, "parked primary output")
			st = stateTerminal

		case stateSecondaryFailed:
			// Restore the primary result; its success stands regardless
			// of what the optimization pass did.
			p.removeArtifact(outputPath, "partial secondary output")
			if err := os.Rename(tempPath, outputPath); err != nil {
				p.logger.Error("rollback restore failed",
					slog.String("step", string(diag.StepRollback)),
					slog.String("temp_path", tempPath),
					slog.String("error", err.Error()),
				)
			}
			st = stateTerminal

		case stateTerminal:
			return outputPath, nil
		}
	}
}

// removeArtifact deletes path, logging anything unexpected. Rollback
// file-system errors are diagnostics, not job failures.
func (p *Pipeline) removeArtifact(path, what string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to remove "+what,
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) snapshot(src *probe.Source, ov *overlay.Image, geo geometry.Geometry) diag.Snapshot {
	return diag.Snapshot{
		EffectiveWidth:      geo.EffectiveWidth,
		EffectiveHeight:     geo.EffectiveHeight,
		RotationDegrees:     src.RotationDegrees,
		OverlaySourceWidth:  ov.SourceWidth,
		OverlaySourceHeight: ov.SourceHeight,
		OverlayTargetWidth:  p.opts.OverlayTargetWidth,
		Scale:               geo.Scale,
		DeviceClass:         runtime.GOOS + "/" + runtime.GOARCH,
	}
}
