// Package encoder executes encode passes with the ffmpeg CLI and probes
// the host for hardware HEVC support.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/framemark/framemark/internal/compose"
	"github.com/framemark/framemark/internal/diag"
)

// Runner executes ffmpeg commands. It is safe for concurrent use.
type Runner struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string

	caps capabilityCache
}

// NewRunner creates a new Runner. If ffmpegPath is empty, it defaults to
// "ffmpeg" (found via PATH).
func NewRunner(ffmpegPath string) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Runner{ffmpegPath: ffmpegPath}
}

// Composite runs the primary encode pass: it submits the composition plan
// to ffmpeg targeting the baseline H.264 profile and writes outputPath.
func (r *Runner) Composite(ctx context.Context, plan *compose.Plan, outputPath string) error {
	args, err := primaryArgs(plan, outputPath)
	if err != nil {
		return err
	}
	if err := r.run(ctx, args); err != nil {
		return fmt.Errorf("%w: %w", diag.ErrPrimaryEncode, err)
	}
	return nil
}

// Transcode runs the secondary pass: it re-encodes inputPath into
// outputPath with the given hardware HEVC encoder. The overlay is already
// burned in; no filters are applied.
func (r *Runner) Transcode(ctx context.Context, inputPath, outputPath, hevcEncoder string) error {
	args, err := secondaryArgs(inputPath, outputPath, hevcEncoder)
	if err != nil {
		return err
	}
	if err := r.run(ctx, args); err != nil {
		return fmt.Errorf("%w: %w", diag.ErrSecondaryEncode, err)
	}
	return nil
}

// run executes ffmpeg with the given arguments, capturing stderr into the
// returned error when the command fails.
func (r *Runner) run(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &ExecError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// ExecError represents a failed ffmpeg invocation, including the stderr
// output needed to diagnose it.
type ExecError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
