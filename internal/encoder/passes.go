package encoder

import (
	"fmt"

	"github.com/framemark/framemark/internal/compose"
	"github.com/framemark/framemark/internal/diag"
)

// primaryArgs assembles the ffmpeg arguments for the baseline pass.
// H.264 high profile with aac audio plays everywhere, so its output is a
// valid deliverable on its own. Rotated sources are handled by ffmpeg's
// display-matrix autorotation; the filter graph was resolved against the
// upright frame.
func primaryArgs(plan *compose.Plan, outputPath string) ([]string, error) {
	if plan == nil || plan.VideoPath == "" || plan.OverlayPath == "" || plan.FilterComplex == "" {
		return nil, fmt.Errorf("%w: incomplete composition plan", diag.ErrTransformerBuild)
	}
	if outputPath == "" {
		return nil, fmt.Errorf("%w: missing output path", diag.ErrTransformerBuild)
	}

	args := []string{
		"-y",
		"-i", plan.VideoPath,
		"-i", plan.OverlayPath,
		"-filter_complex", plan.FilterComplex,
		"-c:v", "libx264",
		"-profile:v", "high",
		"-preset", "medium",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
	}
	if plan.CopyAudio {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", outputPath)
	return args, nil
}

// secondaryArgs assembles the ffmpeg arguments for the opportunistic HEVC
// re-encode. The input already carries the overlay, so this is a straight
// transcode with audio passed through. The hvc1 tag keeps the output
// playable in Apple containers.
func secondaryArgs(inputPath, outputPath, hevcEncoder string) ([]string, error) {
	if inputPath == "" || outputPath == "" {
		return nil, fmt.Errorf("%w: missing pass paths", diag.ErrTransformerBuild)
	}
	if hevcEncoder == "" {
		return nil, fmt.Errorf("%w: no HEVC encoder selected", diag.ErrTransformerBuild)
	}

	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", hevcEncoder,
		"-tag:v", "hvc1",
		"-c:a", "copy",
		"-movflags", "+faststart",
		outputPath,
	}, nil
}
