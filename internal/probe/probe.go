// Package probe extracts video metadata with a single ffprobe call.
// The parsed Source is the immutable description of the input the rest of
// the pipeline works from.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/framemark/framemark/internal/diag"
)

// Source is the probed description of an input video. It is read-only
// after creation.
type Source struct {
	// Path is the probed file path.
	Path string
	// Width and Height are the stored track dimensions, before rotation.
	Width  int
	Height int
	// RotationDegrees is the normalized rotation metadata: 0, 90, 180 or 270.
	RotationDegrees int
	// DurationSec is the container duration in seconds.
	DurationSec float64
	// HasAudio reports whether the container carries at least one audio
	// stream.
	HasAudio bool
	// HDR reports whether the video stream signals HDR transfer
	// characteristics and should be tone-mapped to SDR on encode.
	HDR bool
}

// EffectiveSize returns the upright frame size, swapping the stored
// dimensions when the rotation is 90 or 270 degrees.
func (s *Source) EffectiveSize() (int, int) {
	if s.RotationDegrees == 90 || s.RotationDegrees == 270 {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

// Prober probes video files using the ffprobe CLI.
type Prober struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewProber creates a new Prober. If ffprobePath is empty, it defaults to
// "ffprobe" (found via PATH).
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Probe runs one ffprobe JSON call against path and returns the parsed
// Source. A missing or unreadable file fails with ErrVideoMetadata; a
// readable file without usable video dimensions fails with
// ErrVideoDimensions.
func (p *Prober) Probe(ctx context.Context, path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: stat %q: %v", diag.ErrVideoMetadata, path, err)
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffprobe %q: %v, stderr: %s", diag.ErrVideoMetadata, path, err, stderr.String())
	}

	src, err := ParseJSON(out)
	if err != nil {
		return nil, err
	}
	src.Path = path
	return src, nil
}

// ParseJSON converts raw ffprobe JSON output into a Source.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*Source, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe JSON: %v", diag.ErrVideoMetadata, err)
	}
	return buildSource(&raw)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType      string            `json:"codec_type"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	Disposition    map[string]int    `json:"disposition"`
	Tags           map[string]string `json:"tags"`
	SideDataList   []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	SideDataType string          `json:"side_data_type"`
	Rotation     json.RawMessage `json:"rotation"`
}

// --- Conversion from wire types to the domain type ---

func buildSource(raw *ffprobeOutput) (*Source, error) {
	src := &Source{
		DurationSec: parseFloat(raw.Format.Duration),
	}

	var video *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if s.Disposition["attached_pic"] == 1 {
				continue
			}
			if video == nil {
				video = s
			}
		case "audio":
			src.HasAudio = true
		}
	}

	if video == nil {
		return nil, fmt.Errorf("%w: no video stream", diag.ErrVideoDimensions)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", diag.ErrVideoDimensions, video.Width, video.Height)
	}

	src.Width = video.Width
	src.Height = video.Height
	src.RotationDegrees = parseRotation(video)
	src.HDR = isHDR(video)
	return src, nil
}

// parseRotation reads the display rotation from stream side data, falling
// back to the legacy rotate tag, and normalizes it to {0, 90, 180, 270}.
func parseRotation(s *ffprobeStream) int {
	deg := 0
	found := false

	for _, sd := range s.SideDataList {
		if sd.SideDataType != "Display Matrix" || len(sd.Rotation) == 0 {
			continue
		}
		// ffprobe emits rotation as a number in recent builds and as a
		// quoted string in older ones.
		var f float64
		if err := json.Unmarshal(sd.Rotation, &f); err == nil {
			deg = int(math.Round(f))
			found = true
			break
		}
		var str string
		if err := json.Unmarshal(sd.Rotation, &str); err == nil {
			if n, perr := strconv.Atoi(strings.TrimSpace(str)); perr == nil {
				deg = n
				found = true
				break
			}
		}
	}

	if !found {
		if tag, ok := s.Tags["rotate"]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
				deg = n
			}
		}
	}

	deg %= 360
	if deg < 0 {
		deg += 360
	}
	switch deg {
	case 90, 180, 270:
		return deg
	}
	return 0
}

// isHDR mirrors the usual ffprobe-based detection: PQ or HLG transfer,
// or bt2020 primaries.
func isHDR(s *ffprobeStream) bool {
	switch s.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return s.ColorPrimaries == "bt2020"
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
