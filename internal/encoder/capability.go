package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// hevcPreference orders hardware HEVC encoders by platform likelihood.
// The first one present in the ffmpeg build wins. Software libx265 is
// deliberately absent: the second pass is only worth running when the
// device has dedicated silicon for it.
var hevcPreference = []string{
	"hevc_videotoolbox",
	"hevc_nvenc",
	"hevc_qsv",
	"hevc_vaapi",
	"hevc_amf",
	"hevc_mf",
}

type capabilityCache struct {
	once    sync.Once
	encoder string
	err     error
}

// DetectHEVCEncoder returns the name of the preferred hardware HEVC
// encoder available in the ffmpeg build, or the empty string when the
// host has none. The probe reads encoder listings only; it touches no
// media files. The result is cached for the lifetime of the Runner.
func (r *Runner) DetectHEVCEncoder(ctx context.Context) (string, error) {
	r.caps.once.Do(func() {
		r.caps.encoder, r.caps.err = r.detectHEVCEncoder(ctx)
	})
	return r.caps.encoder, r.caps.err
}

func (r *Runner) detectHEVCEncoder(ctx context.Context) (string, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, r.ffmpegPath, "-encoders", "-hide_banner")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("encoder probe cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("list encoders: %w", err)
	}

	available := ParseEncoders(string(out))
	return PickHEVC(available), nil
}

// ParseEncoders extracts encoder names from `ffmpeg -encoders` output.
// Exported for testing without a real ffmpeg binary.
func ParseEncoders(output string) []string {
	var names []string
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		// Each entry is " <flags> <name>  <description>". The flags field
		// is a fixed-width cell like "V....D".
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// PickHEVC returns the preferred hardware HEVC encoder present in
// available, or the empty string.
func PickHEVC(available []string) string {
	set := make(map[string]bool, len(available))
	for _, name := range available {
		set[name] = true
	}
	for _, want := range hevcPreference {
		if set[want] {
			return want
		}
	}
	return ""
}
