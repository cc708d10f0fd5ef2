// Package diag defines the failure taxonomy for the watermark pipeline.
// Every failure that crosses a component boundary carries a Step so the
// caller can tell exactly which stage broke, plus an optional Snapshot of
// the encode parameters captured at the failure site.
package diag

import (
	"errors"
	"fmt"
)

// Step identifies the pipeline stage a failure occurred in.
type Step string

const (
	// StepProbe covers ffprobe metadata extraction from the input video.
	StepProbe Step = "probe"
	// StepGeometry covers frame/overlay placement resolution.
	StepGeometry Step = "geometry"
	// StepOverlayLoad covers overlay image decode and normalization.
	StepOverlayLoad Step = "overlay_load"
	// StepCompose covers composition plan construction.
	StepCompose Step = "compose"
	// StepPrimaryEncode covers the baseline H.264 encode pass.
	StepPrimaryEncode Step = "primary_encode"
	// StepCapabilityProbe covers hardware HEVC encoder detection.
	StepCapabilityProbe Step = "capability_probe"
	// StepMoveAside covers moving the primary output to its temporary path.
	StepMoveAside Step = "move_aside"
	// StepSecondaryEncode covers the opportunistic HEVC re-encode pass.
	StepSecondaryEncode Step = "secondary_encode"
	// StepRollback covers restoring the primary output after a failed
	// secondary pass.
	StepRollback Step = "rollback"
	// StepPublish covers uploading the final file to object storage.
	StepPublish Step = "publish"
)

// Sentinel error kinds, one per failure class. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	// ErrInvalidGeometry is returned when frame or overlay dimensions are
	// not positive.
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrImageNotFound is returned when the overlay image path does not exist.
	ErrImageNotFound = errors.New("overlay image not found")
	// ErrImageDecode is returned when the overlay image cannot be decoded.
	ErrImageDecode = errors.New("overlay image decode failed")
	// ErrImageConvert is returned when RGBA normalization fails.
	ErrImageConvert = errors.New("overlay image conversion failed")
	// ErrVideoMetadata is returned when the input video cannot be probed.
	ErrVideoMetadata = errors.New("video metadata unavailable")
	// ErrVideoDimensions is returned when the probed video has no usable
	// video stream dimensions.
	ErrVideoDimensions = errors.New("video dimensions unavailable")
	// ErrComposition is returned when the composition plan cannot be built.
	ErrComposition = errors.New("composition failed")
	// ErrPrimaryEncode is returned when the baseline encode pass fails.
	ErrPrimaryEncode = errors.New("primary encode failed")
	// ErrSecondaryEncode marks a failed HEVC re-encode. It never reaches
	// the caller as a terminal failure; the pipeline downgrades it.
	ErrSecondaryEncode = errors.New("secondary encode failed")
	// ErrTransformerBuild is returned when the encoder command cannot be
	// assembled.
	ErrTransformerBuild = errors.New("transformer build failed")
)

// Snapshot captures the encode parameters in effect when a failure
// happened. It is populated at the failure site, not reconstructed later.
type Snapshot struct {
	// EffectiveWidth and EffectiveHeight are the post-rotation frame size.
	EffectiveWidth  int
	EffectiveHeight int
	// RotationDegrees is the source rotation (0, 90, 180 or 270).
	RotationDegrees int
	// OverlaySourceWidth/Height are the decoded overlay dimensions.
	OverlaySourceWidth  int
	OverlaySourceHeight int
	// OverlayTargetWidth is the pre-scale target, zero when unscaled.
	OverlayTargetWidth int
	// Scale is the resolved overlay scale factor.
	Scale float64
	// HEVCEncoder is the detected hardware encoder name, empty when none.
	HEVCEncoder string
	// DeviceClass describes the host, e.g. "linux/amd64".
	DeviceClass string
}

// StepError tags an underlying failure with the pipeline step it occurred
// in and, for encode-stage failures, a parameter snapshot.
type StepError struct {
	Step     Step
	Err      error
	Snapshot *Snapshot
}

// Wrap attaches a step to err. Returns nil when err is nil.
func Wrap(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// WrapWithSnapshot attaches a step and a parameter snapshot to err.
// Returns nil when err is nil.
func WrapWithSnapshot(step Step, err error, snap Snapshot) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err, Snapshot: &snap}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepOf extracts the step tag from err, walking the wrap chain.
// Returns the empty Step when err carries no tag.
func StepOf(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// SnapshotOf extracts the parameter snapshot from err, if any.
func SnapshotOf(err error) *Snapshot {
	var se *StepError
	if errors.As(err, &se) {
		return se.Snapshot
	}
	return nil
}
