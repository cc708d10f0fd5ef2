package diag

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		if err := Wrap(StepProbe, nil); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("tags and unwraps", func(t *testing.T) {
		base := fmt.Errorf("probe input: %w", ErrVideoMetadata)
		err := Wrap(StepProbe, base)

		if !errors.Is(err, ErrVideoMetadata) {
			t.Error("wrapped error should match its sentinel")
		}
		if got := StepOf(err); got != StepProbe {
			t.Errorf("StepOf = %q, want %q", got, StepProbe)
		}
	})

	t.Run("step survives further wrapping", func(t *testing.T) {
		err := fmt.Errorf("run job: %w", Wrap(StepPrimaryEncode, ErrPrimaryEncode))
		if got := StepOf(err); got != StepPrimaryEncode {
			t.Errorf("StepOf = %q, want %q", got, StepPrimaryEncode)
		}
	})
}

func TestWrapWithSnapshot(t *testing.T) {
	snap := Snapshot{
		EffectiveWidth:  1920,
		EffectiveHeight: 1080,
		RotationDegrees: 90,
		Scale:           0.5,
		HEVCEncoder:     "hevc_videotoolbox",
	}
	err := WrapWithSnapshot(StepSecondaryEncode, ErrSecondaryEncode, snap)

	got := SnapshotOf(err)
	if got == nil {
		t.Fatal("expected a snapshot")
	}
	if got.EffectiveWidth != 1920 || got.EffectiveHeight != 1080 {
		t.Errorf("snapshot resolution = %dx%d, want 1920x1080", got.EffectiveWidth, got.EffectiveHeight)
	}
	if got.HEVCEncoder != "hevc_videotoolbox" {
		t.Errorf("snapshot encoder = %q", got.HEVCEncoder)
	}
}

func TestStepOfUntagged(t *testing.T) {
	if got := StepOf(errors.New("plain")); got != "" {
		t.Errorf("StepOf untagged = %q, want empty", got)
	}
	if SnapshotOf(errors.New("plain")) != nil {
		t.Error("SnapshotOf untagged should be nil")
	}
}
