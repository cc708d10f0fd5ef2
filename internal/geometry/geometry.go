// Package geometry resolves frame and overlay placement for the watermark
// compositor. It is pure: no I/O, no side effects, deterministic output
// for a given input.
package geometry

import (
	"fmt"

	"github.com/framemark/framemark/internal/diag"
)

// Placement selects where and how the overlay is positioned on the frame.
type Placement string

const (
	// PlacementBottomSpan stretches the overlay across the full frame
	// width, anchored at bottom-center.
	PlacementBottomSpan Placement = "bottom-span"
	// PlacementBottomCenter fits the overlay within a bounded fraction of
	// the frame, anchored at bottom-center.
	PlacementBottomCenter Placement = "bottom-center"
	// PlacementBottomRight fits the overlay within a bounded fraction of
	// the frame, anchored at bottom-right with an inward margin.
	PlacementBottomRight Placement = "bottom-right"
)

// IsValid reports whether p is a known placement.
func (p Placement) IsValid() bool {
	switch p {
	case PlacementBottomSpan, PlacementBottomCenter, PlacementBottomRight:
		return true
	}
	return false
}

// DefaultMaxFraction bounds fitted overlays to a quarter of the frame on
// each axis. Span placement ignores it.
const DefaultMaxFraction = 0.25

// cornerMargin pulls cornered anchors inward from the frame edge.
const cornerMargin = 0.85

// ResolveInput carries the raw dimensions the resolver works from.
type ResolveInput struct {
	// NaturalWidth and NaturalHeight are the video track dimensions as
	// stored, before any rotation is applied.
	NaturalWidth  int
	NaturalHeight int
	// RotationDegrees is the source rotation metadata: 0, 90, 180 or 270.
	RotationDegrees int
	// OverlayWidth and OverlayHeight are the decoded overlay dimensions.
	OverlayWidth  int
	OverlayHeight int
	// Placement selects the anchor and scaling policy.
	Placement Placement
	// MaxFraction bounds fitted overlays per axis. Zero means
	// DefaultMaxFraction. Ignored for span placement.
	MaxFraction float64
}

// Geometry is the resolved frame size and overlay placement. Anchor
// coordinates are normalized to [-1, 1] with the origin at frame center,
// so (0, -1) is bottom-center and (1, -1) is bottom-right.
type Geometry struct {
	EffectiveWidth  int
	EffectiveHeight int
	Scale           float64
	AnchorX         float64
	AnchorY         float64
}

// Resolve computes the effective frame size and overlay placement.
//
// The compositor renders into the upright frame, so when the source is
// rotated 90 or 270 degrees the natural dimensions are swapped before any
// placement math. Span placement scales the overlay to exactly the
// effective width; fitted placements scale uniformly to fit within
// MaxFraction of both axes and never upscale.
func Resolve(in ResolveInput) (Geometry, error) {
	if in.NaturalWidth <= 0 || in.NaturalHeight <= 0 {
		return Geometry{}, fmt.Errorf("%w: frame %dx%d", diag.ErrInvalidGeometry, in.NaturalWidth, in.NaturalHeight)
	}
	if in.OverlayWidth <= 0 || in.OverlayHeight <= 0 {
		return Geometry{}, fmt.Errorf("%w: overlay %dx%d", diag.ErrInvalidGeometry, in.OverlayWidth, in.OverlayHeight)
	}
	if !in.Placement.IsValid() {
		return Geometry{}, fmt.Errorf("%w: unknown placement %q", diag.ErrInvalidGeometry, in.Placement)
	}

	effW, effH := in.NaturalWidth, in.NaturalHeight
	if in.RotationDegrees == 90 || in.RotationDegrees == 270 {
		effW, effH = effH, effW
	}

	g := Geometry{EffectiveWidth: effW, EffectiveHeight: effH}

	switch in.Placement {
	case PlacementBottomSpan:
		g.Scale = float64(effW) / float64(in.OverlayWidth)
		g.AnchorX, g.AnchorY = 0, -1
	case PlacementBottomCenter, PlacementBottomRight:
		frac := in.MaxFraction
		if frac <= 0 {
			frac = DefaultMaxFraction
		}
		sw := frac * float64(effW) / float64(in.OverlayWidth)
		sh := frac * float64(effH) / float64(in.OverlayHeight)
		g.Scale = min(sw, sh)
		if g.Scale > 1 {
			g.Scale = 1
		}
		if in.Placement == PlacementBottomRight {
			g.AnchorX, g.AnchorY = cornerMargin, -cornerMargin
		} else {
			g.AnchorX, g.AnchorY = 0, -cornerMargin
		}
	}

	return g, nil
}
