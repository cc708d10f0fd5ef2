// Package compose builds the render description for one watermark job:
// the input list, the filter graph placing the overlay, and the audio and
// tone-mapping decisions. The plan is consumed by the encoder; this
// package performs no I/O on media files.
package compose

import (
	"fmt"
	"math"
	"strings"

	"github.com/framemark/framemark/internal/diag"
	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/overlay"
	"github.com/framemark/framemark/internal/probe"
)

// tonemapChain converts HDR10/HLG sources to SDR before the overlay is
// applied, so the watermark is not washed out by the transfer function.
const tonemapChain = "zscale=t=linear:npl=100,format=gbrpf32le,zscale=p=bt709," +
	"tonemap=tonemap=hable:desat=0," +
	"zscale=t=bt709:m=bt709:r=tv,format=yuv420p"

// Plan is the assembled render graph for one job: a base video layer plus
// one overlay layer with resolved placement. It is built once and
// consumed once by the primary encode pass.
type Plan struct {
	// VideoPath and OverlayPath are the two ffmpeg inputs, in order.
	VideoPath   string
	OverlayPath string
	// FilterComplex is the complete -filter_complex graph.
	FilterComplex string
	// CopyAudio is set when the source has an audio track to pass through
	// verbatim.
	CopyAudio bool
	// ToneMapped records that the graph includes HDR-to-SDR conversion.
	ToneMapped bool
	// DurationSec is the source duration, carried for diagnostics.
	DurationSec float64
}

// Build assembles a Plan from the probed source, the normalized overlay
// and the resolved geometry. The overlay is scaled inside the graph only
// when its staged width differs from the resolved target width; a
// pre-scaled overlay goes through unscaled.
func Build(src *probe.Source, ov *overlay.Image, geo geometry.Geometry) (*Plan, error) {
	if src == nil || src.Path == "" {
		return nil, fmt.Errorf("%w: missing video source", diag.ErrComposition)
	}
	if ov == nil || ov.StagedPath == "" {
		return nil, fmt.Errorf("%w: missing overlay image", diag.ErrComposition)
	}
	if geo.EffectiveWidth <= 0 || geo.EffectiveHeight <= 0 || geo.Scale <= 0 {
		return nil, fmt.Errorf("%w: unresolved geometry", diag.ErrComposition)
	}

	// The resolved scale is relative to the overlay's decoded size; the
	// staged buffer may already have been pre-scaled, so recompute the
	// on-frame width from the source dimensions.
	scaledW := int(math.Round(geo.Scale * float64(ov.SourceWidth)))
	if scaledW < 1 {
		return nil, fmt.Errorf("%w: overlay collapses to zero width at scale %f", diag.ErrComposition, geo.Scale)
	}

	var b strings.Builder

	base := "[0:v]"
	if src.HDR {
		b.WriteString("[0:v]")
		b.WriteString(tonemapChain)
		b.WriteString("[base];")
		base = "[base]"
	}

	if scaledW != ov.Width {
		fmt.Fprintf(&b, "[1:v]scale=%d:-1:flags=bicubic,format=rgba[wm];", scaledW)
	} else {
		b.WriteString("[1:v]format=rgba[wm];")
	}

	fmt.Fprintf(&b, "%s[wm]overlay=%s:%s", base, overlayX(geo.AnchorX), overlayY(geo.AnchorY))

	return &Plan{
		VideoPath:     src.Path,
		OverlayPath:   ov.StagedPath,
		FilterComplex: b.String(),
		CopyAudio:     src.HasAudio,
		ToneMapped:    src.HDR,
		DurationSec:   src.DurationSec,
	}, nil
}

// overlayX maps a normalized anchor x in [-1, 1] (origin at frame
// center) to an ffmpeg overlay x expression. -1 is the left edge, 1 the
// right edge.
func overlayX(anchor float64) string {
	return positionExpr("main_w-overlay_w", (1+anchor)/2)
}

// overlayY maps a normalized anchor y in [-1, 1] to an ffmpeg overlay y
// expression. The anchor axis points up while ffmpeg's y grows downward,
// so the fraction is inverted: -1 is the bottom edge, 1 the top.
func overlayY(anchor float64) string {
	return positionExpr("main_h-overlay_h", (1-anchor)/2)
}

func positionExpr(span string, frac float64) string {
	switch frac {
	case 0:
		return "0"
	case 1:
		return span
	}
	return fmt.Sprintf("(%s)*%.4f", span, frac)
}
