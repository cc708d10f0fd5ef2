// Package overlay loads and normalizes the watermark image. The decoded
// buffer is converted to straight-alpha RGBA, optionally pre-scaled to a
// target width, and staged as a PNG file for the compositor.
package overlay

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	// Register stdlib decoders for the common watermark formats.
	_ "image/gif"
	_ "image/jpeg"

	// WebP support from x/image.
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"

	"github.com/framemark/framemark/internal/diag"
)

// active counts live overlay buffers. Load increments it and Release
// decrements it exactly once, so it reads zero when nothing leaks.
var active atomic.Int64

// ActiveBuffers returns the number of loaded overlays that have not been
// released yet.
func ActiveBuffers() int64 {
	return active.Load()
}

// Image is a normalized overlay ready for compositing. It owns both the
// pixel buffer and the staged PNG file until Release is called.
type Image struct {
	// Pix is the straight-alpha RGBA pixel buffer, pre-scaled if a target
	// width was requested.
	Pix *image.NRGBA
	// Width and Height are the dimensions of Pix.
	Width  int
	Height int
	// SourceWidth and SourceHeight are the dimensions as decoded, before
	// any pre-scaling.
	SourceWidth  int
	SourceHeight int
	// StagedPath is the temp PNG the compositor reads.
	StagedPath string

	releaseOnce sync.Once
}

// Release frees the pixel buffer and removes the staged file. It is safe
// to call more than once; only the first call has any effect.
func (img *Image) Release() {
	img.releaseOnce.Do(func() {
		img.Pix = nil
		if img.StagedPath != "" {
			_ = os.Remove(img.StagedPath)
		}
		active.Add(-1)
	})
}

// Loader decodes watermark images and stages them for the compositor.
type Loader struct {
	// tempDir is where staged PNGs are written. Empty means os.TempDir().
	tempDir string
}

// NewLoader creates a new Loader staging files under tempDir.
// If tempDir is empty, the system temp directory is used.
func NewLoader(tempDir string) *Loader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Loader{tempDir: tempDir}
}

// Load decodes the image at path, normalizes it to straight-alpha RGBA
// and stages it as a PNG. When targetWidth is positive and differs from
// the decoded width, the buffer is pre-scaled to targetWidth preserving
// aspect ratio; pre-scaling once here avoids per-frame scaling work in
// the compositor. A targetWidth equal to the source width is a no-op.
//
// The returned Image must be released by the caller on every path.
func (l *Loader) Load(path string, targetWidth int) (*Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", diag.ErrImageNotFound, path, err)
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", diag.ErrImageNotFound, path, err)
	}
	defer func() { _ = f.Close() }()

	decoded, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %q (format=%s): %v", diag.ErrImageDecode, path, format, err)
	}

	srcW := decoded.Bounds().Dx()
	srcH := decoded.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: decoded %dx%d", diag.ErrImageConvert, srcW, srcH)
	}

	pix, err := normalize(decoded, srcW, srcH, targetWidth)
	if err != nil {
		return nil, err
	}

	staged, err := l.stage(pix)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Pix:          pix,
		Width:        pix.Bounds().Dx(),
		Height:       pix.Bounds().Dy(),
		SourceWidth:  srcW,
		SourceHeight: srcH,
		StagedPath:   staged,
	}
	active.Add(1)
	return img, nil
}

// normalize converts src to straight-alpha NRGBA, rescaling to
// targetWidth when it is positive and differs from the source width.
func normalize(src image.Image, srcW, srcH, targetWidth int) (*image.NRGBA, error) {
	outW, outH := srcW, srcH
	if targetWidth > 0 && targetWidth != srcW {
		outW = targetWidth
		outH = srcH * targetWidth / srcW
		if outH < 1 {
			outH = 1
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	if outW == srcW && outH == srcH {
		xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	}

	if len(dst.Pix) == 0 {
		return nil, fmt.Errorf("%w: empty buffer after conversion", diag.ErrImageConvert)
	}
	return dst, nil
}

// stage writes the normalized buffer to a temp PNG and returns its path.
func (l *Loader) stage(pix *image.NRGBA) (string, error) {
	f, err := os.CreateTemp(l.tempDir, "overlay_*.png")
	if err != nil {
		return "", fmt.Errorf("%w: create staged file: %v", diag.ErrImageConvert, err)
	}
	name := f.Name()

	if err := png.Encode(f, pix); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%w: encode staged PNG: %v", diag.ErrImageConvert, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("%w: close staged PNG: %v", diag.ErrImageConvert, err)
	}

	return filepath.Clean(name), nil
}
