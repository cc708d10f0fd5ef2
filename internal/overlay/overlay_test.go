package overlay

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/framemark/framemark/internal/diag"
)

// writeTestPNG writes a small RGBA PNG with a translucent pixel so alpha
// survives the round trip.
func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 128})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create test image: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mark.png")
	writeTestPNG(t, src, 80, 20)

	l := NewLoader(dir)
	img, err := l.Load(src, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer img.Release()

	if img.Width != 80 || img.Height != 20 {
		t.Errorf("dimensions = %dx%d, want 80x20", img.Width, img.Height)
	}
	if img.SourceWidth != 80 || img.SourceHeight != 20 {
		t.Errorf("source dimensions = %dx%d, want 80x20", img.SourceWidth, img.SourceHeight)
	}
	if img.Pix == nil {
		t.Fatal("expected a pixel buffer")
	}
	if _, err := os.Stat(img.StagedPath); err != nil {
		t.Errorf("staged file missing: %v", err)
	}

	// Alpha must be straight (non-premultiplied): the NRGBA buffer keeps
	// the original channel values.
	px := img.Pix.NRGBAAt(0, 0)
	if px.A != 128 || px.R != 200 {
		t.Errorf("pixel = %+v, want straight-alpha {200 30 30 128}", px)
	}
}

func TestLoadPrescale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mark.png")
	writeTestPNG(t, src, 400, 100)

	l := NewLoader(dir)
	img, err := l.Load(src, 200)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer img.Release()

	if img.Width != 200 || img.Height != 50 {
		t.Errorf("scaled = %dx%d, want 200x50", img.Width, img.Height)
	}
	if img.SourceWidth != 400 {
		t.Errorf("source width = %d, want 400", img.SourceWidth)
	}
}

func TestLoadPrescaleSkippedWhenWidthMatches(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mark.png")
	writeTestPNG(t, src, 200, 60)

	l := NewLoader(dir)
	img, err := l.Load(src, 200)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer img.Release()

	if img.Width != 200 || img.Height != 60 {
		t.Errorf("dimensions = %dx%d, want unchanged 200x60", img.Width, img.Height)
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.Load(filepath.Join(t.TempDir(), "absent.png"), 0)
	if !errors.Is(err, diag.ErrImageNotFound) {
		t.Errorf("expected ErrImageNotFound, got %v", err)
	}
}

func TestLoadUndecodable(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "junk.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0600); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	l := NewLoader(dir)
	_, err := l.Load(bad, 0)
	if !errors.Is(err, diag.ErrImageDecode) {
		t.Errorf("expected ErrImageDecode, got %v", err)
	}
}

func TestReleaseExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mark.png")
	writeTestPNG(t, src, 16, 16)
	l := NewLoader(dir)

	before := ActiveBuffers()

	img, err := l.Load(src, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := ActiveBuffers(); got != before+1 {
		t.Fatalf("active = %d, want %d", got, before+1)
	}

	staged := img.StagedPath
	img.Release()
	img.Release() // second call must be a no-op

	if got := ActiveBuffers(); got != before {
		t.Errorf("active after double release = %d, want %d", got, before)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged file should be removed, stat err = %v", err)
	}
}

func TestReleaseCountOverManyRuns(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "mark.png")
	writeTestPNG(t, src, 8, 8)
	l := NewLoader(dir)

	before := ActiveBuffers()
	for i := 0; i < 100; i++ {
		img, err := l.Load(src, 0)
		if err != nil {
			t.Fatalf("Load run %d: %v", i, err)
		}
		img.Release()
	}
	if got := ActiveBuffers(); got != before {
		t.Errorf("active after 100 runs = %d, want %d (leak or double free)", got, before)
	}
}
