package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framemark/framemark/internal/compose"
	"github.com/framemark/framemark/internal/diag"
	"github.com/framemark/framemark/internal/geometry"
	"github.com/framemark/framemark/internal/overlay"
	"github.com/framemark/framemark/internal/probe"
)

// --- fakes ---

type fakeProber struct {
	src   *probe.Source
	err   error
	calls atomic.Int32
}

func (f *fakeProber) Probe(_ context.Context, path string) (*probe.Source, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	src := *f.src
	src.Path = path
	return &src, nil
}

// countingLoader wraps the real loader so buffer accounting stays
// exercised while the test can observe call ordering.
type countingLoader struct {
	inner *overlay.Loader
	calls atomic.Int32
}

func (l *countingLoader) Load(path string, targetWidth int) (*overlay.Image, error) {
	l.calls.Add(1)
	return l.inner.Load(path, targetWidth)
}

type fakeCompositor struct {
	mu sync.Mutex

	compositeErr error
	detectErr    error
	transcodeErr error
	encoder      string

	primaryContent   []byte
	secondaryContent []byte
	// partialOnFail writes junk to the output before a failing transcode
	// returns, mimicking an encoder dying mid-file.
	partialOnFail bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	transcodes  atomic.Int32
}

func (f *fakeCompositor) enter() {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
}

func (f *fakeCompositor) Composite(_ context.Context, _ *compose.Plan, outputPath string) error {
	f.enter()
	defer f.inFlight.Add(-1)
	if f.compositeErr != nil {
		return f.compositeErr
	}
	return os.WriteFile(outputPath, f.primaryContent, 0600)
}

func (f *fakeCompositor) Transcode(_ context.Context, inputPath, outputPath, _ string) error {
	f.enter()
	defer f.inFlight.Add(-1)
	f.transcodes.Add(1)
	if _, err := os.Stat(inputPath); err != nil {
		return err
	}
	if f.transcodeErr != nil {
		if f.partialOnFail {
			_ = os.WriteFile(outputPath, []byte("partial"), 0600)
		}
		return f.transcodeErr
	}
	return os.WriteFile(outputPath, f.secondaryContent, 0600)
}

func (f *fakeCompositor) DetectHEVCEncoder(_ context.Context) (string, error) {
	return f.encoder, f.detectErr
}

// --- helpers ---

func writeMark(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mark.png")
	img := image.NewNRGBA(image.Rect(0, 0, 40, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 200})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fixture struct {
	p      *Pipeline
	comp   *fakeCompositor
	prober *fakeProber
	loader *countingLoader
	req    Request
	dir    string
}

func newFixture(t *testing.T, comp *fakeCompositor) *fixture {
	t.Helper()
	dir := t.TempDir()
	prober := &fakeProber{src: &probe.Source{
		Width: 1920, Height: 1080, DurationSec: 10, HasAudio: true,
	}}
	loader := &countingLoader{inner: overlay.NewLoader(dir)}

	video := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0600))

	p := New(prober, loader, comp, quietLogger(), Options{HEVCSecondPass: true})
	t.Cleanup(p.Close)

	return &fixture{
		p:      p,
		comp:   comp,
		prober: prober,
		loader: loader,
		dir:    dir,
		req: Request{
			VideoPath:  video,
			ImagePath:  writeMark(t, dir),
			OutputPath: filepath.Join(dir, "out.mp4"),
			Placement:  geometry.PlacementBottomRight,
		},
	}
}

// --- tests ---

func TestRunPrimaryOnlyWhenNoCapability(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{primaryContent: []byte("primary")})

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)

	assert.Equal(t, fx.req.OutputPath, res.OutputPath)
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "primary", string(data))

	// No capability means no move-aside and no temp artifact.
	_, err = os.Stat(fx.req.OutputPath + tempSuffix)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, fx.comp.transcodes.Load())
}

func TestRunSecondarySuccess(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{
		primaryContent:   []byte("primary"),
		secondaryContent: []byte("hevc"),
		encoder:          "hevc_videotoolbox",
	})

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "hevc", string(data))

	_, err = os.Stat(fx.req.OutputPath + tempSuffix)
	assert.True(t, os.IsNotExist(err), "parked primary must be deleted after a successful second pass")
}

func TestRunSecondaryFailureRollsBack(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{
		primaryContent: []byte("primary"),
		encoder:        "hevc_nvenc",
		transcodeErr:   diag.ErrSecondaryEncode,
		partialOnFail:  true,
	})

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err, "a failed optimization pass must not fail the job")

	// Rollback correctness: the file at the output path byte-equals the
	// primary result, and no temp artifact remains.
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "primary", string(data))

	_, err = os.Stat(fx.req.OutputPath + tempSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestRunPrimaryFailure(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{compositeErr: diag.ErrPrimaryEncode})

	_, err := fx.p.Run(context.Background(), fx.req)
	require.Error(t, err)

	assert.True(t, errors.Is(err, diag.ErrPrimaryEncode))
	assert.Equal(t, diag.StepPrimaryEncode, diag.StepOf(err))

	snap := diag.SnapshotOf(err)
	require.NotNil(t, snap, "encode failures carry a parameter snapshot")
	assert.Equal(t, 1920, snap.EffectiveWidth)
	assert.Equal(t, 1080, snap.EffectiveHeight)

	// No partial output left behind, and no secondary attempt.
	_, statErr := os.Stat(fx.req.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Zero(t, fx.comp.transcodes.Load())
}

func TestRunMoveAsideFailureSkipsSecondary(t *testing.T) {
	comp := &fakeCompositor{
		primaryContent:   []byte("primary"),
		secondaryContent: []byte("hevc"),
		encoder:          "hevc_qsv",
	}
	fx := newFixture(t, comp)

	// A directory squatting on the temp path makes the move-aside rename
	// fail, which must skip the second pass and keep the primary result.
	require.NoError(t, os.Mkdir(fx.req.OutputPath+tempSuffix, 0750))

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)

	data, _ := os.ReadFile(res.OutputPath)
	assert.Equal(t, "primary", string(data))
	assert.Zero(t, comp.transcodes.Load())
}

func TestRunCapabilityProbeErrorKeepsPrimary(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{
		primaryContent: []byte("primary"),
		detectErr:      errors.New("ffmpeg exploded"),
	})

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)

	data, _ := os.ReadFile(res.OutputPath)
	assert.Equal(t, "primary", string(data))
	assert.Zero(t, fx.comp.transcodes.Load())
}

func TestRunRotatedSourceGeometry(t *testing.T) {
	comp := &fakeCompositor{primaryContent: []byte("primary")}
	fx := newFixture(t, comp)
	fx.prober.src = &probe.Source{Width: 1080, Height: 1920, RotationDegrees: 90, DurationSec: 5}

	_, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)
}

func TestRunFailFastOrdering(t *testing.T) {
	fx := newFixture(t, &fakeCompositor{})
	fx.prober.err = diag.ErrVideoMetadata

	_, err := fx.p.Run(context.Background(), fx.req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrVideoMetadata))
	assert.Equal(t, diag.StepProbe, diag.StepOf(err))
	assert.Zero(t, fx.loader.calls.Load(), "overlay must not be decoded when the video cannot be probed")
}

func TestRunSecondPassDisabled(t *testing.T) {
	comp := &fakeCompositor{primaryContent: []byte("primary"), encoder: "hevc_nvenc"}
	fx := newFixture(t, comp)
	fx.p.opts.HEVCSecondPass = false

	res, err := fx.p.Run(context.Background(), fx.req)
	require.NoError(t, err)

	data, _ := os.ReadFile(res.OutputPath)
	assert.Equal(t, "primary", string(data))
	assert.Zero(t, comp.transcodes.Load())
}

func TestRunOverlayReleasedOnEveryPath(t *testing.T) {
	okComp := &fakeCompositor{primaryContent: []byte("primary")}
	fx := newFixture(t, okComp)

	before := overlay.ActiveBuffers()
	for i := 0; i < 100; i++ {
		_, err := fx.p.Run(context.Background(), fx.req)
		require.NoError(t, err)
	}

	failComp := &fakeCompositor{compositeErr: diag.ErrPrimaryEncode}
	fxFail := newFixture(t, failComp)
	for i := 0; i < 100; i++ {
		_, err := fxFail.p.Run(context.Background(), fxFail.req)
		require.Error(t, err)
	}

	assert.Equal(t, before, overlay.ActiveBuffers(), "overlay buffers leaked or double-released")
}

func TestRunSubmissionsSerialized(t *testing.T) {
	comp := &fakeCompositor{
		primaryContent:   []byte("primary"),
		secondaryContent: []byte("hevc"),
		encoder:          "hevc_vaapi",
	}
	fx := newFixture(t, comp)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := fx.req
			req.OutputPath = filepath.Join(fx.dir, "out", "job"+string(rune('a'+n))+".mp4")
			require.NoError(t, os.MkdirAll(filepath.Dir(req.OutputPath), 0750))
			_, err := fx.p.Run(context.Background(), req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), comp.maxInFlight.Load(), "compositor submissions must run one at a time")
}
