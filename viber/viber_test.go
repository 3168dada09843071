package viber

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenic-viber/viber/images"
	"github.com/scenic-viber/viber/models/mask2former"
	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/postprocess"
)

// stubEngine labels every pixel with one class and records what it was asked.
type stubEngine struct {
	label   int32
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	task    postprocess.Task
	closed  bool
}

func (s *stubEngine) Predict(ctx context.Context, img image.Image, task postprocess.Task) (*postprocess.Result, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	s.calls.Add(1)
	s.task = task

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	time.Sleep(time.Millisecond)

	b := img.Bounds()
	labels := make([]int32, b.Dx()*b.Dy())
	for i := range labels {
		labels[i] = s.label
	}
	return &postprocess.Result{Task: task, Width: b.Dx(), Height: b.Dy(), Labels: labels}, nil
}

func (s *stubEngine) Close() error {
	s.closed = true
	return nil
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 160, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNewSwinLargeWithoutModelFiles(t *testing.T) {
	m, err := New("swin-large")
	require.NoError(t, err)
	assert.Equal(t, model.BackboneSwinLarge, m.Backbone())
	assert.Equal(t, filepath.Join("", mask2former.Backbones[model.BackboneSwinLarge].ModelFile), m.ModelPath())
	require.NoError(t, m.Close())
}

func TestNew(t *testing.T) {
	m, err := New("swin-large")
	require.NoError(t, err)
	assert.Equal(t, model.BackboneSwinLarge, m.Backbone())
	assert.Equal(t, postprocess.TaskSemantic, m.Task())
	assert.Equal(t, "mask2former-swin-large-mapillary-vistas.onnx", m.ModelPath())
	assert.Len(t, m.Labels(), 65)

	m, err = New("Swin-Tiny", WithTask(postprocess.TaskPanoptic), WithModelDir("/models"))
	require.NoError(t, err)
	assert.Equal(t, model.BackboneSwinTiny, m.Backbone())
	assert.Equal(t, postprocess.TaskPanoptic, m.Task())
	assert.Equal(t, filepath.Join("/models", "mask2former-swin-tiny-mapillary-vistas.onnx"), m.ModelPath())

	m, err = New("", WithModelPath("custom.onnx"), WithModelDir("/ignored"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultBackbone, m.Backbone())
	assert.Equal(t, "custom.onnx", m.ModelPath())
}

func TestNewErrors(t *testing.T) {
	_, err := New("resnet-101")
	assert.True(t, errors.Is(err, ErrUnknownBackbone))

	_, err = New("swin-large", WithTask("depth"))
	assert.True(t, errors.Is(err, postprocess.ErrUnknownTask))
}

func TestPredict(t *testing.T) {
	path := writePNG(t, t.TempDir(), "landscape.png", 12, 8)
	engine := &stubEngine{label: 27}

	m, err := New("swin-large", WithEngine(engine), WithTask(postprocess.TaskInstance))
	require.NoError(t, err)

	result, err := m.Predict(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Width)
	assert.Equal(t, 8, result.Height)
	assert.Equal(t, postprocess.TaskInstance, engine.task)
	assert.EqualValues(t, 1, engine.calls.Load())

	require.NoError(t, m.Close())
	assert.True(t, engine.closed)
	require.NoError(t, m.Close())
}

func TestPredictImageErrors(t *testing.T) {
	dir := t.TempDir()
	engine := &stubEngine{}
	m, err := New("swin-large", WithEngine(engine))
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("hello"), 0o644))
	_, err = m.Predict(context.Background(), notes)
	assert.True(t, errors.Is(err, images.ErrUnsupportedFormat))

	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("\x89PNG\r\n\x1a\nbroken"), 0o644))
	_, err = m.Predict(context.Background(), broken)
	assert.Error(t, err)

	assert.Zero(t, engine.calls.Load())
}

func TestPredictCancelled(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", 4, 4)
	m, err := New("swin-large", WithEngine(&stubEngine{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, path)
	assert.True(t, errors.Is(err, context.Canceled))
}

// vegetationSession answers every run with a single query covering the
// whole mask with Vegetation.
type vegetationSession struct {
	runs int
}

func (v *vegetationSession) Run(map[string]model.Tensor) (map[string]model.Tensor, error) {
	v.runs++
	const classes = 66
	logits := make([]float32, classes)
	logits[30] = 10
	masks := []float32{10, 10, 10, 10}
	return map[string]model.Tensor{
		mask2former.OutputClassLogits: {Shape: []int64{1, 1, classes}, Data: logits},
		mask2former.OutputMaskLogits:  {Shape: []int64{1, 1, 2, 2}, Data: masks},
	}, nil
}

func (v *vegetationSession) Close() error { return nil }

func TestLoadFailureIsRetried(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", 4, 4)
	modelPath := filepath.Join(dir, "late.onnx")
	session := &vegetationSession{}

	m, err := New("swin-large", WithModelPath(modelPath), WithInputSize(32), WithSession(session))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = m.Predict(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model file for swin-large not found")
	}
	_, ok := m.SessionMetrics()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))

	result, err := m.Predict(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, session.runs)
	assert.Equal(t, 16, result.ClassPixels(30))

	metrics, ok := m.SessionMetrics()
	assert.True(t, ok)
	assert.Zero(t, metrics.InferenceCount)
	m.ResetSessionMetrics()

	require.NoError(t, m.Close())
}

func TestPredictSerialised(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", 6, 6)
	engine := &stubEngine{}
	m, err := New("swin-large", WithEngine(engine))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Predict(context.Background(), path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8, engine.calls.Load())
	assert.False(t, engine.overlap.Load())
}
