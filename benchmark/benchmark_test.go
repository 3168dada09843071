package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenic-viber/viber/inference"
	"github.com/scenic-viber/viber/models/postprocess"
)

type stubPredictor struct {
	calls  int
	failOn map[int]bool
	delay  time.Duration
}

func (s *stubPredictor) PredictImage(_ context.Context, img image.Image) (*postprocess.Result, error) {
	call := s.calls
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failOn[call] {
		return nil, errors.New("boom")
	}
	b := img.Bounds()
	return &postprocess.Result{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Segments: []postprocess.Segment{{ID: 1}},
	}, nil
}

func testImages(n int) []image.Image {
	imgs := make([]image.Image, n)
	for i := range imgs {
		imgs[i] = image.NewRGBA(image.Rect(0, 0, 4, 4))
	}
	return imgs
}

func TestRun(t *testing.T) {
	p := &stubPredictor{delay: time.Millisecond}
	sc := Scenario{Name: "sequential", Backbone: "swin-large", Task: "semantic", Iterations: 5, WarmupRuns: 2}

	m, err := Run(context.Background(), p, testImages(2), sc)
	require.NoError(t, err)

	assert.Equal(t, 7, p.calls)
	assert.Equal(t, sc, m.Scenario)
	assert.Equal(t, 2, m.Images)
	assert.Equal(t, 5, m.SegmentCount)
	assert.Zero(t, m.Errors)
	assert.Zero(t, m.ErrorRate)
	assert.Greater(t, m.FramesPerSecond, 0.0)
	assert.GreaterOrEqual(t, m.MaxDuration, m.AverageDuration)
	assert.GreaterOrEqual(t, m.AverageDuration, m.MinDuration)
	assert.GreaterOrEqual(t, m.MinDuration, time.Millisecond)
}

func TestRunCountsErrors(t *testing.T) {
	// warmup consumes call 0; calls 1 and 3 are timed iterations.
	p := &stubPredictor{failOn: map[int]bool{0: true, 1: true, 3: true}}
	m, err := Run(context.Background(), p, testImages(1), Scenario{Iterations: 4, WarmupRuns: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Errors)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, 2, m.SegmentCount)
}

func TestRunDefaultsIterations(t *testing.T) {
	p := &stubPredictor{}
	m, err := Run(context.Background(), p, testImages(3), Scenario{})
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 3, m.Scenario.Iterations)
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), &stubPredictor{}, nil, Scenario{Iterations: 1})
	assert.ErrorIs(t, err, ErrNoImages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubPredictor{}
	_, err = Run(ctx, p, testImages(1), Scenario{Iterations: 3})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.calls)
}

func TestWriteJSON(t *testing.T) {
	m, err := Run(context.Background(), &stubPredictor{}, testImages(1), Scenario{Name: "json", Iterations: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "json", decoded["scenario"].(map[string]any)["name"])
	assert.InDelta(t, 1, decoded["images"], 0)
	assert.Contains(t, decoded, "memory_stats")
}

// meteredPredictor counts session runs the way a loaded model does.
type meteredPredictor struct {
	stubPredictor
	runs   int64
	resets int
}

func (m *meteredPredictor) PredictImage(ctx context.Context, img image.Image) (*postprocess.Result, error) {
	m.runs++
	return m.stubPredictor.PredictImage(ctx, img)
}

func (m *meteredPredictor) SessionMetrics() (inference.Metrics, bool) {
	return inference.Metrics{InferenceCount: m.runs, TotalTime: time.Duration(m.runs) * time.Millisecond}, true
}

func (m *meteredPredictor) ResetSessionMetrics() {
	m.resets++
	m.runs = 0
}

func TestRunSessionMetrics(t *testing.T) {
	p := &meteredPredictor{}
	m, err := Run(context.Background(), p, testImages(2), Scenario{Iterations: 3, WarmupRuns: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, p.resets)
	require.NotNil(t, m.Session)
	assert.EqualValues(t, 3, m.Session.InferenceCount)
	assert.Equal(t, 3*time.Millisecond, m.Session.TotalTime)

	plain, err := Run(context.Background(), &stubPredictor{}, testImages(1), Scenario{Iterations: 1})
	require.NoError(t, err)
	assert.Nil(t, plain.Session)
}
