package mask2former

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/model/preprocess"
	"github.com/scenic-viber/viber/models/postprocess"
)

func testLabels() *model.OutputClassSet {
	set := &model.OutputClassSet{
		Dataset: "test",
		Classes: []model.OutputClass{{Index: 0, Name: "Sky"}, {Index: 1, Name: "Road"}, {Index: 2, Name: "Water"}},
	}
	set.BuildNameIndexMap()
	return set
}

func newTestModel(t *testing.T, th postprocess.Thresholds) *Mask2Former {
	m, err := NewModel(model.NewModelArgs{
		Backbone:   model.BackboneSwinLarge,
		InputSize:  32,
		Thresholds: th,
		Labels:     testLabels(),
	})
	require.NoError(t, err)
	return m
}

// query builds class logits for 3 classes plus the null class.
func query(label int) []float32 {
	logits := []float32{0, 0, 0, 0}
	logits[label] = 10
	return logits
}

const (
	on  = float32(10)
	off = float32(-10)
)

// outputs builds a 2x2 mask resolution output from per query class logits and masks.
func outputs(classes [][]float32, masks [][]float32) map[string]model.Tensor {
	var cls, msk []float32
	for i := range classes {
		cls = append(cls, classes[i]...)
		msk = append(msk, masks[i]...)
	}
	q := int64(len(classes))
	return map[string]model.Tensor{
		OutputClassLogits: {Shape: []int64{1, q, 4}, Data: cls},
		OutputMaskLogits:  {Shape: []int64{1, q, 2, 2}, Data: msk},
	}
}

func meta(width, height int) *preprocess.PreprocessingResult {
	return &preprocess.PreprocessingResult{OriginalWidth: width, OriginalHeight: height}
}

func TestNewModelDefaults(t *testing.T) {
	m, err := NewModel(model.NewModelArgs{Backbone: model.BackboneSwinBase, Labels: testLabels()})
	require.NoError(t, err)

	opts := m.Options()
	assert.Equal(t, model.ModelNameMask2Former, opts.Name)
	assert.Equal(t, Backbones[model.BackboneSwinBase].ModelFile, opts.Path)
	assert.Equal(t, 384, opts.InputSize)
	assert.Equal(t, []string{InputPixelValues}, opts.Inputs)
	assert.Equal(t, []string{OutputClassLogits, OutputMaskLogits}, opts.Outputs)
	assert.Equal(t, postprocess.DefaultThresholds(), m.Thresholds())

	_, err = NewModel(model.NewModelArgs{Backbone: "vit-huge", Labels: testLabels()})
	assert.ErrorIs(t, err, model.ErrUnknownBackbone)

	_, err = NewModel(model.NewModelArgs{Backbone: model.BackboneSwinLarge})
	assert.Error(t, err)
}

func TestPreProcessShape(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})

	img := image.NewRGBA(image.Rect(0, 0, 50, 20))
	img.Set(0, 0, color.White)

	result, err := m.PreProcess(img)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 32, 32}, result.Shape)
	assert.Equal(t, 50, result.OriginalWidth)
}

func TestSemantic(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	out := outputs(
		[][]float32{query(0), query(2)},
		[][]float32{{on, off, on, off}, {off, on, off, on}},
	)

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskSemantic)
	require.NoError(t, err)

	assert.Equal(t, postprocess.TaskSemantic, result.Task)
	assert.Equal(t, []int32{0, 2, 0, 2}, result.Labels)
	assert.Equal(t, []string{"Sky", "Road", "Water"}, result.ClassNames)
	assert.Nil(t, result.Segments)
}

func TestSemanticUpsample(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	out := outputs(
		[][]float32{query(0), query(2)},
		[][]float32{{on, off, on, off}, {off, on, off, on}},
	)

	result, err := m.PostProcess(out, meta(8, 6), postprocess.TaskSemantic)
	require.NoError(t, err)

	require.Len(t, result.Labels, 48)
	assert.Equal(t, 24, result.ClassPixels(0))
	assert.Equal(t, 24, result.ClassPixels(2))
	assert.Equal(t, int32(0), result.Labels[0])
	assert.Equal(t, int32(2), result.Labels[7])
}

func TestResizeArgmax(t *testing.T) {
	// classes Sky, Road, Water over a 2x1 map: column 0 is clearly sky,
	// column 1 leans water.
	scores := []float32{
		0.9, 0.4,
		0, 0,
		0, 0.5,
	}

	assert.Equal(t, []int32{0, 2}, resizeArgmax(scores, 3, 2, 1, 2, 1))
	// the middle pixel blends both columns: sky 0.65 against water 0.25.
	assert.Equal(t, []int32{0, 0, 2}, resizeArgmax(scores, 3, 2, 1, 3, 1))
	assert.Equal(t, []int32{
		0, 0, 2,
		0, 0, 2,
	}, resizeArgmax(scores, 3, 2, 1, 3, 2))
}

func TestBilinearTaps(t *testing.T) {
	taps := bilinearTaps(2, 4)
	assert.Equal(t, tap{lo: 0, hi: 1, frac: 0}, taps[0])
	assert.Equal(t, 0, taps[1].lo)
	assert.InDelta(t, 0.25, taps[1].frac, 1e-6)
	assert.InDelta(t, 0.75, taps[2].frac, 1e-6)
	// past the last centre both taps clamp to the edge.
	assert.Equal(t, 1, taps[3].lo)
	assert.Equal(t, 1, taps[3].hi)
}

func TestInstance(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	out := outputs(
		[][]float32{query(1), query(2), query(3)},
		[][]float32{
			{on, on, off, off},
			{off, off, on, off},
			{on, on, on, on},
		},
	)

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskInstance)
	require.NoError(t, err)

	require.Len(t, result.Segments, 2, "the null class query is dropped")
	assert.Equal(t, []int32{1, 1, 2, 0}, result.SegmentIDs)

	byLabel := map[string]postprocess.Segment{}
	for _, s := range result.Segments {
		byLabel[s.Label] = s
	}
	road := byLabel["Road"]
	assert.Equal(t, 2, road.Area)
	assert.Greater(t, road.Score, float32(0.9))
	water := byLabel["Water"]
	assert.Equal(t, 1, water.Area)
	assert.Equal(t, 0, water.Box.X1)
	assert.Equal(t, 1, water.Box.Y1)
	assert.Equal(t, 1, water.Box.Area())
}

func TestPanoptic(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	out := outputs(
		[][]float32{query(0), query(1), query(3)},
		[][]float32{
			{on, on, off, off},
			{off, off, on, on},
			{on, on, on, on},
		},
	)

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskPanoptic)
	require.NoError(t, err)

	require.Len(t, result.Segments, 2)
	assert.Equal(t, []int32{1, 1, 2, 2}, result.SegmentIDs)
	assert.Equal(t, 2, result.ClassPixels(0))
	assert.Equal(t, 2, result.ClassPixels(1))
}

func TestPanopticOverlapRejected(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})

	weaker := query(1)
	weaker[1] = 3
	out := outputs(
		[][]float32{query(0), weaker},
		[][]float32{
			{on, on, off, off},
			{on, on, on, on},
		},
	)

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskPanoptic)
	require.NoError(t, err)

	// The weaker query keeps only half of its own mask, below the 0.8 overlap threshold.
	require.Len(t, result.Segments, 1)
	assert.Equal(t, "Sky", result.Segments[0].Label)
	assert.Equal(t, []int32{1, 1, 0, 0}, result.SegmentIDs)
}

func TestPanopticFuse(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{FuseLabels: []int{1}})
	out := outputs(
		[][]float32{query(1), query(1)},
		[][]float32{
			{on, on, off, off},
			{off, off, on, on},
		},
	)

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskPanoptic)
	require.NoError(t, err)

	require.Len(t, result.Segments, 1)
	assert.Equal(t, 4, result.Segments[0].Area)
	assert.Equal(t, []int32{1, 1, 1, 1}, result.SegmentIDs)
}

func TestPanopticNothingKept(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	out := outputs([][]float32{query(3)}, [][]float32{{on, on, on, on}})

	result, err := m.PostProcess(out, meta(2, 2), postprocess.TaskPanoptic)
	require.NoError(t, err)
	assert.Empty(t, result.Segments)
	assert.Equal(t, []int32{0, 0, 0, 0}, result.SegmentIDs)
}

func TestPostProcessErrors(t *testing.T) {
	m := newTestModel(t, postprocess.Thresholds{})
	good := outputs([][]float32{query(0)}, [][]float32{{on, on, on, on}})

	_, err := m.PostProcess(good, nil, postprocess.TaskSemantic)
	assert.Error(t, err)

	_, err = m.PostProcess(good, meta(2, 2), "depth")
	assert.ErrorIs(t, err, postprocess.ErrUnknownTask)

	_, err = m.PostProcess(map[string]model.Tensor{OutputClassLogits: good[OutputClassLogits]}, meta(2, 2), postprocess.TaskSemantic)
	assert.Error(t, err)

	badShape := outputs([][]float32{query(0)}, [][]float32{{on, on, on, on}})
	badShape[OutputMaskLogits] = model.Tensor{Shape: []int64{1, 2, 2, 2}, Data: make([]float32, 8)}
	_, err = m.PostProcess(badShape, meta(2, 2), postprocess.TaskSemantic)
	assert.Error(t, err)

	short := outputs([][]float32{query(0)}, [][]float32{{on, on, on, on}})
	short[OutputClassLogits] = model.Tensor{Shape: []int64{1, 1, 4}, Data: []float32{1}}
	_, err = m.PostProcess(short, meta(2, 2), postprocess.TaskSemantic)
	assert.Error(t, err)
}

func TestSoftmaxAndSigmoid(t *testing.T) {
	out := make([]float32, 3)
	softmax([]float32{1, 1, 1}, out)
	for _, v := range out {
		assert.InDelta(t, 1.0/3.0, v, 1e-6)
	}
	assert.InDelta(t, 0.5, sigmoid(0), 1e-6)

	score, idx := argmax([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, score, 1e-6)
}

func TestUpsampleLabels(t *testing.T) {
	src := []int32{1, 2, 3, 4}

	assert.Equal(t, src, upsampleLabels(src, 2, 2, 2, 2))
	assert.Equal(t, []int32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, upsampleLabels(src, 2, 2, 4, 4))
	assert.Equal(t, []int32{4}, upsampleLabels(src, 2, 2, 1, 1))
}
