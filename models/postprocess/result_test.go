package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTask(t *testing.T) {
	for in, want := range map[string]Task{
		"":          TaskSemantic,
		"semantic":  TaskSemantic,
		"Instance":  TaskInstance,
		" PANOPTIC": TaskPanoptic,
	} {
		got, err := ParseTask(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseTask("depth")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestThresholdsWithDefaults(t *testing.T) {
	got := Thresholds{Score: 0.7}.WithDefaults()
	assert.Equal(t, float32(0.7), got.Score)
	assert.Equal(t, float32(0.5), got.Mask)
	assert.Equal(t, float32(0.8), got.OverlapArea)
}

func TestSemanticBreakdown(t *testing.T) {
	r := &Result{
		Task:       TaskSemantic,
		Width:      4,
		Height:     2,
		Labels:     []int32{0, 0, 0, 0, 1, 1, 1, 2},
		ClassNames: []string{"Sky", "Road"},
	}

	assert.Equal(t, 8, r.TotalPixels())
	assert.Equal(t, 7, r.ClassPixels(0, 1))
	assert.Equal(t, 4, r.ClassPixels(0, 0), "duplicate ids count once")
	assert.Equal(t, 0, r.ClassPixels())

	breakdown := r.Breakdown(0.2)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "Sky", breakdown[0].Label)
	assert.InDelta(t, 0.5, breakdown[0].Ratio, 1e-9)
	assert.Equal(t, "Road", breakdown[1].Label)

	all := r.Breakdown(0)
	require.Len(t, all, 3)
	assert.Equal(t, "class_2", all[2].Label)
}

func TestSegmentBreakdown(t *testing.T) {
	r := &Result{
		Task:   TaskPanoptic,
		Width:  10,
		Height: 10,
		Segments: []Segment{
			{ID: 1, LabelID: 3, Area: 30},
			{ID: 2, LabelID: 3, Area: 20},
			{ID: 3, LabelID: 5, Area: 10},
		},
		ClassNames: []string{"a", "b", "c", "Car", "d", "Person"},
	}

	assert.Equal(t, 50, r.ClassPixels(3))
	breakdown := r.Breakdown(0.05)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "Car", breakdown[0].Label)
	assert.Equal(t, 50, breakdown[0].Pixels)
	assert.Equal(t, "Person", breakdown[1].Label)

	assert.Nil(t, (&Result{}).Breakdown(0))
}
