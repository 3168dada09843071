package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(width, height int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// TestPreprocessMask2Former validates the full pipeline for the Mask2Former configuration.
func TestPreprocessMask2Former(t *testing.T) {
	p := NewPreprocessor(GetMask2FormerConfig(64))

	result, err := p.Preprocess(solidImage(200, 100, color.RGBA{R: 255, G: 128, B: 0, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 64, 64}, result.Shape)
	assert.Len(t, result.Data, 3*64*64)
	assert.Equal(t, 200, result.OriginalWidth)
	assert.Equal(t, 100, result.OriginalHeight)
	assert.InDelta(t, 64.0/200.0, result.ScaleX, 1e-9)
	assert.InDelta(t, 64.0/100.0, result.ScaleY, 1e-9)

	plane := 64 * 64
	expectedR := (1.0 - ImageNetMean[0]) / ImageNetStd[0]
	expectedG := (128.0/255.0 - ImageNetMean[1]) / ImageNetStd[1]
	expectedB := (0.0 - ImageNetMean[2]) / ImageNetStd[2]
	assert.InDelta(t, expectedR, result.Data[0], 0.02, "red plane comes first")
	assert.InDelta(t, expectedG, result.Data[plane], 0.02)
	assert.InDelta(t, expectedB, result.Data[2*plane+10], 0.02)
}

func TestPreprocessLetterbox(t *testing.T) {
	cfg := &ModelConfig{
		Name:              "letterbox",
		InputWidth:        40,
		InputHeight:       40,
		InputChannels:     3,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderHWC,
		KeepAspectRatio:   true,
		Interpolation:     resize.NearestNeighbor,
	}
	p := NewPreprocessor(cfg)

	result, err := p.Preprocess(solidImage(80, 40, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 40, 40, 3}, result.Shape)
	assert.Equal(t, 0, result.PadLeft)
	assert.Equal(t, 10, result.PadTop)
	assert.InDelta(t, 0.5, result.ScaleX, 1e-9)

	// Top rows are padding, the middle is image.
	assert.InDelta(t, 0.0, result.Data[0], 1e-6)
	middle := (20*40 + 20) * 3
	assert.InDelta(t, 1.0, result.Data[middle], 1e-6)
}

func TestPreprocessBGRAndMinusOne(t *testing.T) {
	cfg := &ModelConfig{
		InputWidth:        4,
		InputHeight:       4,
		InputChannels:     3,
		NormalizationType: NormalizeMinusOneToOne,
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeBGR,
	}
	p := NewPreprocessor(cfg)

	result, err := p.Preprocess(solidImage(4, 4, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
	require.NoError(t, err)

	assert.InDelta(t, -1.0, result.Data[0], 1e-6, "blue plane first for BGR")
	assert.InDelta(t, 1.0, result.Data[2*16], 1e-6)
}

func TestPreprocessGrayscale(t *testing.T) {
	cfg := &ModelConfig{
		InputWidth:        2,
		InputHeight:       2,
		InputChannels:     1,
		NormalizationType: NormalizeNone,
		ColorMode:         ColorModeGrayscale,
	}
	p := NewPreprocessor(cfg)

	result, err := p.Preprocess(solidImage(2, 2, color.RGBA{R: 100, G: 100, B: 100, A: 255}))
	require.NoError(t, err)
	assert.Len(t, result.Data, 4)
	assert.InDelta(t, 100.0, result.Data[3], 0.5)
}

func TestPreprocessValidation(t *testing.T) {
	p := NewPreprocessor(GetMask2FormerConfig(32))

	_, err := p.Preprocess(nil)
	assert.Error(t, err)

	_, err = p.Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)

	bad := NewPreprocessor(&ModelConfig{InputChannels: 3})
	_, err = bad.Preprocess(solidImage(4, 4, color.RGBA{A: 255}))
	assert.Error(t, err)
}
