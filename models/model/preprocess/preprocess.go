// Package preprocess - Image to tensor preprocessing for ONNX models.
package preprocess

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// InputChannels is the number of channels (1 for grayscale, 3 for RGB).
	InputChannels int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization, on the 0-1 scale (if NormalizationType is Standardize).
	MeanValues []float32
	// StdValues for standardization, on the 0-1 scale (if NormalizationType is Standardize).
	StdValues []float32
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the color space (RGB, BGR, Grayscale).
	ColorMode ColorMode
	// KeepAspectRatio if true, maintains aspect ratio with letterboxing.
	KeepAspectRatio bool
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color
	// Interpolation is the resampling filter used for resizing.
	Interpolation resize.InterpolationFunction
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize rescales to [0, 1] then applies mean and std normalization.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
	// ColorModeGrayscale is single channel grayscale.
	ColorModeGrayscale
)

// PreprocessingResult contains the preprocessed image data and metadata.
type PreprocessingResult struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
	// PadLeft is the left padding applied for letterboxing.
	PadLeft int
	// PadTop is the top padding applied for letterboxing.
	PadTop int
	// Shape contains the tensor shape [1, C, H, W] or [1, H, W, C].
	Shape []int64
}

// Preprocessor handles image preprocessing for ONNX models.
type Preprocessor struct {
	config *ModelConfig
	logger *zap.Logger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
// - config: The model-specific preprocessing configuration.
//
// Returns:
// - A configured Preprocessor instance.
//
// @example
//
//	preprocessor := NewPreprocessor(GetMask2FormerConfig(384))
func NewPreprocessor(config *ModelConfig) *Preprocessor {
	if config.LetterboxColor == nil {
		config.LetterboxColor = color.Black
	}

	return &Preprocessor{
		config: config,
		logger: zap.NewNop(),
	}
}

// SetLogger attaches a logger used for debug output.
//
// Arguments:
// - logger: The logger. A nil logger disables output.
func (p *Preprocessor) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p.logger = logger
}

// Config returns the preprocessing configuration.
func (p *Preprocessor) Config() ModelConfig {
	return *p.config
}

// Preprocess performs all necessary preprocessing steps on the input image.
//
// Arguments:
// - img: The decoded input image.
//
// Returns:
// - PreprocessingResult containing the preprocessed tensor and metadata.
// - error if preprocessing fails.
func (p *Preprocessor) Preprocess(img image.Image) (*PreprocessingResult, error) {
	if err := p.validateInput(img); err != nil {
		return nil, errors.Wrap(err, "input validation failed")
	}

	originalWidth := img.Bounds().Dx()
	originalHeight := img.Bounds().Dy()

	p.logger.Debug("preprocessing image",
		zap.String("model", p.config.Name),
		zap.Int("width", originalWidth),
		zap.Int("height", originalHeight),
	)

	resizedImg, scaleX, scaleY, padLeft, padTop := p.resizeImage(img)

	tensor := p.imageToTensor(resizedImg)
	p.normalize(tensor)

	var shape []int64
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int64{1, int64(p.config.InputChannels), int64(p.config.InputHeight), int64(p.config.InputWidth)}
	} else {
		shape = []int64{1, int64(p.config.InputHeight), int64(p.config.InputWidth), int64(p.config.InputChannels)}
	}

	p.logger.Debug("preprocessing complete",
		zap.Int64s("shape", shape),
		zap.Float64("scale_x", scaleX),
		zap.Float64("scale_y", scaleY),
	)

	return &PreprocessingResult{
		Data:           tensor,
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
		ScaleX:         scaleX,
		ScaleY:         scaleY,
		PadLeft:        padLeft,
		PadTop:         padTop,
		Shape:          shape,
	}, nil
}

func (p *Preprocessor) validateInput(img image.Image) error {
	if img == nil {
		return errors.New("image is nil")
	}
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return errors.Errorf("invalid image dimensions: %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if p.config.InputWidth <= 0 || p.config.InputHeight <= 0 {
		return errors.Errorf("invalid model input size: %dx%d", p.config.InputWidth, p.config.InputHeight)
	}
	return nil
}

// resizeImage resizes the image to the model's input dimensions.
//
// Returns:
// - The resized image.
// - scaleX: Horizontal scaling factor.
// - scaleY: Vertical scaling factor.
// - padLeft: Left padding for letterboxing.
// - padTop: Top padding for letterboxing.
func (p *Preprocessor) resizeImage(img image.Image) (image.Image, float64, float64, int, int) {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	scaleX := float64(p.config.InputWidth) / float64(srcWidth)
	scaleY := float64(p.config.InputHeight) / float64(srcHeight)

	if !p.config.KeepAspectRatio {
		resized := resize.Resize(uint(p.config.InputWidth), uint(p.config.InputHeight), img, p.config.Interpolation)
		return resized, scaleX, scaleY, 0, 0
	}

	scale := math.Min(scaleX, scaleY)
	newWidth := max(1, int(float64(srcWidth)*scale))
	newHeight := max(1, int(float64(srcHeight)*scale))

	resized := resize.Resize(uint(newWidth), uint(newHeight), img, p.config.Interpolation)

	padLeft := (p.config.InputWidth - newWidth) / 2
	padTop := (p.config.InputHeight - newHeight) / 2

	letterboxed := image.NewRGBA(image.Rect(0, 0, p.config.InputWidth, p.config.InputHeight))
	draw.Draw(letterboxed, letterboxed.Bounds(), &image.Uniform{p.config.LetterboxColor}, image.Point{}, draw.Src)
	draw.Draw(letterboxed, image.Rect(padLeft, padTop, padLeft+newWidth, padTop+newHeight),
		resized, resized.Bounds().Min, draw.Over)

	return letterboxed, scale, scale, padLeft, padTop
}

// imageToTensor converts an image to a float32 tensor with 0-255 values.
func (p *Preprocessor) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	tensor := make([]float32, plane*p.config.InputChannels)

	idx := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r8 := float32(uint8(r >> 8))
			g8 := float32(uint8(g >> 8))
			b8 := float32(uint8(b >> 8))

			if p.config.InputChannels == 1 {
				gray := 0.299*r8 + 0.587*g8 + 0.114*b8
				tensor[y*width+x] = gray
				continue
			}

			ch0, ch1, ch2 := r8, g8, b8
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = b8, r8
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[y*width+x] = ch0
				tensor[plane+y*width+x] = ch1
				tensor[2*plane+y*width+x] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

// normalize applies normalization to the tensor in place.
func (p *Preprocessor) normalize(tensor []float32) {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		for i := range tensor {
			tensor[i] /= 255.0
		}
	case NormalizeMinusOneToOne:
		for i := range tensor {
			tensor[i] = (tensor[i] / 127.5) - 1.0
		}
	case NormalizeStandardize:
		for i := range tensor {
			tensor[i] /= 255.0
		}
		if len(p.config.MeanValues) != p.config.InputChannels ||
			len(p.config.StdValues) != p.config.InputChannels {
			return
		}

		pixelsPerChannel := len(tensor) / p.config.InputChannels
		for c := 0; c < p.config.InputChannels; c++ {
			mean := p.config.MeanValues[c]
			std := p.config.StdValues[c]

			if p.config.ChannelOrder == ChannelOrderCHW {
				offset := c * pixelsPerChannel
				for i := 0; i < pixelsPerChannel; i++ {
					tensor[offset+i] = (tensor[offset+i] - mean) / std
				}
			} else {
				for i := c; i < len(tensor); i += p.config.InputChannels {
					tensor[i] = (tensor[i] - mean) / std
				}
			}
		}
	}
}

// ImageNet statistics used by Swin backbones.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// GetMask2FormerConfig returns the preprocessing configuration for Mask2Former exports.
//
// The image is stretched to a square input (no letterbox) so the mask logits
// map back to the full frame, rescaled to [0, 1] and standardized with
// ImageNet statistics in RGB, CHW order.
//
// Arguments:
// - inputSize: The square input size of the exported model.
//
// Returns:
// - A configured ModelConfig.
func GetMask2FormerConfig(inputSize int) *ModelConfig {
	return &ModelConfig{
		Name:              "mask2former",
		InputWidth:        inputSize,
		InputHeight:       inputSize,
		InputChannels:     3,
		NormalizationType: NormalizeStandardize,
		MeanValues:        ImageNetMean,
		StdValues:         ImageNetStd,
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
		KeepAspectRatio:   false,
		Interpolation:     resize.Bilinear,
	}
}
