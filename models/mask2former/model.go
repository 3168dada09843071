// Package mask2former - Mask2Former universal segmentation model.
//
// The network itself runs inside an ONNX export of the Hugging Face
// checkpoint; this package owns the tensor layout on both sides of it.
package mask2former

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/model/preprocess"
	"github.com/scenic-viber/viber/models/postprocess"
)

// Tensor names of the exported graph.
const (
	InputPixelValues  = "pixel_values"
	OutputClassLogits = "class_queries_logits"
	OutputMaskLogits  = "masks_queries_logits"
)

// BackboneSpec describes the pretrained checkpoint for a backbone.
type BackboneSpec struct {
	// Checkpoint is the upstream checkpoint the ONNX file was exported from.
	Checkpoint string
	// ModelFile is the default ONNX file name.
	ModelFile string
	// InputSize is the square input resolution of the export.
	InputSize int
}

// Backbones maps supported backbones to their checkpoints.
var Backbones = map[model.Backbone]BackboneSpec{
	model.BackboneSwinTiny: {
		Checkpoint: "facebook/mask2former-swin-tiny-mapillary-vistas-semantic",
		ModelFile:  "mask2former-swin-tiny-mapillary-vistas.onnx",
		InputSize:  384,
	},
	model.BackboneSwinSmall: {
		Checkpoint: "facebook/mask2former-swin-small-mapillary-vistas-semantic",
		ModelFile:  "mask2former-swin-small-mapillary-vistas.onnx",
		InputSize:  384,
	},
	model.BackboneSwinBase: {
		Checkpoint: "facebook/mask2former-swin-base-IN21k-mapillary-vistas-semantic",
		ModelFile:  "mask2former-swin-base-mapillary-vistas.onnx",
		InputSize:  384,
	},
	model.BackboneSwinLarge: {
		Checkpoint: "facebook/mask2former-swin-large-mapillary-vistas-semantic",
		ModelFile:  "mask2former-swin-large-mapillary-vistas.onnx",
		InputSize:  384,
	},
}

// Options is the options for the Mask2Former model.
type Options struct {
	Backbone   model.Backbone         `json:"backbone" yaml:"backbone"`
	Path       string                 `json:"path" yaml:"path"`
	InputSize  int                    `json:"input_size" yaml:"input_size"`
	Thresholds postprocess.Thresholds `json:"thresholds" yaml:"thresholds"`
}

// Mask2Former is the instance of the Mask2Former model.
type Mask2Former struct {
	options      Options
	labels       *model.OutputClassSet
	preprocessor *preprocess.Preprocessor
}

// NewModel creates a new model.
//
// Arguments:
//   - args: The arguments for creating a new model. Path and InputSize fall
//     back to the backbone defaults.
//
// Returns:
//   - The model.
//   - An error if the backbone is not supported or no label set is given.
func NewModel(args model.NewModelArgs) (*Mask2Former, error) {
	bb, ok := Backbones[args.Backbone]
	if !ok {
		return nil, errors.Wrapf(model.ErrUnknownBackbone, "%q", args.Backbone)
	}
	if args.Labels == nil || args.Labels.Len() == 0 {
		return nil, errors.New("mask2former: label set is required")
	}

	opts := Options{
		Backbone:   args.Backbone,
		Path:       args.Path,
		InputSize:  args.InputSize,
		Thresholds: args.Thresholds.WithDefaults(),
	}
	if opts.Path == "" {
		opts.Path = bb.ModelFile
	}
	if opts.InputSize <= 0 {
		opts.InputSize = bb.InputSize
	}

	return &Mask2Former{
		options:      opts,
		labels:       args.Labels,
		preprocessor: preprocess.NewPreprocessor(preprocess.GetMask2FormerConfig(opts.InputSize)),
	}, nil
}

// Options returns the options for the Mask2Former model.
func (m *Mask2Former) Options() model.BaseModel {
	return model.BaseModel{
		Name:      model.ModelNameMask2Former,
		Backbone:  m.options.Backbone,
		Path:      m.options.Path,
		InputSize: m.options.InputSize,
		Inputs:    []string{InputPixelValues},
		Outputs:   []string{OutputClassLogits, OutputMaskLogits},
	}
}

// Labels returns the label set of the model.
func (m *Mask2Former) Labels() *model.OutputClassSet {
	return m.labels
}

// Thresholds returns the post-processing thresholds in use.
func (m *Mask2Former) Thresholds() postprocess.Thresholds {
	return m.options.Thresholds
}

// SetLogger sends the preprocessing debug output to logger.
func (m *Mask2Former) SetLogger(logger *zap.Logger) {
	m.preprocessor.SetLogger(logger)
}

// PreProcess resizes and normalizes the image into a [1, 3, S, S] tensor.
func (m *Mask2Former) PreProcess(img image.Image) (*preprocess.PreprocessingResult, error) {
	return m.preprocessor.Preprocess(img)
}
