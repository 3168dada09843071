// Package model - Model contracts shared by segmentation model implementations.
package model

import (
	"image"
	"strings"

	"github.com/pkg/errors"

	"github.com/scenic-viber/viber/models/model/preprocess"
	"github.com/scenic-viber/viber/models/postprocess"
)

// Name is the unique identifier of a model architecture.
type Name string

const (
	// ModelNameMask2Former is the name of the Mask2Former universal segmentation model.
	ModelNameMask2Former Name = "mask2former"
)

// Backbone identifies the pretrained feature extractor of a model.
type Backbone string

const (
	// BackboneSwinTiny is the Swin-Tiny backbone.
	BackboneSwinTiny Backbone = "swin-tiny"
	// BackboneSwinSmall is the Swin-Small backbone.
	BackboneSwinSmall Backbone = "swin-small"
	// BackboneSwinBase is the Swin-Base backbone.
	BackboneSwinBase Backbone = "swin-base"
	// BackboneSwinLarge is the Swin-Large backbone.
	BackboneSwinLarge Backbone = "swin-large"
)

// DefaultBackbone is used when no backbone is given.
const DefaultBackbone = BackboneSwinLarge

// ErrUnknownBackbone is returned for backbone names no model is registered for.
var ErrUnknownBackbone = errors.New("unknown backbone")

// Backbones lists every supported backbone.
var Backbones = []Backbone{BackboneSwinTiny, BackboneSwinSmall, BackboneSwinBase, BackboneSwinLarge}

// ParseBackbone normalizes a user supplied backbone name.
//
// Matching is case-insensitive and an empty name selects DefaultBackbone.
//
// Arguments:
//   - s: The backbone name, e.g. "swin-large" or "Swin-Large".
//
// Returns:
//   - Backbone: The matched backbone.
//   - error: ErrUnknownBackbone if the name is not supported.
func ParseBackbone(s string) (Backbone, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return DefaultBackbone, nil
	}
	for _, b := range Backbones {
		if string(b) == name {
			return b, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownBackbone, "%q", s)
}

// Tensor is a dense float32 model output.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// BaseModel describes a loadable model.
type BaseModel struct {
	Name      Name
	Backbone  Backbone
	Path      string
	InputSize int
	Inputs    []string
	Outputs   []string
}

// Model is a segmentation model: it turns images into input tensors and
// raw outputs into results.
type Model interface {
	Options() BaseModel
	PreProcess(img image.Image) (*preprocess.PreprocessingResult, error)
	PostProcess(outputs map[string]Tensor, meta *preprocess.PreprocessingResult, task postprocess.Task) (*postprocess.Result, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name       Name                   `json:"name" yaml:"name"`
	Backbone   Backbone               `json:"backbone" yaml:"backbone"`
	Path       string                 `json:"path" yaml:"path"`
	InputSize  int                    `json:"input_size" yaml:"input_size"`
	Thresholds postprocess.Thresholds `json:"thresholds" yaml:"thresholds"`
	Labels     *OutputClassSet        `json:"-" yaml:"-"`
}
