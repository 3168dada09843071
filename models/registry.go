// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"

	"github.com/scenic-viber/viber/models/mask2former"
	"github.com/scenic-viber/viber/models/model"
)

// NewModel creates a new segmentation model instance based on the specified model name.
//
// This factory function is the entry point for model creation. It resolves the
// backbone, fills in the Mapillary Vistas label set when none is given and routes
// to the model-specific constructor.
//
// Arguments:
//   - args: Configuration parameters specifying the model, backbone and location.
//
// Returns:
//   - model.Model: A configured model instance implementing the Model interface.
//   - error: An error if the model name or backbone is unsupported.
//
// Example:
//
// ```go
//
//	m, err := models.NewModel(model.NewModelArgs{
//	    Backbone: model.BackboneSwinLarge,
//	    Path:     "/models/mask2former-swin-large-mapillary-vistas.onnx",
//	})
//	if err != nil {
//	    log.Fatalf("failed to create model: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs) (model.Model, error) {
	backbone, err := model.ParseBackbone(string(args.Backbone))
	if err != nil {
		return nil, err
	}
	args.Backbone = backbone

	if args.Labels == nil {
		args.Labels = MapillaryVistas
	}

	switch args.Name {
	case "", model.ModelNameMask2Former:
		m, err := mask2former.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Errorf("unsupported model name: %s", args.Name)
	}
}
