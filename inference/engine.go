// Package inference - Inference engine interface and implementations.
package inference

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/inference/providers"
	"github.com/scenic-viber/viber/models"
	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/postprocess"
)

// Engine defines the interface for segmentation inference engines.
type Engine interface {
	Predict(ctx context.Context, img image.Image, task postprocess.Task) (*postprocess.Result, error)
	Close() error
}

// EngineBuilder builds an engine with a fluent API.
type EngineBuilder struct {
	config   providers.Config
	provider providers.ExecutionProvider
	model    model.Model
	session  Runner
	logger   *zap.Logger
	err      error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{config: providers.DefaultConfig(), logger: zap.NewNop()}
}

// WithProvider sets the provider for the engine.
//
// Arguments:
//   - args: The provider configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(args providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}

	provider, err := providers.NewProvider(args)
	if err != nil {
		b.err = err
		return b
	}
	b.config = args
	b.provider = provider
	return b
}

// WithModel sets the model for the engine.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(args model.NewModelArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}

	m, err := models.NewModel(args)
	if err != nil {
		b.err = err
		return b
	}
	b.model = m
	return b
}

// WithSession sets an already opened session. Without it Build opens an
// onnxruntime session for the model file.
//
// Arguments:
//   - session: The session to run the model with.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithSession(session Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.session = session
	return b
}

// WithLogger sets the logger for the engine.
func (b *EngineBuilder) WithLogger(logger *zap.Logger) *EngineBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - Engine: The engine.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.model == nil {
		return nil, errors.New("model not configured")
	}

	session := b.session
	if session == nil {
		if b.provider == nil {
			b.provider = providers.NewCPUProvider()
		}
		opts := b.model.Options()
		s, err := NewSession(b.provider, NewSessionArgs{
			ModelPath: opts.Path,
			Inputs:    opts.Inputs,
			Outputs:   opts.Outputs,
			Config:    b.config,
		})
		if err != nil {
			return nil, err
		}
		session = s
		b.logger.Info("onnx session opened",
			zap.String("model", opts.Path),
			zap.String("backbone", string(opts.Backbone)),
			zap.String("provider", string(b.provider.Backend())),
		)
	}

	if l, ok := b.model.(interface{ SetLogger(*zap.Logger) }); ok {
		l.SetLogger(b.logger)
	}

	return &engine{
		model:   b.model,
		session: session,
		logger:  b.logger,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	model   model.Model
	session Runner
	logger  *zap.Logger
}

// Predict runs one image through preprocessing, the session and the task's
// post-processing.
//
// Arguments:
//   - ctx: The context for the prediction, checked between stages.
//   - img: The image to segment.
//   - task: The segmentation task.
//
// Returns:
//   - *postprocess.Result: The segmentation at the image's resolution.
//   - error: The error if any.
func (e *engine) Predict(ctx context.Context, img image.Image, task postprocess.Task) (*postprocess.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	meta, err := e.model.PreProcess(img)
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := e.model.Options()
	outputs, err := e.session.Run(map[string]model.Tensor{
		opts.Inputs[0]: {Shape: meta.Shape, Data: meta.Data},
	})
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	ran := time.Now()

	result, err := e.model.PostProcess(outputs, meta, task)
	if err != nil {
		return nil, errors.Wrap(err, "postprocess")
	}

	e.logger.Debug("prediction",
		zap.String("task", string(task)),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("segments", len(result.Segments)),
		zap.Duration("inference", ran.Sub(start)),
		zap.Duration("postprocess", time.Since(ran)),
	)

	return result, nil
}

// Metrics returns the run statistics of the session. Sessions that do not
// time their runs report zero values.
func (e *engine) Metrics() Metrics {
	if m, ok := e.session.(Metered); ok {
		return m.Metrics()
	}
	return Metrics{}
}

// ResetMetrics clears the session's run statistics.
func (e *engine) ResetMetrics() {
	if m, ok := e.session.(Metered); ok {
		m.ResetMetrics()
	}
}

// Close releases the session.
func (e *engine) Close() error {
	return e.session.Close()
}
