// Package viber is the entry point for running Mask2Former segmentation on
// image files.
//
//	m, err := viber.New("swin-large")
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	result, err := m.Predict(ctx, "landscape.jpg")
//
// The onnxruntime session is opened on the first prediction, so constructing
// a Model never touches the model file.
package viber

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scenic-viber/viber/images"
	"github.com/scenic-viber/viber/inference"
	"github.com/scenic-viber/viber/inference/providers"
	"github.com/scenic-viber/viber/models"
	"github.com/scenic-viber/viber/models/mask2former"
	"github.com/scenic-viber/viber/models/model"
	"github.com/scenic-viber/viber/models/postprocess"
)

// ErrUnknownBackbone is returned by New for backbones without a checkpoint.
var ErrUnknownBackbone = model.ErrUnknownBackbone

// Model wraps a segmentation engine for one backbone and task.
//
// Calls are serialised: a Model runs one inference at a time.
type Model struct {
	backbone   model.Backbone
	task       postprocess.Task
	modelPath  string
	modelDir   string
	inputSize  int
	thresholds postprocess.Thresholds
	provider   providers.Config
	logger     *zap.Logger

	mu      sync.Mutex
	engine  inference.Engine
	session inference.Runner
}

// Option configures a Model.
type Option func(*Model)

// WithModelPath sets the ONNX file. It takes precedence over WithModelDir.
func WithModelPath(path string) Option {
	return func(m *Model) {
		m.modelPath = path
	}
}

// WithModelDir sets the directory holding the backbone's default ONNX file.
func WithModelDir(dir string) Option {
	return func(m *Model) {
		m.modelDir = dir
	}
}

// WithTask selects semantic, instance or panoptic segmentation. The default is semantic.
func WithTask(task postprocess.Task) Option {
	return func(m *Model) {
		m.task = task
	}
}

// WithInputSize overrides the square input resolution of the export.
func WithInputSize(size int) Option {
	return func(m *Model) {
		m.inputSize = size
	}
}

// WithThresholds sets the instance and panoptic thresholds.
func WithThresholds(th postprocess.Thresholds) Option {
	return func(m *Model) {
		m.thresholds = th
	}
}

// WithProvider sets the execution provider configuration.
func WithProvider(cfg providers.Config) Option {
	return func(m *Model) {
		lib := m.provider.LibraryPath
		m.provider = cfg
		if m.provider.LibraryPath == "" {
			m.provider.LibraryPath = lib
		}
	}
}

// WithLibraryPath points at the onnxruntime shared library.
func WithLibraryPath(path string) Option {
	return func(m *Model) {
		m.provider.LibraryPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEngine uses an already built engine instead of loading one.
func WithEngine(engine inference.Engine) Option {
	return func(m *Model) {
		m.engine = engine
	}
}

// WithSession runs the model on an already opened session instead of
// opening an onnxruntime session on first use.
func WithSession(session inference.Runner) Option {
	return func(m *Model) {
		m.session = session
	}
}

// New creates a Model for a backbone. Matching is case-insensitive and an
// empty name selects swin-large.
//
// Arguments:
//   - backbone: The backbone name, e.g. "swin-large".
//   - opts: Options.
//
// Returns:
//   - *Model: The model, not yet loaded.
//   - error: ErrUnknownBackbone or an unknown task.
func New(backbone string, opts ...Option) (*Model, error) {
	b, err := model.ParseBackbone(backbone)
	if err != nil {
		return nil, err
	}

	m := &Model{
		backbone:   b,
		task:       postprocess.TaskSemantic,
		thresholds: postprocess.DefaultThresholds(),
		provider:   providers.DefaultConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	task, err := postprocess.ParseTask(string(m.task))
	if err != nil {
		return nil, err
	}
	m.task = task

	return m, nil
}

// Backbone returns the backbone of the model.
func (m *Model) Backbone() model.Backbone {
	return m.backbone
}

// Task returns the segmentation task of the model.
func (m *Model) Task() postprocess.Task {
	return m.task
}

// ModelPath returns the ONNX file the model loads.
func (m *Model) ModelPath() string {
	if m.modelPath != "" {
		return m.modelPath
	}
	return filepath.Join(m.modelDir, mask2former.Backbones[m.backbone].ModelFile)
}

// Labels returns the class names the model predicts.
func (m *Model) Labels() []string {
	return models.MapillaryVistas.Names()
}

// Predict reads the image at path and segments it.
//
// Arguments:
//   - ctx: The context for the prediction.
//   - path: A JPEG, PNG, WebP or BMP file.
//
// Returns:
//   - *postprocess.Result: The segmentation at the image's resolution.
//   - error: A read, decode, load or inference error.
func (m *Model) Predict(ctx context.Context, path string) (*postprocess.Result, error) {
	file, err := images.Load(path)
	if err != nil {
		return nil, err
	}
	img, err := file.Decode()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	result, err := m.PredictImage(ctx, img)
	if err != nil {
		return nil, errors.Wrapf(err, "predict %s", path)
	}
	return result, nil
}

// PredictImage segments an in-memory image.
func (m *Model) PredictImage(ctx context.Context, img image.Image) (*postprocess.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}
	return m.engine.Predict(ctx, img, m.task)
}

// load opens the engine on first use. A failed load leaves the model
// unloaded so the next call tries again.
func (m *Model) load() error {
	if m.engine != nil {
		return nil
	}

	path := m.ModelPath()
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "model file for %s not found", m.backbone)
	}

	builder := inference.NewEngineBuilder().
		WithLogger(m.logger).
		WithProvider(m.provider)
	if m.session != nil {
		builder = builder.WithSession(m.session)
	}
	engine, err := builder.
		WithModel(model.NewModelArgs{
			Name:       model.ModelNameMask2Former,
			Backbone:   m.backbone,
			Path:       path,
			InputSize:  m.inputSize,
			Thresholds: m.thresholds,
		}).
		Build()
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}

	m.engine = engine
	m.logger.Info("model loaded",
		zap.String("backbone", string(m.backbone)),
		zap.String("task", string(m.task)),
		zap.String("path", path),
	)
	return nil
}

// SessionMetrics reports the time spent in the runtime session since the
// last reset. It returns false while no metered engine is loaded.
func (m *Model) SessionMetrics() (inference.Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if metered, ok := m.engine.(inference.Metered); ok {
		return metered.Metrics(), true
	}
	return inference.Metrics{}, false
}

// ResetSessionMetrics clears the session timing of a loaded engine.
func (m *Model) ResetSessionMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if metered, ok := m.engine.(inference.Metered); ok {
		metered.ResetMetrics()
	}
}

// Close releases the engine. A later prediction loads it again.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	return err
}
