// Package inference - Inference sessions.
package inference

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/scenic-viber/viber/inference/providers"
	"github.com/scenic-viber/viber/models/model"
)

// Runner executes a model graph on named float32 tensors.
type Runner interface {
	Run(inputs map[string]model.Tensor) (map[string]model.Tensor, error)
	Close() error
}

// Session represents a model session from the onnxruntime.
//
// Output tensors are allocated by the runtime on every run, so the session
// accepts whatever query count and mask resolution the export produces.
type Session struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string

	mu             sync.Mutex
	inferenceCount int64
	totalTime      time.Duration
}

// NewSessionArgs represents the arguments for creating a new ONNX session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string
	// The input tensor names of the model.
	Inputs []string
	// The output tensor names of the model.
	Outputs []string
	// The provider configuration, including the shared library override.
	Config providers.Config
}

// NewSession creates a new ONNX session.
//
// Order of operations:
//  1. Environment setup: locates the shared library and initializes onnxruntime once per process.
//  2. Session options: threading, graph optimization level and the execution provider.
//  3. Session creation: loads the model and binds the input and output names.
//
// Arguments:
//   - provider: The execution provider for the session.
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The runnable session.
//   - error: An error if the session creation fails.
func NewSession(provider providers.ExecutionProvider, args NewSessionArgs) (*Session, error) {
	if len(args.Inputs) == 0 || len(args.Outputs) == 0 {
		return nil, errors.New("session needs at least one input and one output name")
	}

	err := providers.InitializeEnvironment(providers.SharedLibPath(args.Config.LibraryPath))
	if err != nil {
		return nil, err
	}

	options, err := providers.SessionOptions(provider, args.Config.Optimization)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs, args.Outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}

	return &Session{
		session:     session,
		inputNames:  args.Inputs,
		outputNames: args.Outputs,
	}, nil
}

// Run feeds the named inputs through the model and copies the outputs out of
// the runtime's memory.
//
// Arguments:
//   - inputs: Input tensors keyed by input name.
//
// Returns:
//   - map[string]model.Tensor: Output tensors keyed by output name.
//   - error: Execution error if any.
func (s *Session) Run(inputs map[string]model.Tensor) (map[string]model.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	values := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range s.inputNames {
		in, ok := inputs[name]
		if !ok {
			return nil, errors.Errorf("missing input %q", name)
		}
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "error creating input tensor %q", name)
		}
		values = append(values, t)
	}

	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	start := time.Now()
	if err := s.session.Run(values, outputs); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}
	s.inferenceCount++
	s.totalTime += time.Since(start)

	result := make(map[string]model.Tensor, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("output %q is %T, want float32 tensor", s.outputNames[i], v)
		}
		shape := t.GetShape()
		result[s.outputNames[i]] = model.Tensor{
			Shape: append([]int64(nil), shape...),
			Data:  append([]float32(nil), t.GetData()...),
		}
	}

	return result, nil
}

// Metered is implemented by sessions and engines that time their runs.
type Metered interface {
	Metrics() Metrics
	ResetMetrics()
}

// Metrics is a snapshot of the session's run statistics.
type Metrics struct {
	InferenceCount int64         `json:"inference_count"`
	TotalTime      time.Duration `json:"total_time"`
	AverageTime    time.Duration `json:"average_time"`
}

// Metrics returns the run statistics collected so far.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{InferenceCount: s.inferenceCount, TotalTime: s.totalTime}
	if s.inferenceCount > 0 {
		m.AverageTime = s.totalTime / time.Duration(s.inferenceCount)
	}
	return m
}

// ResetMetrics clears all performance counters.
func (s *Session) ResetMetrics() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inferenceCount = 0
	s.totalTime = 0
}

// Close releases the native session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "error destroying ORT session")
	}
	return nil
}
