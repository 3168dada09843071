// Package providers - ONNX Runtime session optimization.
package providers

import (
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the ONNX Runtime session settings.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level" yaml:"graph_optimization_level"`

	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"execution_mode"           yaml:"execution_mode"`

	// IntraOpNumThreads sets threads for parallelizing ops. Zero lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads"     yaml:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops. Zero lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads"     yaml:"inter_op_num_threads"`
}

// DefaultOptimizationConfig returns the optimization settings used for a single
// image at a time: extended graph rewrites, sequential execution and half of
// the CPUs for intra-op work.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      max(1, runtime.NumCPU()/2),
		InterOpNumThreads:      1,
	}
}

// SessionOptions builds the onnxruntime session options for a provider.
//
// The caller owns the returned options and must destroy them once the session
// has been created.
//
// Arguments:
//   - provider: The execution provider to append.
//   - config: Optimization configuration to apply.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: Configuration error if any.
func SessionOptions(provider ExecutionProvider, config OptimizationConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}

	if err := applyOptimization(options, config); err != nil {
		options.Destroy()
		return nil, err
	}

	if err := appendProvider(options, provider); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func applyOptimization(options *ort.SessionOptions, config OptimizationConfig) error {
	if err := options.SetGraphOptimizationLevel(config.GraphOptimizationLevel); err != nil {
		return errors.Wrap(err, "failed to set graph optimization level")
	}
	if err := options.SetExecutionMode(config.ExecutionMode); err != nil {
		return errors.Wrap(err, "failed to set execution mode")
	}
	if err := options.SetIntraOpNumThreads(config.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "failed to set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "failed to set inter-op threads")
	}
	return nil
}

// appendProvider enables the provider's hardware path. The CPU provider is
// always present and needs no registration.
func appendProvider(options *ort.SessionOptions, provider ExecutionProvider) error {
	if provider == nil {
		return nil
	}

	switch opts := provider.Options().(type) {
	case CPUOptions:
		return nil
	case CUDAOptions:
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()

		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case CoreMLOptions:
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	default:
		return errors.Errorf("unsupported provider options type: %T", opts)
	}
	return nil
}
