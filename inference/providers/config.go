// Package providers - Configuration for optimized ONNX inference.
package providers

// Config represents the configuration of an execution provider and the
// session options applied with it.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend"      yaml:"backend"`

	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`

	// CUDA options, used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda"         yaml:"cuda"`

	// CoreML options, used when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml"       yaml:"coreml"`

	// Optimization holds the session level tuning.
	Optimization OptimizationConfig `json:"optimization" yaml:"optimization"`
}

// DefaultConfig returns a CPU configuration with the default optimization settings.
//
// Returns:
//   - Config: CPU provider configuration.
func DefaultConfig() Config {
	return Config{
		Backend:      CPUProviderBackend,
		Optimization: DefaultOptimizationConfig(),
	}
}
