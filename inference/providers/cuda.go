// Package providers - CUDA based execution provider.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"            yaml:"deviceID"`
	// The size limit of the device memory arena in bytes. Zero leaves the runtime default.
	GPUMemLimit int64 `json:"gpuMemLimit"         yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo
	// 1: kSameAsRequested
	ArenaExtendStrategy int `json:"arenaExtendStrategy" yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// TF32 math mode on Ampere and newer GPUs.
	UseTF32 int `json:"useTF32"             yaml:"useTF32"`
}

// native renders the options as the key/value pairs understood by onnxruntime.
func (o CUDAOptions) native() map[string]string {
	arena := "kNextPowerOfTwo"
	if o.ArenaExtendStrategy == 1 {
		arena = "kSameAsRequested"
	}

	search := "EXHAUSTIVE"
	switch o.CudnnConvAlgoSearch {
	case 1:
		search = "HEURISTIC"
	case 2:
		search = "DEFAULT"
	}

	opts := map[string]string{
		"device_id":              fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":  arena,
		"cudnn_conv_algo_search": search,
		"use_tf32":               fmt.Sprintf("%d", o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return opts
}

// ToNativeProviderOptions converts the CUDA options to CUDA provider options.
// The caller destroys the returned value.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}

	if err := opts.Update(o.native()); err != nil {
		opts.Destroy()
		return nil, err
	}

	return opts, nil
}

// isProviderOptions is a marker function to ensure the options are valid.
func (CUDAOptions) isProviderOptions() {}

// Backend returns the backend of the CUDA provider.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the options of the CUDA provider.
func (p *CUDAProvider) Options() ProviderOptions {
	return p.options
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(args CUDAOptions) *CUDAProvider {
	return &CUDAProvider{
		options: args,
	}
}
