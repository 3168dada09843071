// Package providers - CoreML based execution provider.
package providers

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML flags as defined by the onnxruntime CoreML provider header.
const (
	CoreMLFlagUseCPUOnly              uint32 = 0x001
	CoreMLFlagEnableOnSubgraph        uint32 = 0x002
	CoreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
	CoreMLFlagOnlyAllowStaticShapes   uint32 = 0x008
	CoreMLFlagCreateMLProgram         uint32 = 0x010
)

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	CPUOnly bool `json:"cpuOnly"                  yaml:"cpuOnly"`
	// Only allow nodes with static input shapes. Mask2Former exports use a fixed input size.
	RequireStaticInputShapes bool `json:"requireStaticInputShapes" yaml:"requireStaticInputShapes"`
	// Create an MLProgram format model. Requires Core ML 5 or later.
	MLProgram bool `json:"mlProgram"                yaml:"mlProgram"`
}

// Flags packs the options into the CoreML provider flag set.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= CoreMLFlagUseCPUOnly
	}
	if o.RequireStaticInputShapes {
		flags |= CoreMLFlagOnlyAllowStaticShapes
	}
	if o.MLProgram {
		flags |= CoreMLFlagCreateMLProgram
	}
	return flags
}

func (CoreMLOptions) isProviderOptions() {}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Options returns the options of the CoreML provider.
func (p *CoreMLProvider) Options() ProviderOptions {
	return p.options
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{
		options: options,
	}
}
