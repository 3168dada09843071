// Package providers - CPU based execution provider.
package providers

const (
	// CPUProviderBackend runs inference on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUProvider implements the ExecutionProvider interface.
type CPUProvider struct{}

// CPUOptions carries no settings; the CPU provider is always available.
type CPUOptions struct{}

func (CPUOptions) isProviderOptions() {}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return CPUOptions{}
}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{}
}
