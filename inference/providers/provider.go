// Package providers - Execution providers for the onnxruntime sessions.
package providers

import (
	"strings"

	"github.com/pkg/errors"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ErrUnknownBackend is returned when a backend name is not supported.
var ErrUnknownBackend = errors.New("unknown execution provider backend")

// Backends lists the supported backends in the order they are documented.
var Backends = []ProviderBackend{CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend}

// ParseBackend resolves a backend name case-insensitively. An empty name
// selects the CPU backend.
//
// Arguments:
//   - s: The backend name.
//
// Returns:
//   - ProviderBackend: The matching backend.
//   - error: ErrUnknownBackend when nothing matches.
func ParseBackend(s string) (ProviderBackend, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return CPUProviderBackend, nil
	}
	for _, b := range Backends {
		if string(b) == name {
			return b, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownBackend, "%q", s)
}

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
}

// NewProvider creates a new provider based on the configured backend.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the backend is not supported.
func NewProvider(cfg Config) (ExecutionProvider, error) {
	switch cfg.Backend {
	case "", CPUProviderBackend:
		return NewCPUProvider(), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(cfg.CUDA), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(cfg.CoreML), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}
