// Package providers - onnxruntime shared library discovery.
package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv names the environment variable that points at the onnxruntime
// shared library.
const LibraryPathEnv = "ONNXRUNTIME_LIB"

// SharedLibPath returns the path to the onnxruntime shared library.
//
// The override wins when set, then the ONNXRUNTIME_LIB environment variable,
// then the platform default under ./third_party.
//
// Arguments:
//   - override: An explicit library path, may be empty.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		return env
	}
	return defaultSharedLibPath(runtime.GOOS, runtime.GOARCH)
}

func defaultSharedLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.dylib"
		}
		return "./third_party/onnxruntime_amd64.dylib"
	default:
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

var (
	envMu          sync.Mutex
	envInitialized bool
	envPath        string

	// initRuntime loads the shared library and starts the native environment.
	initRuntime = func(libPath string) error {
		ort.SetSharedLibraryPath(libPath)
		return ort.InitializeEnvironment()
	}
)

// InitializeEnvironment points onnxruntime at the shared library and
// initializes the native environment. Once it succeeds later calls are
// no-ops; a failed attempt is not remembered, so a library installed after
// the failure is picked up by the next call.
//
// Arguments:
//   - libPath: The shared library path, usually from SharedLibPath.
//
// Returns:
//   - error: An error if the library is missing or the environment fails to start.
func InitializeEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitialized {
		if envPath != libPath {
			return errors.Errorf("onnxruntime already initialized from %s", envPath)
		}
		return nil
	}

	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s (set %s)", libPath, LibraryPathEnv)
	}
	if err := initRuntime(libPath); err != nil {
		return errors.Wrap(err, "error initializing onnxruntime environment")
	}

	envInitialized, envPath = true, libPath
	return nil
}
