package model

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process-wide in the C library, so its
// lifecycle is tracked here rather than per session.
var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize loads the ONNX Runtime shared library and creates the
// environment. Calling it again is a no-op. An empty libraryPath keeps the
// platform default search path.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	log.Debug().Str("library", libraryPath).Str("version", ort.GetVersion()).Msg("ONNX Runtime initialized")
	initialized = true
	return nil
}

// Shutdown destroys the ONNX Runtime environment.
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// releaseHostMemory forces a collection and returns freed pages to the OS.
// Device buffers are already destroyed by the time it runs.
func releaseHostMemory() {
	debug.FreeOSMemory()
}

// Inspect lists the inputs and outputs declared by the checkpoint at path.
func Inspect(libraryPath, path string) ([]IOInfo, []IOInfo, error) {
	if err := Initialize(libraryPath); err != nil {
		return nil, nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}
	return toIOInfo(inputs), toIOInfo(outputs), nil
}

func toIOInfo(infos []ort.InputOutputInfo) []IOInfo {
	out := make([]IOInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, IOInfo{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: fmt.Sprint(info.DataType),
		})
	}
	return out
}
