package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ngupuk/kupu/internal/tensor"
)

// Forwarder runs one forward pass of the inpainting network.
type Forwarder interface {
	Forward(ctx context.Context, image, mask tensor.Tensor) (tensor.Tensor, error)
	Device() Device
}

// SessionConfig configures NewSession.
type SessionConfig struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default.
	LibraryPath    string
	Device         Device
	DeviceID       int
	IntraOpThreads int
	// Prober overrides device detection. Nil uses RuntimeProber.
	Prober Prober
}

// Session owns a loaded checkpoint bound to one device. Forward may be called
// concurrently; callers bound concurrency themselves.
type Session struct {
	session   *ort.DynamicAdvancedSession
	meta      Metadata
	device    Device
	modelPath string
	release   func()
}

// NewSession resolves the device, then loads the checkpoint and binds it to
// that device. An unavailable device is reported before anything is read
// from disk.
func NewSession(cfg SessionConfig) (*Session, error) {
	prober := cfg.Prober
	if prober == nil {
		prober = RuntimeProber{LibraryPath: cfg.LibraryPath, DeviceID: cfg.DeviceID}
	}
	device, err := ResolveDevice(cfg.Device, prober)
	if err != nil {
		return nil, err
	}

	meta, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, &LoadError{Path: cfg.MetadataPath, Err: err}
	}

	if err := checkCheckpoint(cfg.ModelPath); err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}

	if err := Initialize(cfg.LibraryPath); err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to create session options: %w", err)}
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, &LoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to set intra-op threads: %w", err)}
		}
	}

	if err := appendProvider(options, device, cfg.DeviceID); err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to enable %s provider: %w", device, err)}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, meta.InputNames, meta.OutputNames, options)
	if err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to create ONNX session: %w", err)}
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Str("name", meta.Name).
		Str("device", string(device)).
		Strs("inputs", meta.InputNames).
		Strs("outputs", meta.OutputNames).
		Msg("Model loaded")

	return &Session{
		session:   session,
		meta:      meta,
		device:    device,
		modelPath: cfg.ModelPath,
		release:   releaseHostMemory,
	}, nil
}

func checkCheckpoint(path string) error {
	if path == "" {
		return errors.New("no checkpoint path configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// Device reports the device the session was bound to.
func (s *Session) Device() Device { return s.device }

// Metadata returns the checkpoint description.
func (s *Session) Metadata() Metadata { return s.meta }

// ModelPath returns the checkpoint file the session was loaded from.
func (s *Session) ModelPath() string { return s.modelPath }

// Forward runs the network on a CHW image tensor and a 1xHxW mask tensor and
// returns the first output as a CHW tensor in host memory. Every runtime
// value is destroyed before returning and the release hook runs on all paths.
func (s *Session) Forward(ctx context.Context, image, mask tensor.Tensor) (tensor.Tensor, error) {
	defer s.release()

	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: err}
	}
	if err := image.Validate(); err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("image: %w", err)}
	}
	if err := mask.Validate(); err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("mask: %w", err)}
	}

	imageIn, err := ort.NewTensor(ort.NewShape(batched(image.Shape)...), image.Data)
	if err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("failed to create image tensor: %w", err)}
	}
	defer destroy(imageIn)

	maskIn, err := ort.NewTensor(ort.NewShape(batched(mask.Shape)...), mask.Data)
	if err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("failed to create mask tensor: %w", err)}
	}
	defer destroy(maskIn)

	// nil outputs are allocated by the runtime with the shape it computes
	outputs := make([]ort.Value, len(s.meta.OutputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				destroy(v)
			}
		}
	}()

	start := time.Now()
	if err := s.session.Run([]ort.Value{imageIn, maskIn}, outputs); err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: err}
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("unexpected output type %T", outputs[0])}
	}

	dims := []int64(out.GetShape())
	if len(dims) == 4 && dims[0] == 1 {
		dims = dims[1:]
	}
	result := tensor.Tensor{
		Shape: append([]int64(nil), dims...),
		Data:  append([]float32(nil), out.GetData()...),
	}
	if err := result.Validate(); err != nil {
		return tensor.Tensor{}, &InferenceError{Device: s.device, Err: fmt.Errorf("output: %w", err)}
	}

	log.Debug().
		Str("device", string(s.device)).
		Ints64("shape", result.Shape).
		Dur("elapsed", time.Since(start)).
		Msg("Forward pass complete")

	return result, nil
}

// Close destroys the session and the runtime environment.
func (s *Session) Close() error {
	var errs []error
	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("session: %w", err))
		}
		s.session = nil
	}
	if err := Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("environment: %w", err))
	}
	return errors.Join(errs...)
}

func batched(shape []int64) []int64 {
	return append([]int64{1}, shape...)
}

func destroy(v ort.Value) {
	if err := v.Destroy(); err != nil {
		log.Debug().Err(err).Msg("Failed to destroy tensor")
	}
}
