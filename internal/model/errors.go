package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when an explicitly requested device is
	// not present on this host.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrModelLoad is matched by every *LoadError.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference is matched by every *InferenceError.
	ErrInference = errors.New("inference failed")
)

// LoadError reports a checkpoint that could not be turned into a session.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

// InferenceError wraps any failure during a forward pass. The original cause
// stays reachable through errors.Unwrap.
type InferenceError struct {
	Device Device
	Err    error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on %s failed: %v", e.Device, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }
