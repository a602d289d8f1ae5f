// Package inpaint runs the end-to-end inpainting pipeline: mask
// binarization, stride padding, one forward pass, crop and compositing.
package inpaint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/ngupuk/kupu/internal/metrics"
	"github.com/ngupuk/kupu/internal/model"
	"github.com/ngupuk/kupu/internal/tensor"
)

var (
	// ErrModelUnavailable is returned when no checkpoint is loaded.
	ErrModelUnavailable = errors.New("inpainting model not available")
	// ErrShapeMismatch is returned when the image and mask do not line up.
	ErrShapeMismatch = errors.New("image and mask shapes do not match")
	// ErrBusy is returned when waiting for an inference slot was abandoned.
	ErrBusy = errors.New("inference capacity exhausted")
)

// Config controls the pipeline.
type Config struct {
	// PadModulo is the stride the network input is aligned to.
	PadModulo int
	Pad       tensor.PadOptions
	// MaxConcurrent bounds concurrent forward passes.
	MaxConcurrent int64
	// QueueTimeout bounds the wait for a slot. Zero waits for as long as the
	// request context allows.
	QueueTimeout time.Duration
	// MaxImageSize downscales inputs whose longest side exceeds it before
	// inference. Zero disables resizing.
	MaxImageSize int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PadModulo:     tensor.DefaultPadModulo,
		MaxConcurrent: 1,
	}
}

// Result is a finished inpainting run.
type Result struct {
	Image    *tensor.Image
	Duration time.Duration
	Device   model.Device
	// Resized is set when inference ran on a downscaled copy.
	Resized bool
}

// Service is safe for concurrent use.
type Service struct {
	model model.Forwarder
	cfg   Config
	sem   *semaphore.Weighted
}

// New creates a Service around m. A nil m yields a service that reports
// ErrModelUnavailable for every request.
func New(m model.Forwarder, cfg Config) *Service {
	if cfg.PadModulo <= 0 {
		cfg.PadModulo = tensor.DefaultPadModulo
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Service{
		model: m,
		cfg:   cfg,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Available reports whether a model is loaded.
func (s *Service) Available() bool { return s.model != nil }

// Device returns the device of the loaded model, or "" when unavailable.
func (s *Service) Device() model.Device {
	if s.model == nil {
		return ""
	}
	return s.model.Device()
}

// Config returns the pipeline configuration.
func (s *Service) Config() Config { return s.cfg }

// Inpaint fills the regions of image selected by mask. image must have 3
// channels, mask 1 channel, and both the same height and width. Neither
// input is modified.
func (s *Service) Inpaint(ctx context.Context, image, mask *tensor.Image) (*Result, error) {
	if s.model == nil {
		metrics.RecordInpaint("none", "unavailable", 0)
		return nil, ErrModelUnavailable
	}
	device := s.model.Device()

	res, err := s.run(ctx, image, mask)
	if err != nil {
		metrics.RecordInpaint(string(device), outcome(err), 0)
		return nil, err
	}

	metrics.RecordInpaint(string(device), "success", res.Duration)
	return res, nil
}

func (s *Service) run(ctx context.Context, image, mask *tensor.Image) (*Result, error) {
	start := time.Now()
	if err := checkShapes(image, mask); err != nil {
		return nil, err
	}

	binMask := tensor.BinarizeMask(mask)

	stage := time.Now()
	infImage, infMask := image, binMask
	resized := false
	if h, w, ok := s.inferenceSize(image.H, image.W); ok {
		var err error
		if infImage, err = resizeImage(image, h, w); err != nil {
			return nil, err
		}
		if infMask, err = resizeMask(binMask, h, w); err != nil {
			return nil, err
		}
		resized = true
	}

	paddedImage := tensor.PadToModulo(infImage, s.cfg.PadModulo, s.cfg.Pad)
	paddedMask := tensor.PadToModulo(infMask, s.cfg.PadModulo, s.cfg.Pad)
	imageIn := tensor.Normalize(paddedImage)
	maskIn := tensor.NormalizeMask(paddedMask)
	metrics.ObserveStage(metrics.StagePreprocess, time.Since(stage))

	out, err := s.forward(ctx, imageIn, maskIn)
	if err != nil {
		return nil, err
	}

	stage = time.Now()
	raw, err := tensor.FromCHW(out)
	if err != nil {
		return nil, &model.InferenceError{Device: s.model.Device(), Err: err}
	}
	if raw.C != image.C {
		return nil, &model.InferenceError{
			Device: s.model.Device(),
			Err:    fmt.Errorf("model returned %d channels, expected %d", raw.C, image.C),
		}
	}
	cropped, err := tensor.Crop(raw, infImage.H, infImage.W)
	if err != nil {
		return nil, &model.InferenceError{Device: s.model.Device(), Err: err}
	}
	if resized {
		if cropped, err = resizeImage(cropped, image.H, image.W); err != nil {
			return nil, err
		}
	}

	final, err := tensor.Composite(cropped, image, binMask)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage(metrics.StagePostprocess, time.Since(stage))

	elapsed := time.Since(start)
	log.Debug().
		Str("device", string(s.model.Device())).
		Str("size", image.String()).
		Str("padded", paddedImage.String()).
		Bool("resized", resized).
		Dur("elapsed", elapsed).
		Msg("Inpainting complete")

	return &Result{
		Image:    final,
		Duration: elapsed,
		Device:   s.model.Device(),
		Resized:  resized,
	}, nil
}

// forward waits for an admission slot and runs the model. Only the wait
// honours ctx; a started forward pass runs to completion.
func (s *Service) forward(ctx context.Context, image, mask tensor.Tensor) (tensor.Tensor, error) {
	waitCtx := ctx
	if s.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.QueueTimeout)
		defer cancel()
	}

	queued := time.Now()
	metrics.InferencesWaiting.Inc()
	err := s.sem.Acquire(waitCtx, 1)
	metrics.InferencesWaiting.Dec()
	metrics.ObserveStage(metrics.StageQueue, time.Since(queued))
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer s.sem.Release(1)

	metrics.InferencesInFlight.Inc()
	defer metrics.InferencesInFlight.Dec()

	started := time.Now()
	out, err := s.model.Forward(context.WithoutCancel(ctx), image, mask)
	metrics.ObserveStage(metrics.StageForward, time.Since(started))
	if err != nil {
		return tensor.Tensor{}, err
	}
	return out, nil
}

// inferenceSize returns the downscaled size when the longest side exceeds
// MaxImageSize.
func (s *Service) inferenceSize(h, w int) (int, int, bool) {
	limit := s.cfg.MaxImageSize
	if limit <= 0 || max(h, w) <= limit {
		return h, w, false
	}
	scale := float64(limit) / float64(max(h, w))
	nh := max(1, int(float64(h)*scale+0.5))
	nw := max(1, int(float64(w)*scale+0.5))
	return nh, nw, true
}

func checkShapes(image, mask *tensor.Image) error {
	if image == nil || mask == nil {
		return fmt.Errorf("%w: image and mask are required", ErrShapeMismatch)
	}
	if image.C != 3 {
		return fmt.Errorf("%w: image has %d channels, expected 3", ErrShapeMismatch, image.C)
	}
	if mask.C != 1 {
		return fmt.Errorf("%w: mask has %d channels, expected 1", ErrShapeMismatch, mask.C)
	}
	if image.H != mask.H || image.W != mask.W {
		return fmt.Errorf("%w: image is %dx%d, mask is %dx%d", ErrShapeMismatch, image.H, image.W, mask.H, mask.W)
	}
	if image.H == 0 || image.W == 0 {
		return fmt.Errorf("%w: empty image", ErrShapeMismatch)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrShapeMismatch):
		return "invalid"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, model.ErrInference):
		return "inference_error"
	default:
		return "error"
	}
}
