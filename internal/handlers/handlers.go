package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ngupuk/kupu/internal/codec"
	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/inpaint"
	"github.com/ngupuk/kupu/internal/memstat"
	"github.com/ngupuk/kupu/internal/metrics"
	"github.com/ngupuk/kupu/internal/model"
)

// APIVersion is reported by /health.
const APIVersion = "1.0.0"

// InpaintRequest is the body of POST /inpaint. Both fields are image data
// URLs; the mask is read as grayscale.
type InpaintRequest struct {
	Image string `json:"image"`
	Mask  string `json:"mask"`
}

// InpaintResult is the response body of the "result" profile.
type InpaintResult struct {
	Result    string  `json:"result"`
	TimeTaken float64 `json:"time_taken"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Options configure a Handler.
type Options struct {
	ResponseProfile string
	JPEGQuality     int
	MaxBodyBytes    int64
	// MaxInputPixels bounds the canvas a decoded image or mask may declare.
	MaxInputPixels int64
}

type Handler struct {
	service *inpaint.Service
	memory  *memstat.Collector
	decoder codec.Decoder
	opts    Options
}

func NewHandler(service *inpaint.Service, memory *memstat.Collector, opts Options) *Handler {
	if opts.ResponseProfile == "" {
		opts.ResponseProfile = config.ProfileDataURL
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = codec.DefaultJPEGQuality
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	return &Handler{
		service: service,
		memory:  memory,
		decoder: codec.Decoder{MaxPixels: opts.MaxInputPixels},
		opts:    opts,
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Kupu Server",
		"health_check": "/health",
		"memory_check": "/memory",
		"metrics":      "/metrics",
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.service.Available(),
		Version:     APIVersion,
	})
}

func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	report := h.memory.Snapshot(r.Context())
	if !h.service.Available() {
		report.DeviceType = memstat.DeviceError
	}
	writeJSON(w, http.StatusOK, report)
}

// Inpaint decodes the image and mask data URLs, runs the pipeline and
// replies in the configured response profile.
func (h *Handler) Inpaint(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	var req InpaintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !codec.HasDataURLPrefix(req.Image) {
		log.Warn().Str("request_id", reqID).Msg("Invalid image data format")
		writeError(w, http.StatusBadRequest, "Invalid image data format")
		return
	}
	if req.Mask == "" || !codec.HasDataURLPrefix(req.Mask) {
		log.Warn().Str("request_id", reqID).Msg("Invalid mask data format")
		writeError(w, http.StatusBadRequest, "Invalid mask data format")
		return
	}

	decodeStart := time.Now()
	image, err := h.decoder.DecodeDataURL(req.Image, codec.RGB)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Image: "+err.Error())
		return
	}
	mask, err := h.decoder.DecodeDataURL(req.Mask, codec.Grayscale)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Mask: "+err.Error())
		return
	}
	metrics.ObserveStage(metrics.StageDecode, time.Since(decodeStart))

	log.Info().
		Str("request_id", reqID).
		Str("image", image.String()).
		Str("mask", mask.String()).
		Msg("Inpaint request")

	res, err := h.service.Inpaint(r.Context(), image, mask)
	if err != nil {
		status, detail := errorStatus(err)
		event := log.Warn()
		if status >= http.StatusInternalServerError && !errors.Is(err, inpaint.ErrBusy) && !errors.Is(err, inpaint.ErrModelUnavailable) {
			event = log.Error()
		}
		event.Err(err).Str("request_id", reqID).Int("status", status).Msg("Inpainting failed")
		writeError(w, status, detail)
		return
	}

	encodeStart := time.Now()
	switch h.opts.ResponseProfile {
	case config.ProfileResult:
		url, err := codec.EncodeDataURL(res.Image, codec.PNG, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode result: "+err.Error())
			return
		}
		metrics.ObserveStage(metrics.StageEncode, time.Since(encodeStart))
		writeJSON(w, http.StatusOK, InpaintResult{Result: url, TimeTaken: res.Duration.Seconds()})
	default:
		url, err := codec.EncodeDataURL(res.Image, codec.JPEG, h.opts.JPEGQuality)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode result: "+err.Error())
			return
		}
		metrics.ObserveStage(metrics.StageEncode, time.Since(encodeStart))
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		writeJSON(w, http.StatusOK, url)
	}

	log.Info().
		Str("request_id", reqID).
		Str("device", string(res.Device)).
		Dur("inference", res.Duration).
		Msg("Inpaint request completed")
}

// errorStatus maps pipeline errors to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, codec.ErrDecode), errors.Is(err, inpaint.ErrShapeMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, inpaint.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "Inpainting model not available."
	case errors.Is(err, inpaint.ErrBusy):
		return http.StatusServiceUnavailable, "Server busy, try again later."
	case errors.Is(err, model.ErrInference):
		return http.StatusInternalServerError, "Inpainting failed: " + err.Error()
	default:
		return http.StatusInternalServerError, "Inpainting failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
