package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngupuk/kupu/internal/codec"
	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/inpaint"
	"github.com/ngupuk/kupu/internal/tensor"
)

type inpaintFlags struct {
	image   string
	mask    string
	out     string
	quality int
	device  string
	model   string
}

func newInpaintCmd(g *globalFlags) *cobra.Command {
	f := &inpaintFlags{}

	cmd := &cobra.Command{
		Use:   "inpaint",
		Short: "Inpaint an image file without starting the server",
		Example: `  kupu inpaint --image photo.png --mask mask.png --out result.jpg
  kupu inpaint --image photo.jpg --mask mask.png --out result.png --device cpu`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInpaint(cmd, g, f)
		},
	}

	cmd.Flags().StringVar(&f.image, "image", "", "Source image file")
	cmd.Flags().StringVar(&f.mask, "mask", "", "Mask file, white marks the region to fill")
	cmd.Flags().StringVar(&f.out, "out", "", "Output file, .jpg/.jpeg writes JPEG, anything else PNG")
	cmd.Flags().IntVar(&f.quality, "quality", 0, "JPEG quality (default pipeline.jpeg_quality)")
	cmd.Flags().StringVar(&f.device, "device", "", "Device to run on: cpu, cuda or mps (default auto)")
	cmd.Flags().StringVar(&f.model, "model", "", "Path to the ONNX checkpoint")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("mask")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runInpaint(cmd *cobra.Command, g *globalFlags, f *inpaintFlags) error {
	cfg, err := loadConfig(g, config.Options{Device: f.device, ModelPath: f.model})
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID).Logger()

	decoder := codec.Decoder{MaxPixels: cfg.Pipeline.MaxInputPixels}
	image, err := readImage(decoder, f.image, codec.RGB)
	if err != nil {
		return err
	}
	mask, err := readImage(decoder, f.mask, codec.Grayscale)
	if err != nil {
		return err
	}

	session, err := openModel(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing model session")
		}
	}()

	svc := inpaint.New(session, pipelineConfig(cfg, session))
	res, err := svc.Inpaint(cmd.Context(), image, mask)
	if err != nil {
		return err
	}

	quality := f.quality
	if quality == 0 {
		quality = cfg.Pipeline.JPEGQuality
	}
	data, err := codec.Encode(res.Image, formatForPath(f.out), quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.out, err)
	}

	logger.Info().
		Str("image", f.image).
		Str("out", f.out).
		Str("size", res.Image.String()).
		Str("device", string(res.Device)).
		Bool("resized", res.Resized).
		Dur("elapsed", res.Duration).
		Msg("Inpainting complete")
	return nil
}

func readImage(decoder codec.Decoder, path string, mode codec.Channels) (*tensor.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := decoder.Decode(data, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// formatForPath picks JPEG for .jpg/.jpeg and PNG otherwise.
func formatForPath(path string) codec.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return codec.JPEG
	default:
		return codec.PNG
	}
}
