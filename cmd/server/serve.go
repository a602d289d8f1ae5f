package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/handlers"
	"github.com/ngupuk/kupu/internal/inpaint"
	"github.com/ngupuk/kupu/internal/memstat"
	"github.com/ngupuk/kupu/internal/metrics"
	"github.com/ngupuk/kupu/internal/model"
	"github.com/ngupuk/kupu/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	opts := config.Options{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inpainting server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Host to bind to (default 0.0.0.0)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to listen on (default 8003)")
	cmd.Flags().BoolVar(&opts.Production, "production", false, "Serve the dashboard build at /")
	cmd.Flags().StringVar(&opts.Device, "device", "", "Device to run on: cpu, cuda or mps (default auto)")
	cmd.Flags().StringVar(&opts.ModelPath, "model", "", "Path to the ONNX checkpoint")

	return cmd
}

func runServe(g *globalFlags, opts config.Options) error {
	cfg, err := loadConfig(g, opts)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Msg("Starting Kupu")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	var forwarder model.Forwarder
	session, err := openModel(ctx, cfg)
	if err != nil {
		if cfg.Server.RequireModel {
			return err
		}
		log.Error().Err(err).Msg("Model not loaded, /inpaint will answer 503")
	} else {
		defer func() {
			if err := session.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing model session")
			}
		}()
		forwarder = session
	}

	svc := inpaint.New(forwarder, pipelineConfig(cfg, session))
	metrics.SetModelLoaded(svc.Available())
	metrics.Init(string(svc.Device()))

	h := handlers.NewHandler(svc,
		memstat.NewCollector(string(svc.Device()), cfg.Pipeline.MaxImageSize),
		handlers.Options{
			ResponseProfile: cfg.Server.ResponseProfile,
			JPEGQuality:     cfg.Pipeline.JPEGQuality,
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			MaxInputPixels:  cfg.Pipeline.MaxInputPixels,
		})

	srv := server.New(cfg.Server, h)

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("device", string(svc.Device())).
		Bool("model_loaded", svc.Available()).
		Str("response_profile", cfg.Server.ResponseProfile).
		Msg("Endpoints: GET /health, GET /memory, POST /inpaint, GET /metrics")

	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info().Msg("Kupu shutdown complete")
	return nil
}
