package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngupuk/kupu/internal/checkpoint"
	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/inpaint"
	"github.com/ngupuk/kupu/internal/metrics"
	"github.com/ngupuk/kupu/internal/model"
	"github.com/ngupuk/kupu/internal/tensor"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	serve := newServeCmd(g)

	rootCmd := &cobra.Command{
		Use:   "kupu",
		Short: "Kupu - LaMa image inpainting server",
		Long: `Kupu serves an ONNX export of the LaMa inpainting network over HTTP.

POST /inpaint takes {"image": <data URL>, "mask": <data URL>} and returns the
inpainted image. Running kupu without a sub-command starts the server.

Configuration is read from kupu.yaml (., /etc/kupu, $HOME/.kupu) and KUPU_*
environment variables, e.g. KUPU_MODEL_DEVICE=cuda.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	rootCmd.Flags().AddFlagSet(serve.Flags())

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newFetchCmd(g))
	rootCmd.AddCommand(newInpaintCmd(g))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Kupu %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  Built:  %s\n", buildDate)
		},
	}
}

func loadConfig(g *globalFlags, opts config.Options) (*config.Config, error) {
	opts.Debug = opts.Debug || g.debug
	cfg, err := config.Load(g.configPath, opts)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	metrics.Version = version
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// ensureCheckpoint downloads the checkpoint when auto-fetch is on.
func ensureCheckpoint(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Checkpoint.AutoFetch {
		return cfg.Model.Path, nil
	}

	fetcher, err := checkpoint.NewFetcher(checkpoint.Config{
		Source:  cfg.Checkpoint.Source,
		HubURL:  cfg.Checkpoint.HubURL,
		Token:   cfg.Checkpoint.Token,
		Timeout: cfg.Checkpoint.Timeout,
		S3:      cfg.Checkpoint.S3,
	})
	if err != nil {
		return "", err
	}
	return fetcher.FetchIfMissing(ctx, cfg.Model.Path)
}

// openModel fetches the checkpoint if needed and loads it.
func openModel(ctx context.Context, cfg *config.Config) (*model.Session, error) {
	path, err := ensureCheckpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}

	device, err := model.ParseDevice(cfg.Model.Device)
	if err != nil {
		return nil, err
	}

	return model.NewSession(model.SessionConfig{
		ModelPath:      path,
		MetadataPath:   cfg.Model.MetadataPath,
		LibraryPath:    cfg.Model.LibraryPath,
		Device:         device,
		DeviceID:       cfg.Model.DeviceID,
		IntraOpThreads: cfg.Model.IntraOpThreads,
	})
}

func pipelineConfig(cfg *config.Config, session *model.Session) inpaint.Config {
	mod := cfg.Pipeline.PadModulo
	// a sidecar describing the export wins over the default stride
	if session != nil && session.Metadata().PadModulo > 0 && mod == tensor.DefaultPadModulo {
		mod = session.Metadata().PadModulo
	}
	return inpaint.Config{
		PadModulo: mod,
		Pad: tensor.PadOptions{
			Square:  cfg.Pipeline.Square,
			MinSize: cfg.Pipeline.MinSize,
		},
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		QueueTimeout:  cfg.Pipeline.QueueTimeout,
		MaxImageSize:  cfg.Pipeline.MaxImageSize,
	}
}
