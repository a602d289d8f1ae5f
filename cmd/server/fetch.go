package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/model"
)

func newFetchCmd(g *globalFlags) *cobra.Command {
	var (
		modelPath string
		inspect   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch-model",
		Short: "Download the checkpoint if it is not present",
		Long: `Download the configured checkpoint (checkpoint.source) to model.path unless a
non-empty file is already there. Sources: hf://<owner>/<repo>/<file>,
https://... and s3://<bucket>/<key>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, config.Options{ModelPath: modelPath})
			if err != nil {
				return err
			}
			// fetching is the point of this command
			cfg.Checkpoint.AutoFetch = true

			path, err := ensureCheckpoint(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("Checkpoint ready")

			if !inspect {
				return nil
			}
			return printModelInfo(cmd, cfg.Model.LibraryPath, path)
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Destination path (default model.path)")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "Print the checkpoint inputs and outputs")

	return cmd
}

func printModelInfo(cmd *cobra.Command, libraryPath, path string) error {
	inputs, outputs, err := model.Inspect(libraryPath, path)
	if err != nil {
		return err
	}
	defer func() { _ = model.Shutdown() }()

	out, err := json.MarshalIndent(map[string][]model.IOInfo{
		"inputs":  inputs,
		"outputs": outputs,
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
