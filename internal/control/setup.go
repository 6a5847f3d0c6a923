package control

import (
	"fmt"
	"os"
	"path/filepath"

	"telescribe/internal/config"

	"github.com/spf13/cobra"
)

// NewSetupCmd downloads the configured on-device model if missing.
func NewSetupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download the on-device whisper model if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", cfg.Paths.ConfigPath)
			modelPath := os.ExpandEnv(cfg.OnDevice.ModelPath)
			if _, err := os.Stat(modelPath); err == nil {
				fmt.Fprintln(out, "model already present at", modelPath)
				return nil
			}
			url, ok := modelRegistry[filepath.Base(modelPath)]
			if !ok {
				return fmt.Errorf("model %s is missing and not in the registry; see models list", modelPath)
			}
			fmt.Fprintf(out, "downloading model to %s\n", modelPath)
			if err := downloadModel(cmd.Context(), url, modelPath); err != nil {
				return err
			}
			fmt.Fprintln(out, "model download complete")
			return nil
		},
	}
}
