package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"telescribe/internal/config"

	"github.com/spf13/cobra"
)

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// known ggml models for the on-device transport.
var modelRegistry = map[string]string{
	"ggml-base.en.bin":             modelBaseURL + "ggml-base.en.bin",
	"ggml-small-q5_1.bin":          modelBaseURL + "ggml-small-q5_1.bin",
	"ggml-medium-q5_1.bin":         modelBaseURL + "ggml-medium-q5_1.bin",
	"ggml-large-v3-q5_0.bin":       modelBaseURL + "ggml-large-v3-q5_0.bin",
	"ggml-large-v3-turbo-q8_0.bin": modelBaseURL + "ggml-large-v3-turbo-q8_0.bin",
}

// NewModelsCmd wires up the models subcommands (list/download/set).
func NewModelsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List/download/set on-device whisper models",
	}
	cmd.AddCommand(newModelsListCmd(cfgPath))
	cmd.AddCommand(newModelsDownloadCmd(cfgPath))
	cmd.AddCommand(newModelsSetCmd(cfgPath))
	return cmd
}

func newModelsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known models and those present locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			local := map[string]bool{}
			entries, _ := os.ReadDir(cfg.Paths.ModelDir)
			for _, e := range entries {
				if !e.IsDir() {
					local[e.Name()] = true
				}
			}
			names := make([]string, 0, len(modelRegistry))
			for n := range modelRegistry {
				names = append(names, n)
			}
			sort.Strings(names)
			active := filepath.Base(cfg.OnDevice.ModelPath)
			for _, n := range names {
				var marks []string
				if local[n] {
					marks = append(marks, "downloaded")
				}
				if n == active {
					marks = append(marks, "active")
				}
				suffix := ""
				if len(marks) > 0 {
					suffix = " (" + strings.Join(marks, ", ") + ")"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "- %s%s\n", n, suffix)
			}
			return nil
		},
	}
}

func newModelsDownloadCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "download <model>",
		Short: "Download a model from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			name := args[0]
			url, ok := modelRegistry[name]
			if !ok {
				return fmt.Errorf("unknown model %q; run models list", name)
			}
			dest := filepath.Join(cfg.Paths.ModelDir, name)
			fmt.Fprintf(cmd.OutOrStdout(), "downloading %s -> %s\n", name, dest)
			return downloadModel(cmd.Context(), url, dest)
		},
	}
}

func newModelsSetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <model-name-or-path>",
		Short: "Set ondevice.model_path in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			val := args[0]
			// Bare names resolve inside the model dir.
			if !strings.ContainsRune(val, filepath.Separator) {
				val = filepath.Join(cfg.Paths.ModelDir, val)
			}
			cfg.OnDevice.ModelPath = val
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model set to %s\n", val)
			return nil
		},
	}
}

// downloadModel fetches url into dest through a .part file.
func downloadModel(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
