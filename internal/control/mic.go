package control

import (
	"encoding/json"
	"fmt"
	"runtime"

	"telescribe/internal/config"
	"telescribe/internal/mic"

	"github.com/spf13/cobra"
)

// NewMicCmd groups mic subcommands.
func NewMicCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mic",
		Aliases: []string{"microphone", "mics"},
		Short:   "Microphone management",
	}
	cmd.AddCommand(newMicListCmd())
	cmd.AddCommand(newMicSetCmd(cfgPath))
	return cmd
}

func newMicListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := mic.ListDevices()
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(devs)
			}
			out := cmd.OutOrStdout()
			for _, d := range devs {
				defMark := ""
				if d.Default {
					defMark = " (default)"
				}
				fmt.Fprintf(out, "[%d] %s%s (in %d ch, %.0f Hz, latency %.2fms)\n", d.Index, d.Name, defMark, d.Channels, d.Rate, d.LatencyMs)
			}
			if len(devs) == 0 && runtime.GOOS == "darwin" {
				fmt.Fprintln(out, "tip: if no devices appear, install PortAudio: brew install portaudio")
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func newMicSetCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [name]",
		Short: "Set microphone device name in config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			if idx, _ := cmd.Flags().GetInt("index"); idx >= 0 {
				devs, err := mic.ListDevices()
				if err != nil {
					return err
				}
				name = ""
				for _, d := range devs {
					if d.Index == idx {
						name = d.Name
					}
				}
				if name == "" {
					return fmt.Errorf("no input device with index %d; run mic list", idx)
				}
			}
			if name == "" {
				return fmt.Errorf("give a device name or --index")
			}
			cfg.Audio.DeviceName = name
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mic set to %q in %s\n", name, cfg.Paths.ConfigPath)
			return nil
		},
	}
	cmd.Flags().Int("index", -1, "select device by index from mic list")
	return cmd
}
