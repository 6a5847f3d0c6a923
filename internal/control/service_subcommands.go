package control

import (
	"fmt"
	"os"
	"strings"

	"telescribe/internal/config"
	"telescribe/internal/service"

	"github.com/spf13/cobra"
)

// NewServiceRootCmd groups the per-user service helpers.
func NewServiceRootCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the user service (launchd on macOS, systemd elsewhere)",
	}
	cmd.AddCommand(newServiceInstallCmd(cfgPath))
	cmd.AddCommand(newServiceUninstallCmd())
	cmd.AddCommand(newServiceStatusCmd())
	return cmd
}

func newServiceInstallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the user service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env := make(map[string]string)
			for _, p := range envPairs {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("bad env %q, want KEY=VAL", p)
				}
				env[k] = v
			}
			path, err := service.Install(home, service.Params{
				Label:  service.Label,
				Binary: exe,
				Config: cfg.Paths.ConfigPath,
				Log:    cfg.Paths.LogPath,
				Env:    env,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "service file written: %s\n", path)
			if service.Launchd() {
				fmt.Fprintln(out, "Load:   launchctl load -w", path)
				fmt.Fprintf(out, "Stop:   launchctl bootout gui/$(id -u)/%s\n", service.Label)
			} else {
				fmt.Fprintf(out, "Enable: systemctl --user daemon-reload && systemctl --user enable --now %s\n", service.Label)
				fmt.Fprintf(out, "Stop:   systemctl --user stop %s\n", service.Label)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("env", nil, "Env to set in the service (KEY=VAL)")
	return cmd
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, err := service.Uninstall(home, service.Label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (if present); stop the running agent manually\n", path)
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the service file path and whether it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, ok := service.Status(home, service.Label)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "service file: %s\n", path)
			if ok {
				fmt.Fprintln(out, "status: present")
			} else {
				fmt.Fprintln(out, "status: missing (install via: telescribe service install)")
			}
			return nil
		},
	}
}
