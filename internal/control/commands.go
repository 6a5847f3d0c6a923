package control

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"telescribe/internal/config"
	"telescribe/internal/doctor"
	"telescribe/internal/forward"
	"telescribe/internal/logging"

	"github.com/spf13/cobra"
)

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var status Status
			if err := Call(cfg.Paths.SocketPath, OpStatus, &status); err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "running: %v\nuptime: %.1fs\n", status.Running, status.UptimeSec)
			printInfo(out, status.Connection)
			if status.LastHeard != nil {
				fmt.Fprintf(out, "last heard: %s\n", status.LastHeard.Format(time.RFC3339))
			}
			for _, t := range status.Transcripts {
				fmt.Fprintf(out, "%s  %s\n", t.Timestamp.Format("15:04:05"), t.Text)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

// NewInfoCmd prints the active transport and connection state.
func NewInfoCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show active transport and connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var info Info
			if err := Call(cfg.Paths.SocketPath, OpInfo, &info); err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func printInfo(w io.Writer, info Info) {
	fmt.Fprintf(w, "transport: %s\nconnection: %s", info.Transport, info.Status)
	if info.Attempts > 0 {
		fmt.Fprintf(w, " (attempt %d)", info.Attempts)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "audio flowing: %v\nmuted: %v\n", info.Connected, info.Muted)
}

// NewHealthCmd pings the control socket.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return simpleOpCmd(cfgPath, OpHealth, "health", "Control-socket liveness ping")
}

// NewMuteCmd stops feeding audio without ending the session.
func NewMuteCmd(cfgPath *string) *cobra.Command {
	return simpleOpCmd(cfgPath, OpMute, "mute", "Mute the microphone")
}

func NewUnmuteCmd(cfgPath *string) *cobra.Command {
	return simpleOpCmd(cfgPath, OpUnmute, "unmute", "Unmute the microphone")
}

// NewReconnectCmd restarts the transcription session, walking the transport
// chain again. Useful after the daemon gave up reconnecting.
func NewReconnectCmd(cfgPath *string) *cobra.Command {
	return simpleOpCmd(cfgPath, OpReconnect, "reconnect", "Restart transcription in the running daemon")
}

func simpleOpCmd(cfgPath *string, op, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var resp SimpleResponse
			if err := Call(cfg.Paths.SocketPath, op, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s failed: %s", use, resp.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: %s\n", use, resp.Message)
			return nil
		},
	}
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			transcripts, _ := cmd.Flags().GetBool("transcripts")
			path := cfg.Paths.LogPath
			if transcripts {
				path = cfg.Paths.TranscriptPath
			}
			return tailFile(cmd.OutOrStdout(), path, n)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	cmd.Flags().Bool("transcripts", false, "tail the transcript log instead")
	return cmd
}

func tailFile(w io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			fmt.Fprintln(w, l)
		}
	}
	return nil
}

// NewTestForwardCmd runs the forward command with sample text.
func NewTestForwardCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "test-forward \"some text\"",
		Short: "Send sample text through the forward command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger := logging.NewConsole(cfg.Logging.Level)
			r := forward.NewRunner(cfg, logger)
			return r.Run(cmd.Context(), forward.Job{Text: args[0], Timestamp: time.Now(), SessionID: "manual"})
		},
	}
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies, credentials and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cmd.Context(), cfg)
			failed := false
			for _, r := range results {
				status := "ok"
				switch {
				case !r.Pass && r.Optional:
					status = "skip"
				case !r.Pass:
					status = "fail"
					failed = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-4s %s\n", r.Name, status, r.Detail)
			}
			if failed {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}
