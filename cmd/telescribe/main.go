package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"telescribe/internal/control"
	"telescribe/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "telescribe",
		Short: "telescribe: streaming microphone transcription daemon",
		Long: `telescribe captures your microphone, streams it to the first transport that
connects (cloud REST, on-device whisper.cpp, or a streaming websocket server),
reconnects with backoff when the link drops, and forwards final transcripts
to a command and/or a Redis channel.`,
		Example: `  telescribe start --metrics-addr 127.0.0.1:9327
  telescribe info
  telescribe mute
  telescribe transcribe sample.wav --transport stream
  telescribe service install --env TELESCRIBE_LOG_LEVEL=debug`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}

	root.Version = version
	root.SetVersionTemplate("telescribe v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/telescribe/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(daemon.NewServeCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewInfoCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewMuteCmd(cfgPath))
	root.AddCommand(control.NewUnmuteCmd(cfgPath))
	root.AddCommand(control.NewReconnectCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewTestForwardCmd(cfgPath))
	root.AddCommand(control.NewTranscribeCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewSetupCmd(cfgPath))
	root.AddCommand(control.NewModelsCmd(cfgPath))
	root.AddCommand(control.NewServiceRootCmd(cfgPath))

	applyColorHelp(root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		// Subcommands keep cobra's flag listing.
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%stelescribe%s streaming microphone transcription %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sCaptures audio, picks the first transport that connects, reconnects with backoff.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  telescribe [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  start|stop|restart|serve    daemon lifecycle")
		writeln("  status|info [--json]        uptime, transport, connection, last transcripts")
		writeln("  mute|unmute|reconnect       control the running session")
		writeln("  transcribe <wav>            run a file through the transport chain")
		writeln("  mic list|set                select input device (alias: microphone, mics)")
		writeln("  doctor                      check credentials, model, redis, portaudio")
		writeln("  setup|models                download and select whisper.cpp models")
		writeln("  service install|uninstall|status   launchd (macOS) or systemd user unit")
		writeln("  health|tail-log|test-forward")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus text)")
		writeln("  --transport a,b         override transports.order for one run")
		writeln("  -c, --config <path>     config file (default ~/.config/telescribe/config.toml)")
		writeln("  Env: TELESCRIBE_CLOUD_API_KEY, TELESCRIBE_CLOUD_PROJECT_ID,")
		writeln("       TELESCRIBE_STREAM_ENDPOINT, TELESCRIBE_STREAM_AUTH_ID, TELESCRIBE_TRANSPORTS,")
		writeln("       TELESCRIBE_REDIS_ADDR, TELESCRIBE_METRICS_ADDR, TELESCRIBE_LOG_LEVEL/FORMAT,")
		writeln("       TELESCRIBE_TRANSCRIPTS_ENABLED, TELESCRIBE_REDACT_PII")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
