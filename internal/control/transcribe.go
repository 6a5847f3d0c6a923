package control

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"telescribe/internal/capture"
	"telescribe/internal/config"
	"telescribe/internal/forward"
	"telescribe/internal/logging"
	"telescribe/internal/pipeline"
	"telescribe/internal/transcriber"
	"telescribe/internal/transport"

	"github.com/spf13/cobra"
)

// NewTranscribeCmd replays a WAV file through the transport chain.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <wavfile>",
		Short: "Transcribe a WAV file through the configured transports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if order, _ := cmd.Flags().GetStringSlice("transport"); len(order) > 0 {
				cfg.Transports.Order = order
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := logging.NewConsole(cfg.Logging.Level)
			interim, _ := cmd.Flags().GetBool("interim")
			realtime, _ := cmd.Flags().GetBool("realtime")
			linger, _ := cmd.Flags().GetDuration("linger")
			wantForward, _ := cmd.Flags().GetBool("forward")

			frame := time.Duration(cfg.Audio.FrameMS) * time.Millisecond
			if frame <= 0 {
				frame = 100 * time.Millisecond
			}
			padding := cfg.SilenceDuration() + 200*time.Millisecond
			src := capture.NewFileSource(args[0], frame, padding, realtime)
			tr, err := pipeline.New(cfg, src, logger)
			if err != nil {
				return err
			}

			var fwd *forward.Runner
			if wantForward {
				fwd = forward.NewRunner(cfg, logger)
				if !fwd.Enabled() {
					return fmt.Errorf("forward.command is not configured")
				}
			}

			var (
				wg     sync.WaitGroup
				finals []transcriber.Event
				fatal  error
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				finals, fatal = printEvents(cmd.OutOrStdout(), tr.Events(), interim)
			}()

			ctx := cmd.Context()
			if err := tr.Start(ctx); err != nil {
				tr.Stop()
				return err
			}
			info := tr.ConnectionInfo()
			logger.WithField("transport", info.Transport).Info("transcribing file")
			if err := tr.Drain(ctx); err != nil {
				tr.Stop()
				return err
			}
			// Streaming servers deliver the tail after the audio ends.
			if linger > 0 && info.Transport == transport.KindStream {
				time.Sleep(linger)
			}
			tr.Stop()
			wg.Wait()
			if fatal != nil {
				return fatal
			}

			if fwd == nil {
				return nil
			}
			for _, ev := range finals {
				text := strings.TrimSpace(ev.Result.Text)
				if !fwd.Accepts(text) {
					logger.WithField("text", text).Info("skipped: below min_chars")
					continue
				}
				job := forward.Job{Text: text, Timestamp: ev.Result.Timestamp, SessionID: ev.SessionID}
				if err := fwd.Run(ctx, job); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("interim", false, "also print interim results")
	cmd.Flags().Bool("realtime", false, "pace the file at wall-clock speed")
	cmd.Flags().Duration("linger", 2*time.Second, "wait for late results from streaming transports")
	cmd.Flags().Bool("forward", false, "send final transcripts through the forward command")
	cmd.Flags().StringSlice("transport", nil, "override transports.order (cloud,ondevice,stream)")
	return cmd
}

// printEvents drains events until the channel closes or the session ends,
// returning the final transcripts and any fatal error.
func printEvents(w io.Writer, events <-chan transcriber.Event, interim bool) ([]transcriber.Event, error) {
	var finals []transcriber.Event
	var fatal error
	for ev := range events {
		switch ev.Type {
		case transcriber.EventTranscription:
			text := strings.TrimSpace(ev.Result.Text)
			if text == "" {
				continue
			}
			if ev.Result.Final {
				finals = append(finals, ev)
				fmt.Fprintln(w, text)
			} else if interim {
				fmt.Fprintf(w, "~ %s\n", text)
			}
		case transcriber.EventFatal:
			fatal = ev.Err
		case transcriber.EventConnection:
			if ev.Connection.Status == transcriber.StatusDisconnected {
				return finals, fatal
			}
		}
	}
	return finals, fatal
}
