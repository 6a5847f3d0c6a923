//go:build portaudio

package mic

import (
	"fmt"
	"strings"

	"telescribe/internal/capture"

	"github.com/gordonklaus/portaudio"
)

type paStream struct {
	s *portaudio.Stream
}

func (p *paStream) Stop() error { return p.s.Stop() }

func (p *paStream) Close() error {
	err := p.s.Close()
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}

func openBackend(cfg Config, deliver func([]float32)) (stream, int, string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, 0, "", fmt.Errorf("portaudio init: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = portaudio.Terminate()
		}
	}()

	dev, err := selectDevice(cfg.DeviceName)
	if err != nil {
		return nil, 0, "", err
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = rate * int(cfg.Frame.Milliseconds()) / 1000

	s, err := portaudio.OpenStream(params, func(in []float32) { deliver(in) })
	if err != nil {
		return nil, 0, "", classify(err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, 0, "", classify(err)
	}
	ok = true
	return &paStream{s: s}, rate, dev.Name, nil
}

// classify maps backend failures onto capture errors where the message is
// recognizable.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	case strings.Contains(msg, "device unavailable") || strings.Contains(msg, "invalid device"):
		return fmt.Errorf("%w: %v", capture.ErrNoInputDevice, err)
	default:
		return fmt.Errorf("open stream: %w", err)
	}
}

func selectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, capture.ErrNoInputDevice
}

// ListDevices returns every device with at least one input channel.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	out := []Device{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Index:     i,
			Name:      d.Name,
			Channels:  d.MaxInputChannels,
			Rate:      d.DefaultSampleRate,
			LatencyMs: d.DefaultLowInputLatency.Seconds() * 1000,
			Default:   def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Available reports whether capture is compiled in.
func Available() bool { return true }
