// Package transport defines the contract between the transcriber and the
// speech-to-text backends it can fall back between.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured means the adapter lacks credentials or an endpoint.
	ErrNotConfigured = errors.New("transport not configured")
	// ErrUnavailable means the backend cannot run in this build or host.
	ErrUnavailable = errors.New("transport unavailable")
	// ErrNotConnected is returned by SendAudio before Open or after Close.
	ErrNotConnected = errors.New("transport not connected")
	// ErrMalformedPayload wraps undecodable responses.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Kind identifies a transport in connection info and logs.
type Kind int

const (
	KindNone Kind = iota
	KindCloudREST
	KindOnDevice
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindCloudREST:
		return "cloud-rest"
	case KindOnDevice:
		return "on-device"
	case KindStream:
		return "binary-websocket"
	default:
		return "none"
	}
}

// Mode decides how the transcriber feeds audio.
type Mode int

const (
	// Buffered adapters receive whole utterances cut by the transcriber's
	// segmenter; each SendAudio is one recognition request.
	Buffered Mode = iota
	// Streaming adapters receive every frame and hold a session open.
	Streaming
)

// Sink receives adapter output. Implementations must not block.
type Sink interface {
	Transcript(text string, final bool)
	VADPause()
	// Closed reports the end of a session. A nil err is a clean close by
	// the remote side; anything else is unexpected.
	Closed(err error)
}

// Adapter is one speech-to-text backend.
type Adapter interface {
	Kind() Kind
	Mode() Mode
	// SampleRate is the rate SendAudio expects.
	SampleRate() int
	// Open prepares the adapter; it may be called again after Close or an
	// unexpected close to reconnect.
	Open(ctx context.Context, sink Sink) error
	SendAudio(ctx context.Context, pcm []float32, at time.Time) error
	Close() error
	Connected() bool
}

// Pauser is implemented by adapters that must be stopped rather than starved
// while the microphone is muted.
type Pauser interface {
	Pause() error
	Resume(ctx context.Context) error
}

// KeepAliver is implemented by session adapters that need periodic silence
// to keep the remote side from timing out.
type KeepAliver interface {
	KeepAliveInterval() time.Duration
}
