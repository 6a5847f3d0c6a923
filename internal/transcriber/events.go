package transcriber

import (
	"time"

	"telescribe/internal/transport"
)

// Status is the connection state reported to the host.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// ConnectionInfo describes the active transport.
type ConnectionInfo struct {
	Transport transport.Kind
	Status    Status
	Muted     bool
	Attempts  int
	SessionID string
}

// TranscriptionResult is one piece of recognized text.
type TranscriptionResult struct {
	Text      string
	Final     bool
	Timestamp time.Time
}

// EventType tags an Event.
type EventType int

const (
	EventTranscription EventType = iota + 1
	EventVADPause
	EventConnection
	EventFatal
)

func (t EventType) String() string {
	switch t {
	case EventTranscription:
		return "transcription"
	case EventVADPause:
		return "vad_pause"
	case EventConnection:
		return "connection"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is delivered on Transcriber.Events. Only the field matching Type is set.
type Event struct {
	Type       EventType
	SessionID  string
	At         time.Time
	Result     TranscriptionResult
	Connection ConnectionInfo
	Err        error
}
