package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Control socket operations.
const (
	OpStatus    = "status"
	OpHealth    = "health"
	OpInfo      = "info"
	OpMute      = "mute"
	OpUnmute    = "unmute"
	OpReconnect = "reconnect"
)

type Request struct {
	Op string `json:"op"`
}

type Status struct {
	Running     bool         `json:"running"`
	UptimeSec   float64      `json:"uptime_sec"`
	Connection  Info         `json:"connection"`
	LastHeard   *time.Time   `json:"last_heard,omitempty"`
	Transcripts []Transcript `json:"transcripts"`
}

// Info mirrors the transcriber's connection info.
type Info struct {
	Transport string `json:"transport"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Muted     bool   `json:"muted"`
	Attempts  int    `json:"attempts"`
	SessionID string `json:"session_id,omitempty"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Transcript struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Call sends one request to the daemon socket and decodes the reply into out.
func Call(socketPath, op string, out any) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := json.NewEncoder(conn).Encode(Request{Op: op}); err != nil {
		return err
	}
	if err := json.NewDecoder(conn).Decode(out); err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	return nil
}
