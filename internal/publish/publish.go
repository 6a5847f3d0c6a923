// Package publish fans transcriber events out over Redis pub/sub so other
// local tools can follow a session without the control socket.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"telescribe/internal/config"
	"telescribe/internal/transcriber"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Message is the JSON payload published for each event.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
	Text      string    `json:"text,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// FromEvent flattens ev into a Message with a fresh id.
func FromEvent(ev transcriber.Event) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      ev.Type.String(),
		SessionID: ev.SessionID,
		At:        ev.At,
	}
	switch ev.Type {
	case transcriber.EventTranscription:
		msg.Text = ev.Result.Text
		msg.Final = ev.Result.Final
	case transcriber.EventConnection:
		msg.Transport = ev.Connection.Transport.String()
		msg.Status = ev.Connection.Status.String()
	case transcriber.EventFatal:
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
	}
	return msg
}

// Publisher writes events to one Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	interim bool
	logger  logrus.FieldLogger
}

// New connects lazily; call Ping to verify the server.
func New(cfg *config.Config, logger logrus.FieldLogger) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Publish.Addr,
		Password: cfg.Publish.Password,
		DB:       cfg.Publish.DB,
	})
	return NewWithClient(client, cfg.Publish.Channel, cfg.Publish.Interim, logger)
}

func NewWithClient(client *redis.Client, channel string, interim bool, logger logrus.FieldLogger) *Publisher {
	return &Publisher{client: client, channel: channel, interim: interim, logger: logger}
}

func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", p.client.Options().Addr, err)
	}
	return nil
}

// Publish sends ev unless it is an interim result and interim publishing is off.
func (p *Publisher) Publish(ctx context.Context, ev transcriber.Event) error {
	if ev.Type == transcriber.EventTranscription && !ev.Result.Final && !p.interim {
		return nil
	}
	payload, err := json.Marshal(FromEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.logger.Debugf("published %s to %s", ev.Type, p.channel)
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
