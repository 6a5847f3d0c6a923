// Package stream implements the binary WebSocket ASR adapter. Audio goes up
// as MessagePack {type:"Audio", pcm:[...]} frames; the server answers with
// Word, Step, Ready and Error messages in the same encoding.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"telescribe/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultSampleRate = 24000
	defaultKeepAlive  = time.Second
	writeTimeout      = 5 * time.Second
)

// Config describes the ASR endpoint.
type Config struct {
	Endpoint       string
	AuthID         string
	SampleRate     int
	KeepAlive      time.Duration
	PauseIndex     int
	PauseThreshold float64
	DialTimeout    time.Duration
}

type audioMessage struct {
	Type string    `msgpack:"type"`
	PCM  []float32 `msgpack:"pcm"`
}

type serverMessage struct {
	Type        string    `msgpack:"type"`
	Text        string    `msgpack:"text"`
	StartTime   float64   `msgpack:"start_time"`
	StepIdx     int       `msgpack:"step_idx"`
	Prs         []float32 `msgpack:"prs"`
	BufferedPCM int       `msgpack:"buffered_pcm"`
	Message     string    `msgpack:"message"`
}

// Client is a reconnectable ASR session.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger logrus.FieldLogger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	sink      transport.Sink
	connected bool
	closing   bool
	// heardWord is set by a Word and cleared when a pause fires, so one
	// pause is reported per utterance.
	heardWord bool
}

// New builds a client; the endpoint is dialed on Open.
func New(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = 0.5
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger.WithField("transport", transport.KindStream.String()),
	}
}

// URL is the session URL for the configured endpoint and auth id.
func (c *Client) URL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.Endpoint), "/")
	if base == "" {
		return "", fmt.Errorf("stream: %w", transport.ErrNotConfigured)
	}
	u, err := url.Parse(base + "/api/asr-streaming")
	if err != nil {
		return "", fmt.Errorf("stream endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("auth_id", c.cfg.AuthID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Kind() transport.Kind { return transport.KindStream }
func (c *Client) Mode() transport.Mode { return transport.Streaming }
func (c *Client) SampleRate() int      { return c.cfg.SampleRate }

func (c *Client) KeepAliveInterval() time.Duration { return c.cfg.KeepAlive }

func (c *Client) Open(ctx context.Context, sink transport.Sink) error {
	target, err := c.URL()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial asr (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("dial asr: %w", err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.sink = sink
	c.connected = true
	c.closing = false
	c.heardWord = false
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go c.readLoop(conn)
	c.logger.Infof("asr session open: %s", c.cfg.Endpoint)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendAudio encodes one frame and writes it as a binary message.
func (c *Client) SendAudio(_ context.Context, pcm []float32, _ time.Time) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return transport.ErrNotConnected
	}
	data, err := msgpack.Marshal(&audioMessage{Type: "Audio", PCM: pcm})
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

// Close ends the session with a normal closure; it never reports to the sink.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		var msg serverMessage
		if err := msgpack.Unmarshal(data, &msg); err != nil {
			c.logger.Warnf("%v: %v", transport.ErrMalformedPayload, err)
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.closing {
		// Superseded by a newer session or closed by us.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	sink := c.sink
	c.mu.Unlock()
	_ = conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("asr session closed by server")
		sink.Closed(nil)
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Warnf("asr session lost (code %d): %v", ce.Code, err)
	} else {
		c.logger.Warnf("asr session lost: %v", err)
	}
	sink.Closed(err)
}

func (c *Client) handleMessage(msg *serverMessage) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return
	}
	switch msg.Type {
	case "Word":
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
		c.mu.Lock()
		c.heardWord = true
		c.mu.Unlock()
		sink.Transcript(msg.Text, true)
	case "Step":
		if c.cfg.PauseIndex < 0 || c.cfg.PauseIndex >= len(msg.Prs) {
			return
		}
		if float64(msg.Prs[c.cfg.PauseIndex]) <= c.cfg.PauseThreshold {
			return
		}
		c.mu.Lock()
		fire := c.heardWord
		c.heardWord = false
		c.mu.Unlock()
		if fire {
			sink.VADPause()
		}
	case "Ready":
		c.logger.Debug("asr ready")
	case "Error":
		c.logger.Warnf("asr error message: %s", msg.Message)
	default:
		c.logger.Debugf("ignoring asr message type %q", msg.Type)
	}
}
