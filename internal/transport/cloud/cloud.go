// Package cloud implements the Google Cloud Speech-to-Text v1 REST adapter.
// Each utterance is one synchronous speech:recognize request.
package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"telescribe/internal/audio"
	"telescribe/internal/transport"

	"github.com/sirupsen/logrus"
)

const (
	defaultEndpoint = "https://speech.googleapis.com"
	defaultModel    = "latest_long"
	sampleRate      = 16000
)

// Config holds credentials and recognition settings.
type Config struct {
	ProjectID   string
	APIKey      string
	Endpoint    string
	Model       string
	Language    string
	Punctuation bool
	Timeout     time.Duration
}

// Client posts utterances to speech:recognize.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logrus.FieldLogger

	mu        sync.RWMutex
	sink      transport.Sink
	connected bool
}

// New builds a client; credentials are checked on Open.
func New(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.WithField("transport", transport.KindCloudREST.String()),
	}
}

// CredentialsLookValid applies the cheap local checks done before trying the
// cloud path: a project id other than the "fallback" placeholder and an API
// key without whitespace.
func CredentialsLookValid(projectID, apiKey string) bool {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || strings.EqualFold(projectID, "fallback") {
		return false
	}
	if apiKey == "" || strings.ContainsAny(apiKey, " \t\r\n") {
		return false
	}
	return true
}

func (c *Client) Kind() transport.Kind { return transport.KindCloudREST }
func (c *Client) Mode() transport.Mode { return transport.Buffered }
func (c *Client) SampleRate() int      { return sampleRate }

func (c *Client) Open(_ context.Context, sink transport.Sink) error {
	if !CredentialsLookValid(c.cfg.ProjectID, c.cfg.APIKey) {
		return fmt.Errorf("cloud: %w", transport.ErrNotConfigured)
	}
	c.mu.Lock()
	c.sink = sink
	c.connected = true
	c.mu.Unlock()
	c.logger.Infof("using cloud speech (model %s, language %s)", c.cfg.Model, c.cfg.Language)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

type recognizeConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model"`
	UseEnhanced                bool   `json:"useEnhanced"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	MaxAlternatives            int    `json:"maxAlternatives"`
	ProfanityFilter            bool   `json:"profanityFilter"`
}

type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// SendAudio recognizes one utterance and emits every non-blank top
// alternative as a final transcript.
func (c *Client) SendAudio(ctx context.Context, pcm []float32, _ time.Time) error {
	c.mu.RLock()
	sink, connected := c.sink, c.connected
	c.mu.RUnlock()
	if !connected {
		return transport.ErrNotConnected
	}
	if len(pcm) == 0 {
		return nil
	}

	texts, err := c.Recognize(ctx, pcm)
	if err != nil {
		return err
	}
	for _, text := range texts {
		c.logger.Debugf("recognized: %q", text)
		sink.Transcript(text, true)
	}
	return nil
}

// Recognize posts 16 kHz mono samples and returns the top alternatives.
func (c *Client) Recognize(ctx context.Context, pcm []float32) ([]string, error) {
	var body recognizeRequest
	body.Config = recognizeConfig{
		Encoding:                   "LINEAR16",
		SampleRateHertz:            sampleRate,
		LanguageCode:               c.cfg.Language,
		Model:                      c.cfg.Model,
		UseEnhanced:                true,
		EnableAutomaticPunctuation: c.cfg.Punctuation,
		MaxAlternatives:            1,
		ProfanityFilter:            false,
	}
	body.Audio.Content = base64.StdEncoding.EncodeToString(audio.LittleEndianPCM16(pcm))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/speech:recognize?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech api error: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var result recognizeResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrMalformedPayload, err)
	}
	texts := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			texts = append(texts, r.Alternatives[0].Transcript)
		}
	}
	return texts, nil
}
