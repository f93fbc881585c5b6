// Package mail sends transactional notifications: sign-in links, password
// resets and order confirmations.
//
// Delivery is best effort. Callers report a failed send as emailSent=false
// and never fail the operation that triggered it.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront/internal/model"
	"storefront/internal/transport"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
	Tag     string // provider-side category, e.g. "magic_link"
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
// Used in development and when no provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email (not sent, log mailer)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.String("text", msg.Text),
	)
	return nil
}

// HTTPConfig configures the provider client.
type HTTPConfig struct {
	Endpoint string // e.g. https://api.resend.com/emails
	APIKey   string
	From     string
	Timeout  time.Duration

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// HTTPMailer posts messages as JSON to a transactional email API.
type HTTPMailer struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewHTTPMailer creates a provider-backed mailer.
func NewHTTPMailer(cfg HTTPConfig) (*HTTPMailer, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.From == "" {
		return nil, fmt.Errorf("mail endpoint, API key and sender are required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = transport.NewClient(cfg.Timeout)
	}
	return &HTTPMailer{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: client,
	}, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	Tags    []tag    `json:"tags,omitempty"`
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Send delivers msg in a single attempt.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	payload := sendRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
	}
	if msg.Tag != "" {
		payload.Tags = []tag{{Name: "category", Value: msg.Tag}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("mail provider", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.NewUpstreamError("mail provider",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// SendBestEffort sends msg and reports whether it went out. Failures are
// logged, never returned.
func SendBestEffort(ctx context.Context, m Mailer, logger *slog.Logger, msg Message) bool {
	if m == nil {
		return false
	}
	if err := m.Send(ctx, msg); err != nil {
		logger.WarnContext(ctx, "email delivery failed",
			slog.String("tag", msg.Tag),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

var (
	_ Mailer = (*LogMailer)(nil)
	_ Mailer = (*HTTPMailer)(nil)
)
