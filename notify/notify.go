// Package notify delivers review notifications to chat and work-tracking
// integrations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel types accepted in ChannelConfig.Type.
const (
	TypeDingTalk = "dingtalk"
	TypeWeCom    = "wecom"
	TypeFeishu   = "feishu"
	TypeSlack    = "slack"
	TypeWebhook  = "webhook"
	TypePingCode = "pingcode"
)

// Types lists every supported channel type.
func Types() []string {
	return []string{TypeDingTalk, TypeWeCom, TypeFeishu, TypeSlack, TypeWebhook, TypePingCode}
}

// Message formats understood by the chat channels.
const (
	MsgTypeText     = "text"
	MsgTypeMarkdown = "markdown"
)

// Message is one logical notification.
type Message struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	MsgType string `json:"msg_type"`
	// URL links back to the reviewed pull request or commit.
	URL string `json:"url,omitempty"`
}

// Text renders the message as plain text with the title first.
func (m Message) Text() string {
	var b bytes.Buffer
	if m.Title != "" {
		b.WriteString(m.Title)
		b.WriteString("\n")
	}
	if m.URL != "" {
		b.WriteString(m.URL)
		b.WriteString("\n")
	}
	b.WriteString(m.Content)
	return b.String()
}

// ChannelConfig configures one integration. Which fields are required
// depends on Type.
type ChannelConfig struct {
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`

	// WebhookURL is used by every type except pingcode.
	WebhookURL string `yaml:"webhook_url"`
	// Secret signs dingtalk and feishu requests when set.
	Secret  string            `yaml:"secret"`
	Headers map[string]string `yaml:"headers"`

	// PingCode client credentials.
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Channel is a notification destination.
type Channel interface {
	Name() string
	// IsEnabled reports whether the channel is switched on and has every
	// field it needs to send.
	IsEnabled() bool
	Send(ctx context.Context, msg Message) error
}

// Deps are the shared resources handed to every channel.
type Deps struct {
	HTTPClient *http.Client
	// Tokens caches pingcode credentials and lookups.
	Tokens *TokenCache
}

// New builds the channel selected by cfg.Type.
func New(cfg ChannelConfig, deps Deps) (Channel, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	switch cfg.Type {
	case TypeDingTalk:
		return &DingTalk{cfg: cfg, client: deps.HTTPClient, now: time.Now}, nil
	case TypeWeCom:
		return &WeCom{cfg: cfg, client: deps.HTTPClient}, nil
	case TypeFeishu:
		return &Feishu{cfg: cfg, client: deps.HTTPClient, now: time.Now}, nil
	case TypeSlack:
		return &Slack{cfg: cfg, client: deps.HTTPClient}, nil
	case TypeWebhook:
		return &Webhook{cfg: cfg, client: deps.HTTPClient}, nil
	case TypePingCode:
		if deps.Tokens == nil {
			deps.Tokens = NewTokenCache()
		}
		return &PingCode{cfg: cfg, client: deps.HTTPClient, cache: deps.Tokens}, nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

func channelName(cfg ChannelConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}

// postJSON sends body to url and returns the response body. Non-2xx statuses
// are errors.
func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(client, req)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.StatusCode == code
}
