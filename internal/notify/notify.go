package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"crewline/internal/config"
)

const defaultTimeout = 5 * time.Second

// Dispatcher delivers one templated message to one recipient contact.
// Implementations must treat delivery as best-effort: callers never roll
// back state on a send failure.
type Dispatcher interface {
	Send(ctx context.Context, recipient, templateCode string, params map[string]string) error
}

// Gateway posts template messages to an alimtalk-style HTTP gateway.
type Gateway struct {
	URL       string
	APIKey    string
	SenderKey string
	SenderNo  string
	Client    *http.Client
}

// NewGateway builds a Gateway with a default timeout client.
func NewGateway(cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		SenderKey: cfg.SenderKey,
		SenderNo:  cfg.SenderNo,
		Client:    &http.Client{Timeout: defaultTimeout},
	}
}

type gatewayMessage struct {
	MessageType    string            `json:"message_type"`
	PhoneNumber    string            `json:"phone_number"`
	TemplateCode   string            `json:"template_code"`
	TemplateParams map[string]string `json:"template_params"`
	SenderKey      string            `json:"sender_key,omitempty"`
	SenderNo       string            `json:"sender_no,omitempty"`
}

func (g *Gateway) Send(ctx context.Context, recipient, templateCode string, params map[string]string) error {
	if g.URL == "" || g.APIKey == "" || templateCode == "" {
		return fmt.Errorf("notify: gateway not configured (template %s)", templateCode)
	}
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("notify: empty recipient for template %s", templateCode)
	}
	if params == nil {
		params = map[string]string{}
	}
	body := gatewayMessage{
		MessageType:    "AT",
		PhoneNumber:    NormalizePhone(recipient),
		TemplateCode:   templateCode,
		TemplateParams: params,
		SenderKey:      g.SenderKey,
		SenderNo:       g.SenderNo,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	authz := g.APIKey
	if !strings.HasPrefix(authz, "Bearer") {
		authz = "Bearer " + authz
	}
	req.Header.Set("Authorization", authz)
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("notify: gateway status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// NormalizePhone converts local 0-prefixed numbers to E.164-ish 82 form and
// strips dashes, matching what the gateway expects.
func NormalizePhone(phone string) string {
	p := strings.ReplaceAll(strings.TrimSpace(phone), "-", "")
	if strings.HasPrefix(p, "0") {
		return "82" + p[1:]
	}
	return p
}

// LogDispatcher records sends to a logger. Used when no gateway is
// configured so local runs still show what would have been delivered.
type LogDispatcher struct {
	Logger *log.Logger
}

func (d LogDispatcher) Send(_ context.Context, recipient, templateCode string, params map[string]string) error {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify: template=%s recipient=%s params=%v", templateCode, recipient, params)
	return nil
}

// FromConfig picks the gateway when configured, the log fallback otherwise.
func FromConfig(cfg *config.Config) Dispatcher {
	if cfg != nil && cfg.Notifications.Gateway.URL != "" && cfg.Notifications.Gateway.APIKey != "" {
		return NewGateway(cfg.Notifications.Gateway)
	}
	return LogDispatcher{}
}
