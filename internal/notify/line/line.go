// Package line delivers restock messages through the LINE Messaging API push
// endpoint.
package line

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/restockwatch/internal/notify"
	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultEndpoint is the LINE push message API.
const DefaultEndpoint = "https://api.line.me/v2/bot/message/push"

// Config carries the channel credentials and transport knobs.
type Config struct {
	ChannelAccessToken string
	To                 string
	Endpoint           string
	Timeout            time.Duration
	UserAgent          string
}

// Notifier implements stock.Notifier for LINE.
type Notifier struct {
	cfg    Config
	client *resty.Client
}

var _ stock.Notifier = (*Notifier)(nil)

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// New builds a Notifier. Missing credentials are not an error here; Send
// reports them so a run can still proceed.
func New(cfg Config) *Notifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Notifier{cfg: cfg, client: client}
}

// Client exposes the underlying resty client (for transport injection in tests).
func (n *Notifier) Client() *resty.Client {
	return n.client
}

// Send pushes msg.Text to the configured recipient.
func (n *Notifier) Send(ctx context.Context, msg stock.Message) error {
	token := strings.TrimSpace(n.cfg.ChannelAccessToken)
	to := strings.TrimSpace(n.cfg.To)
	if token == "" || to == "" {
		return fmt.Errorf("line push: %w", notify.ErrMissingCredentials)
	}

	res, err := n.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(pushRequest{
			To:       to,
			Messages: []textMessage{{Type: "text", Text: msg.Text}},
		}).
		Post(n.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("line push: %w", notify.NewStatusError(res.StatusCode(), res.Body()))
	}
	return nil
}
