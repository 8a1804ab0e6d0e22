// Package notify renders restock messages and provides the notifier
// implementations that do not need an external service.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultPrefix heads every message when no prefix is configured.
const DefaultPrefix = "🔔 再入荷"

// maxErrorBody bounds the response excerpt carried by StatusError.
const maxErrorBody = 500

// ErrMissingCredentials reports a backend that cannot send because it lacks
// credentials. Callers treat it as a skipped send.
var ErrMissingCredentials = errors.New("notifier credentials missing")

// StatusError is a non-2xx response from a push API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notify: unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError truncates body to the first 500 bytes.
func NewStatusError(status int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{StatusCode: status, Body: string(body)}
}

// Format renders the restock message for target.
func Format(prefix string, target stock.Target) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s\n%s\n在庫が復活したかもしれません！\n%s", prefix, target.Name, target.URL)
}

// LogNotifier writes messages to the log instead of a push service.
type LogNotifier struct {
	logger *zap.Logger
}

var _ stock.Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Send logs msg.
func (n *LogNotifier) Send(_ context.Context, msg stock.Message) error {
	n.logger.Info("restock notification",
		zap.String("name", msg.Target.Name),
		zap.String("url", msg.Target.URL),
		zap.String("text", msg.Text),
	)
	return nil
}

// Recorder keeps sent messages in memory. Err, when set, is returned from
// every Send and the message is not recorded.
type Recorder struct {
	mu       sync.RWMutex
	messages []stock.Message
	Err      error
}

var _ stock.Notifier = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records msg.
func (r *Recorder) Send(_ context.Context, msg stock.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns the recorded messages.
func (r *Recorder) Messages() []stock.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]stock.Message, len(r.messages))
	copy(out, r.messages)
	return out
}
