package mail

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"slices"
	"sync"
)

// ErrNotConfigured is returned by constructors when required settings are
// missing.
var ErrNotConfigured = errors.New("mail transport not configured")

// Dispatcher sends one HTML message.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ResetSubject is the subject line of the recovery message.
const ResetSubject = "Reset Password - NEA"

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222;">
    <h2>Reset your password</h2>
    <p>We received a request to reset the password for your account.</p>
    <p><a href="{{.Link}}" style="display:inline-block;padding:10px 18px;background:#111;color:#fff;text-decoration:none;border-radius:4px;">Reset password</a></p>
    <p>This link expires in {{.ExpiresIn}}. If you did not ask for a reset you can ignore this email.</p>
  </body>
</html>
`))

// RenderResetEmail returns the subject and HTML body of the recovery message.
func RenderResetEmail(link, expiresIn string) (string, string, error) {
	var buf bytes.Buffer
	if err := resetTemplate.Execute(&buf, struct {
		Link      string
		ExpiresIn string
	}{Link: link, ExpiresIn: expiresIn}); err != nil {
		return "", "", err
	}
	return ResetSubject, buf.String(), nil
}

// Message is a dispatched message as seen by LogDispatcher.
type Message struct {
	To      string
	Subject string
	Body    string
}

// LogDispatcher keeps messages in memory and logs their envelope.
type LogDispatcher struct {
	logger   *slog.Logger
	logBody  bool
	retained int

	mu   sync.Mutex
	sent []Message
}

// LogOption configures a LogDispatcher.
type LogOption func(*LogDispatcher)

// WithBodyLogging logs the message body as well. Bodies hold live reset
// links, so this is for development only.
func WithBodyLogging() LogOption {
	return func(d *LogDispatcher) { d.logBody = true }
}

// WithRetention keeps at most n of the latest messages for Sent. Zero keeps
// none. Without it every message is kept.
func WithRetention(n int) LogOption {
	return func(d *LogDispatcher) { d.retained = max(n, 0) }
}

func NewLogDispatcher(logger *slog.Logger, opts ...LogOption) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &LogDispatcher{logger: logger.With("component", "mail"), retained: -1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *LogDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	d.mu.Lock()
	if d.retained != 0 {
		d.sent = append(d.sent, Message{To: to, Subject: subject, Body: htmlBody})
		if d.retained > 0 && len(d.sent) > d.retained {
			d.sent = slices.Delete(d.sent, 0, len(d.sent)-d.retained)
		}
	}
	d.mu.Unlock()

	attrs := []any{"to", to, "subject", subject}
	if d.logBody {
		attrs = append(attrs, "body", htmlBody)
	}
	d.logger.InfoContext(ctx, "mail queued (log transport)", attrs...)
	return nil
}

// Sent returns a copy of every message sent so far.
func (d *LogDispatcher) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Message, len(d.sent))
	copy(out, d.sent)
	return out
}
