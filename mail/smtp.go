package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// DefaultFromName is the display name on outgoing mail.
const DefaultFromName = "NEA Web Agency"

// SMTPConfig configures SMTPDispatcher.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	FromName string        `koanf:"from_name"`
	TLS      string        `koanf:"tls"` // "mandatory" (default), "opportunistic" or "none"
	Timeout  time.Duration `koanf:"timeout"`
}

// Configured reports whether enough is set to attempt delivery.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// SMTPDispatcher sends through an SMTP relay.
type SMTPDispatcher struct {
	from     string
	fromName string
	options  []gomail.Option
	host     string
}

// NewSMTP validates cfg. It returns ErrNotConfigured when host or credentials
// are missing.
func NewSMTP(cfg SMTPConfig) (*SMTPDispatcher, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	policy := gomail.TLSMandatory
	switch strings.ToLower(cfg.TLS) {
	case "", "mandatory":
	case "opportunistic":
		policy = gomail.TLSOpportunistic
	case "none":
		policy = gomail.NoTLS
	default:
		return nil, fmt.Errorf("unsupported smtp tls policy %q", cfg.TLS)
	}

	return &SMTPDispatcher{
		from:     cfg.From,
		fromName: cfg.FromName,
		host:     cfg.Host,
		options: []gomail.Option{
			gomail.WithPort(cfg.Port),
			gomail.WithTLSPortPolicy(policy),
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
			gomail.WithTimeout(cfg.Timeout),
		},
	}, nil
}

func (d *SMTPDispatcher) message(to, subject, htmlBody string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(d.fromName, d.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)
	return msg, nil
}

// Send implements Dispatcher. A client is dialled per message.
func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg, err := d.message(to, subject, htmlBody)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(d.host, d.options...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
