package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

var _ Transport = (*SMTPTransport)(nil)

// SMTPTransport opens a fresh connection per call.
type SMTPTransport struct {
	cfg Config
}

func NewSMTPTransport(cfg Config) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

func (t *SMTPTransport) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(t.cfg.TLS)),
	}
	if t.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.cfg.Timeout))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password))
	}
	c, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch strings.ToLower(s) {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	}
	return mail.TLSMandatory
}

func (t *SMTPTransport) Verify(ctx context.Context) error {
	c, err := t.client()
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return err
	}
	return c.Close()
}

func (t *SMTPTransport) Send(ctx context.Context, msg *mail.Msg) error {
	c, err := t.client()
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}
