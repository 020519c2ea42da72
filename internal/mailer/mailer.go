// Package mailer delivers finished reports by email.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/model"
	"github.com/alouette-a11y/alouette/internal/render"
)

var (
	// ErrVerify means the transport could not connect or authenticate.
	ErrVerify = errors.New("mail transport verification failed")
	// ErrSend means the message was rejected or lost in transit.
	ErrSend = errors.New("mail send failed")
)

// AttachmentName is the file name of the report PDF.
const AttachmentName = "rapport-accessibilite.pdf"

// Transport moves composed messages.
type Transport interface {
	// Verify connects and authenticates without sending.
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg *mail.Msg) error
}

// Config holds sender identity and SMTP settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TLS is mandatory, opportunistic or none.
	TLS     string        `yaml:"tls"`
	Timeout time.Duration `yaml:"timeout"`

	From         string `yaml:"from"`
	FromName     string `yaml:"from_name"`
	DashboardURL string `yaml:"dashboard_url"`
}

func DefaultConfig() Config {
	return Config{
		Host:     "smtp.gmail.com",
		Port:     587,
		TLS:      "mandatory",
		Timeout:  30 * time.Second,
		FromName: "Alouette A11Y",
	}
}

type Mailer struct {
	transport Transport
	cfg       Config
	logger    logging.Logger
}

func New(cfg Config, transport Transport, logger logging.Logger) *Mailer {
	if cfg.FromName == "" {
		cfg.FromName = DefaultConfig().FromName
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Mailer{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(logging.Field{Key: "component", Value: "mailer"}),
	}
}

// Subject returns the delivery subject for siteURL.
func Subject(siteURL string) string {
	return fmt.Sprintf("Votre rapport d'audit RGAA pour %s est prêt !", siteURL)
}

// Compose builds the delivery message without sending it.
func (m *Mailer) Compose(to, siteURL string, r *model.ProcessedReport, pdf []byte) (*mail.Msg, error) {
	body, err := render.EmailHTML(siteURL, r, m.cfg.DashboardURL)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(Subject(siteURL))
	msg.SetBodyString(mail.TypeTextHTML, body)
	if err := msg.AttachReader(AttachmentName, bytes.NewReader(pdf),
		mail.WithFileContentType(mail.ContentType("application/pdf"))); err != nil {
		return nil, fmt.Errorf("attach report: %w", err)
	}
	return msg, nil
}

// SendReport verifies the transport, then sends the report to to.
func (m *Mailer) SendReport(ctx context.Context, to, siteURL string, r *model.ProcessedReport, pdf []byte) error {
	if err := m.transport.Verify(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}
	msg, err := m.Compose(to, siteURL, r, pdf)
	if err != nil {
		return err
	}
	m.logger.Info("sending report", logging.Field{Key: "to", Value: to}, logging.Field{Key: "site", Value: siteURL})
	if err := m.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}
