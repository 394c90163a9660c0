package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"
)

// Encryption modes for [SMTPConfig].
const (
	EncryptionSSL      = "ssl"
	EncryptionStartTLS = "starttls"
	EncryptionNone     = "none"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host       string        `env:"HOST"`
	Port       int           `env:"PORT" envDefault:"465"`
	Username   string        `env:"USERNAME"`
	Password   string        `env:"PASSWORD"`
	From       string        `env:"FROM"`
	FromName   string        `env:"FROM_NAME" envDefault:"AuthHero"`
	Encryption string        `env:"ENCRYPTION" envDefault:"ssl"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Configured reports whether a relay host and sender address are set.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

func (c SMTPConfig) validate() error {
	if !c.Configured() {
		return errors.New("smtp host and from address are required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid smtp port %d", c.Port)
	}
	switch c.Encryption {
	case EncryptionSSL, EncryptionStartTLS, EncryptionNone:
	default:
		return fmt.Errorf("unknown smtp encryption %q", c.Encryption)
	}
	return nil
}

// SMTPSender sends mail directly through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	from mail.Address
	// tlsConfig is overridable in tests.
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewSMTPSender validates cfg.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionSSL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SMTPSender{
		cfg:       cfg,
		from:      mail.Address{Name: cfg.FromName, Address: cfg.From},
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
	}, nil
}

// SendEmail builds an RFC 5322 message and delivers it.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, html string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrDelivery, ErrInvalidRecipient, err)
	}

	msg := s.buildMessage(rcpt.Address, subject, html)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	client, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer client.Close()

	if err := s.deliver(client, rcpt.Address, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(to, subject, html string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(html)
	return msg.String()
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Encryption == EncryptionSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: s.tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(s.now().Add(2 * s.cfg.Timeout))
	}

	client, err := gosmtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}

	if s.cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(s.tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}
	return client, nil
}

func (s *SMTPSender) deliver(client *gosmtp.Client, to, msg string) error {
	if err := client.Mail(s.from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}
