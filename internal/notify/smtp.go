package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures outbound e-mail.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// SMTP sends plain-text e-mail. The subject is taken from meta["subject"].
type SMTP struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP constructs the e-mail transport.
func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, sendMail: smtp.SendMail}
}

// IsConfigured implements Transport.
func (s *SMTP) IsConfigured() bool { return s.cfg.Addr != "" && s.cfg.From != "" }

// Send implements Transport.
func (s *SMTP) Send(ctx context.Context, recipient, message string, meta Meta) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if strings.ContainsAny(recipient, "\r\n") || !strings.Contains(recipient, "@") {
		return fmt.Errorf("smtp: bad recipient: %w", ErrPermanent)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(meta["subject"])
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(message)

	if err := s.sendMail(s.cfg.Addr, auth, s.cfg.From, []string{recipient}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}
