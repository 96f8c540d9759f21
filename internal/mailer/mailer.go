package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"crm-mailroom/internal/config"
)

// OutboundMail is one message for the outbound transport.
type OutboundMail struct {
	To      string
	Bcc     []string
	Subject string
	Body    string
	Headers map[string]string
}

// Sender delivers outbound mail.
type Sender interface {
	Send(ctx context.Context, mail OutboundMail) error
}

// SMTPSender delivers mail through the configured SMTP account.
type SMTPSender struct {
	cfg  config.SMTPConfig
	dial func() (gomail.SendCloser, error)
}

// NewSMTPSender creates a sender for the configured SMTP account.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Security == "ssl" {
		dialer.SSL = true
	} else {
		dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &SMTPSender{cfg: cfg, dial: dialer.Dial}
}

// Send composes and delivers one message. The context bounds the dial;
// cancellation can only abandon the mail before transmission starts, so
// a returned error never races a delivery that actually went out.
func (s *SMTPSender) Send(ctx context.Context, mail OutboundMail) error {
	if s.cfg.Host == "" {
		return fmt.Errorf("smtp transport not configured")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", mail.To)
	if len(mail.Bcc) > 0 {
		msg.SetHeader("Bcc", mail.Bcc...)
	}
	msg.SetHeader("Subject", mail.Subject)
	for name, value := range mail.Headers {
		msg.SetHeader(name, value)
	}
	msg.SetBody("text/plain", mail.Body)

	type dialResult struct {
		conn gomail.SendCloser
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		conn, err := s.dial()
		dialCh <- dialResult{conn: conn, err: err}
	}()

	var conn gomail.SendCloser
	select {
	case res := <-dialCh:
		if res.err != nil {
			return fmt.Errorf("failed to dial SMTP server: %w", res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		// Nothing was transmitted yet; close the connection once the
		// abandoned dial completes.
		go func() {
			if res := <-dialCh; res.err == nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("send cancelled: %w", ctx.Err())
	}
	defer conn.Close()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send cancelled: %w", err)
	}
	// Past this point the transmission runs to completion; its own
	// result is authoritative.
	if err := gomail.Send(conn, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
