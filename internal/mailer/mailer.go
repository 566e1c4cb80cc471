// Package mailer sends review notifications over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// ErrDelivery marks transport failures so callers can fall back to the
// local notification surface instead of losing the message.
var ErrDelivery = errors.New("mail delivery failed")

// Message is one outbound email.
type Message struct {
	To        string
	Subject   string
	HTMLBody  string
	PlainBody string
	ReplyTo   string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends emails via SMTP with a bounded connection deadline.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	ssl      bool // implicit TLS instead of STARTTLS
	timeout  time.Duration
}

// NewSMTPSender creates a new SMTP sender. ssl selects implicit TLS
// (typically port 465) over STARTTLS (typically 587).
func NewSMTPSender(host string, port int, username, password, from string, ssl bool) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		ssl:      ssl,
		timeout:  60 * time.Second,
	}
}

// Send sends an email via SMTP
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if s.ssl {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrDelivery, addr, err)
	}
	conn.SetDeadline(time.Now().Add(timeout))

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer client.Close()

	if !s.ssl {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return fmt.Errorf("%w: starttls: %v", ErrDelivery, err)
			}
		}
	}

	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: auth: %v", ErrDelivery, err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if _, err := w.Write([]byte(BuildMIME(s.from, msg))); err != nil {
		w.Close()
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	return client.Quit()
}

// BuildMIME renders a multipart/alternative message with plain-text and
// HTML parts. Exported so the outbox fallback can persist the exact bytes
// that would have gone over the wire.
func BuildMIME(from string, m Message) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", m.To))
	if m.ReplyTo != "" {
		msg.WriteString(fmt.Sprintf("Reply-To: %s\r\n", m.ReplyTo))
	}
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: multipart/alternative; boundary=\"boundary42\"\r\n")
	msg.WriteString("\r\n")

	// Plain text part
	msg.WriteString("--boundary42\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(m.PlainBody)
	msg.WriteString("\r\n")

	// HTML part
	msg.WriteString("--boundary42\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(m.HTMLBody)
	msg.WriteString("\r\n")

	msg.WriteString("--boundary42--\r\n")
	return msg.String()
}
