// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package mail delivers verification codes to account email addresses.
// Two senders are provided: SMTPSender for real delivery and LogSender
// for development environments without a mail relay.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

const codeSubject = "Your verification code"

// LogSender writes codes to the log instead of sending email. Intended for
// local development only since it exposes codes in plaintext.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs codes at warn level.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendCode logs the code with its recipient.
func (s *LogSender) SendCode(_ context.Context, email, code string) error {
	s.logger.Warn("email delivery disabled, logging verification code",
		"email", email,
		"code", code)
	return nil
}

// SMTPSender delivers verification codes over SMTP with STARTTLS when the
// server offers it.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// SMTPParams configures an SMTPSender.
type SMTPParams struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSMTPSender creates an SMTP-backed sender. From defaults to Username
// when empty.
func NewSMTPSender(p SMTPParams) (*SMTPSender, error) {
	if p.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if p.Port <= 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp port must be positive, got %d", p.Port)
	}
	from := p.From
	if from == "" {
		from = p.Username
	}
	if from == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp from address is required")
	}
	return &SMTPSender{
		host:     p.Host,
		port:     p.Port,
		username: p.Username,
		password: p.Password,
		from:     from,
	}, nil
}

// SendCode sends the verification code to email. The context governs the
// dial, and its deadline bounds every read and write on the connection.
func (s *SMTPSender) SendCode(ctx context.Context, email, code string) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	msg := buildMessage(s.from, email, codeSubject, codeBody(code))

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return oops.Code("MAIL_DELIVERY_FAILED").
			With("smtp_addr", addr).
			Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return oops.Code("MAIL_DELIVERY_FAILED").
				With("smtp_addr", addr).
				Wrap(err)
		}
	}

	if err := s.deliver(conn, email, msg); err != nil {
		return oops.Code("MAIL_DELIVERY_FAILED").
			With("smtp_addr", addr).
			Wrap(err)
	}
	return nil
}

// deliver runs the SMTP session over an established connection, upgrading
// to TLS when the server offers STARTTLS.
func (s *SMTPSender) deliver(conn net.Conn, email string, msg []byte) error {
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close() //nolint:errcheck // Quit already ended the session on success

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(email); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func codeBody(code string) string {
	return fmt.Sprintf("Your verification code is %s.\r\n\r\nIf you did not request this code, you can ignore this message.\r\n", code)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
