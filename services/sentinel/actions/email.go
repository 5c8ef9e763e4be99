// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
)

// ErrSMTPNotConfigured is returned by NewEmail without host or user.
var ErrSMTPNotConfigured = errors.New("smtp host and user are required")

// EmailConfig holds SMTP settings. The password stays sealed in a memguard
// enclave and is only opened for the duration of a send.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password *memguard.Enclave
	From     string
	Subject  string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends plain-text mail over SMTP with STARTTLS when the server
// offers it.
type Email struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmail validates cfg. Port defaults to 587 and From to User.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, ErrSMTPNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail}, nil
}

// Send implements Dispatcher. The first line of the message doubles as
// subject when no fixed subject is configured.
func (e *Email) Send(ctx context.Context, target, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var auth smtp.Auth
	if e.cfg.Password != nil {
		buf, err := e.cfg.Password.Open()
		if err != nil {
			return "", fmt.Errorf("open smtp secret: %w", err)
		}
		defer buf.Destroy()
		auth = smtp.PlainAuth("", e.cfg.User, buf.String(), e.cfg.Host)
	}

	subject := e.cfg.Subject
	if subject == "" {
		subject, _, _ = strings.Cut(message, "\n")
	}
	msg := buildMessage(e.cfg.From, target, subject, message)
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.cfg.From, []string{target}, msg)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return StatusEmailSent, nil
	}
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
