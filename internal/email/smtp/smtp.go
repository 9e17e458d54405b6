// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package smtp delivers email over SMTP.
package smtp

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
)

const serviceName = "smtp"

// Security selects the transport encryption.
const (
	SecurityNone     = "none"
	SecuritySTARTTLS = "starttls"
	SecurityTLS      = "tls"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security string
	Sender   string
}

// Transport sends mail through one SMTP server.
type Transport struct {
	cfg Config
}

// New creates an SMTP transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" {
		return nil, apperr.Configuration("smtp.new", "smtp host is required")
	}
	if cfg.Sender == "" {
		cfg.Sender = cfg.Username
	}
	if cfg.Sender == "" {
		return nil, apperr.Configuration("smtp.new", "smtp sender is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Transport{cfg: cfg}, nil
}

// buildMsg assembles the MIME message: plain text with an HTML alternative.
func (t *Transport) buildMsg(msg email.Message) (*mail.Msg, error) {
	from := msg.From
	if from == "" {
		from = t.cfg.Sender
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for k, v := range msg.Headers {
		m.SetGenHeader(mail.Header(k), v)
	}
	m.SetMessageID()
	return m, nil
}

func (t *Transport) Send(ctx context.Context, msg email.Message) (string, error) {
	m, err := t.buildMsg(msg)
	if err != nil {
		return "", err
	}

	opts := []mail.Option{mail.WithPort(t.cfg.Port)}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	switch t.cfg.Security {
	case SecurityTLS:
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case SecuritySTARTTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return "", apperr.Configuration("smtp.send", fmt.Sprintf("create smtp client: %v", err))
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", apperr.Upstream("smtp.send", serviceName, 0, "", err)
	}
	return m.GetMessageID(), nil
}
