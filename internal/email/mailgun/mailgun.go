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

// Package mailgun delivers email through the Mailgun messages API.
package mailgun

import (
	"context"
	"errors"
	"fmt"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
)

const serviceName = "mailgun"

// Config holds Mailgun credentials.
type Config struct {
	Domain string
	APIKey string
	Region string // "us" (default) or "eu"
	Sender string

	// APIBase overrides the region's API host, e.g. "https://api.mailgun.net".
	APIBase string
}

// Transport sends mail for one Mailgun domain.
type Transport struct {
	client *mg.Client
	domain string
	sender string
}

// New creates a Mailgun transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, apperr.Configuration("mailgun.new", "mailgun domain and api_key are required")
	}
	client := mg.NewMailgun(cfg.APIKey)
	base := cfg.APIBase
	if base == "" && cfg.Region == "eu" {
		base = mg.APIBaseEU
	}
	if base != "" {
		if err := client.SetAPIBase(base); err != nil {
			return nil, apperr.Configuration("mailgun.new", err.Error())
		}
	}

	sender := cfg.Sender
	if sender == "" {
		sender = fmt.Sprintf("noreply@%s", cfg.Domain)
	}
	return &Transport{client: client, domain: cfg.Domain, sender: sender}, nil
}

func (t *Transport) Send(ctx context.Context, msg email.Message) (string, error) {
	from := msg.From
	if from == "" {
		from = t.sender
	}

	m := mg.NewMessage(t.domain, from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		m.SetHTML(msg.HTML)
	}
	for k, v := range msg.Headers {
		m.AddHeader(k, v)
	}

	resp, err := t.client.Send(ctx, m)
	if err != nil {
		status := 0
		var ue *mg.UnexpectedResponseError
		if errors.As(err, &ue) {
			status = ue.Actual
		}
		return "", apperr.Upstream("mailgun.send", serviceName, status, "", err)
	}
	return resp.ID, nil
}
