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

// Package sendgrid delivers email through the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"fmt"
	"net/http"

	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
)

const serviceName = "sendgrid"

// Transport sends mail with a SendGrid API key.
type Transport struct {
	client *sg.Client
	sender string
}

// New creates a SendGrid transport. host overrides the API host and is
// only set in tests.
func New(apiKey, sender, host string) (*Transport, error) {
	if apiKey == "" || sender == "" {
		return nil, apperr.Configuration("sendgrid.new", "sendgrid api_key and sender are required")
	}
	var client *sg.Client
	if host == "" {
		client = sg.NewSendClient(apiKey)
	} else {
		req := sg.GetRequest(apiKey, "/v3/mail/send", host)
		req.Method = http.MethodPost
		client = &sg.Client{Request: req}
	}
	return &Transport{client: client, sender: sender}, nil
}

func (t *Transport) Send(ctx context.Context, msg email.Message) (string, error) {
	from := msg.From
	if from == "" {
		from = t.sender
	}

	m := mail.NewSingleEmail(mail.NewEmail("", from), msg.Subject, mail.NewEmail("", msg.To), msg.Text, msg.HTML)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	resp, err := t.client.SendWithContext(ctx, m)
	if err != nil {
		return "", apperr.Upstream("sendgrid.send", serviceName, 0, "", err)
	}
	if resp.StatusCode >= 300 {
		return "", apperr.Upstream("sendgrid.send", serviceName, resp.StatusCode, "",
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Body))
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
