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

package providers

import (
	"context"
	"testing"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/config"
	"github.com/leadrelay/orchestrator/internal/email/mailgun"
	"github.com/leadrelay/orchestrator/internal/email/sendgrid"
	"github.com/leadrelay/orchestrator/internal/email/smtp"
	"github.com/leadrelay/orchestrator/internal/store"
)

func TestNewLeadStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewLeadStore(ctx, config.StorageConfig{Provider: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*store.Memory); !ok {
		t.Errorf("store = %T, want *store.Memory", s)
	}

	if _, err := NewLeadStore(ctx, config.StorageConfig{Provider: "postgres"}); !apperr.Is(err, apperr.KindConfiguration) {
		t.Errorf("postgres without url: err = %v", err)
	}
	if _, err := NewLeadStore(ctx, config.StorageConfig{Provider: "airtable"}); !apperr.Is(err, apperr.KindConfiguration) {
		t.Errorf("unknown provider: err = %v", err)
	}
}

func TestNewEmailTransport(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmailConfig
		want string
	}{
		{"sendgrid", config.EmailConfig{Provider: "sendgrid", Sender: "a@x.com", SendGrid: config.SendGridConfig{APIKey: "k"}}, "*sendgrid.Transport"},
		{"mailgun", config.EmailConfig{Provider: "mailgun", Mailgun: config.MailgunConfig{Domain: "mg.x.com", APIKey: "k"}}, "*mailgun.Transport"},
		{"smtp", config.EmailConfig{Provider: "smtp", Sender: "a@x.com", SMTP: config.SMTPConfig{Host: "smtp.x.com"}}, "*smtp.Transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewEmailTransport(tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch tr.(type) {
			case *sendgrid.Transport, *mailgun.Transport, *smtp.Transport:
			default:
				t.Errorf("transport = %T, want %s", tr, tt.want)
			}
		})
	}

	if _, err := NewEmailTransport(config.EmailConfig{Provider: "sendgrid"}); !apperr.Is(err, apperr.KindConfiguration) {
		t.Errorf("sendgrid without key: err = %v", err)
	}
}

func TestNewRedis_Disabled(t *testing.T) {
	rdb, err := NewRedis(context.Background(), config.RedisConfig{})
	if err != nil || rdb != nil {
		t.Errorf("NewRedis(empty) = %v, %v; want nil, nil", rdb, err)
	}
}
