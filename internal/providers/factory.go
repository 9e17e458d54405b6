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

// Package providers builds the pluggable backends named in configuration:
// the record store, the email transport and the optional Redis client.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/config"
	"github.com/leadrelay/orchestrator/internal/email"
	"github.com/leadrelay/orchestrator/internal/email/mailgun"
	"github.com/leadrelay/orchestrator/internal/email/sendgrid"
	"github.com/leadrelay/orchestrator/internal/email/smtp"
	"github.com/leadrelay/orchestrator/internal/store"
)

// NewLeadStore returns the store selected by cfg.Provider.
func NewLeadStore(ctx context.Context, cfg config.StorageConfig) (store.LeadStore, error) {
	switch cfg.Provider {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, apperr.Configuration("providers.store", "storage.database_url is required for postgres")
		}
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "memory":
		slog.Warn("using in-memory store; records are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, apperr.Configuration("providers.store", fmt.Sprintf("unknown storage provider %q", cfg.Provider))
	}
}

// NewEmailTransport returns the transport selected by cfg.Provider.
func NewEmailTransport(cfg config.EmailConfig) (email.Transport, error) {
	var (
		tr  email.Transport
		err error
	)
	switch cfg.Provider {
	case "sendgrid":
		tr, err = sendgrid.New(cfg.SendGrid.APIKey, cfg.Sender, "")
	case "mailgun":
		tr, err = mailgun.New(mailgun.Config{
			Domain:  cfg.Mailgun.Domain,
			APIKey:  cfg.Mailgun.APIKey,
			Region:  cfg.Mailgun.Region,
			Sender:  cfg.Sender,
			APIBase: cfg.Mailgun.APIBase,
		})
	case "smtp":
		tr, err = smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Security: cfg.SMTP.Security,
			Sender:   cfg.Sender,
		})
	default:
		return nil, apperr.Configuration("providers.email", fmt.Sprintf("unknown email provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}
	slog.Info("email transport configured", "provider", cfg.Provider)
	return tr, nil
}

// NewRedis connects to Redis, or returns (nil, nil) when no URL is set.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("connected to redis", "addr", opts.Addr)
	return rdb, nil
}
