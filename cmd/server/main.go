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

// Lead Relay server
//
// Entry point for the webhook orchestrator. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the lead store and, when configured, Redis
//  3. Builds the assistant client, the email transport and the outbound gate
//  4. Serves the form, inbound email, callback and tool endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT, draining best-effort tasks
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/config"
	"github.com/leadrelay/orchestrator/internal/dedup"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/leads"
	"github.com/leadrelay/orchestrator/internal/logger"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/providers"
	"github.com/leadrelay/orchestrator/internal/queue"
	"github.com/leadrelay/orchestrator/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup(false)
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.IsDevelopment())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting lead relay",
		"env", cfg.Server.Env,
		"storage", cfg.Storage.Provider,
		"email", cfg.Email.Provider,
		"redis", cfg.Redis.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Storage ---
	leadStore, err := providers.NewLeadStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open lead store", "error", err)
		os.Exit(1)
	}
	defer leadStore.Close()

	// --- Redis: dedup guard and event queue ---
	rdb, err := providers.NewRedis(ctx, cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	health := map[string]webhook.Pinger{}
	var (
		guard     dispatch.Guard
		publisher notify.EventPublisher
	)
	if rdb != nil {
		defer rdb.Close()
		g := dedup.NewGuard(rdb, cfg.Redis.DedupTTL)
		pub := queue.NewPublisher(rdb, cfg.Redis.EventsQueue)
		guard, publisher = g, pub
		health["redis"] = pub
	} else {
		slog.Warn("redis not configured; using in-process dedup and dropping events")
		guard = dedup.NewLocal(cfg.Redis.DedupTTL)
	}
	notifier := notify.New(publisher, notify.DefaultTimeout)

	// --- Assistant service ---
	ai, err := assistant.New(ctx, assistant.Config{
		BaseURL:    cfg.Assistant.BaseURL,
		AccountSID: cfg.Assistant.AccountSID,
		AuthToken:  cfg.Assistant.AuthToken,
		Timeout:    cfg.Assistant.Timeout,
		OAuth: assistant.OAuthConfig{
			ClientID:     cfg.Assistant.OAuth.ClientID,
			ClientSecret: cfg.Assistant.OAuth.ClientSecret,
			TokenURL:     cfg.Assistant.OAuth.TokenURL,
			Scopes:       cfg.Assistant.OAuth.Scopes,
		},
	})
	if err != nil {
		slog.Error("failed to create assistant client", "error", err)
		os.Exit(1)
	}

	// --- Email ---
	transport, err := providers.NewEmailTransport(cfg.Email)
	if err != nil {
		slog.Error("failed to create email transport", "error", err)
		os.Exit(1)
	}
	gate := outbound.NewGate(leadStore, transport, cfg.Email.DefaultSubject)

	// --- Conversation flow ---
	dispatcher := dispatch.New(leadStore, ai, guard, notifier, dispatch.Config{
		PrimaryAssistantID:    cfg.Assistant.IDs.Primary,
		ExtractionAssistantID: cfg.Assistant.IDs.Extraction,
		ManagerAssistantID:    cfg.Assistant.IDs.Manager,
		PublicDomain:          cfg.Server.PublicDomain,
	})
	pipeline := leads.New(leadStore, ai, gate, notifier, leads.Config{
		RepAssistantID: cfg.Assistant.IDs.Rep,
		PublicDomain:   cfg.Server.PublicDomain,
	})

	handler := webhook.NewHandler(webhook.Options{
		Store:              leadStore,
		Dispatcher:         dispatcher,
		Pipeline:           pipeline,
		Mailer:             gate,
		Conversations:      ai,
		Notifier:           notifier,
		Health:             health,
		AuthToken:          cfg.Assistant.AuthToken,
		ValidateSignatures: cfg.Webhook.ValidateSignatures,
		PublicDomain:       cfg.Server.PublicDomain,
		Development:        cfg.IsDevelopment(),
	})

	ready, done, err := webhook.Serve(ctx, cfg.Server.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("lead relay ready", "port", cfg.Server.Port, "public_domain", cfg.Server.PublicDomain)

	if awaitStop(ctx, done) {
		slog.Info("received shutdown signal")
		<-done
	} else {
		slog.Error("http server stopped unexpectedly")
		stop()
	}

	// Let in-flight notifications and forwards finish.
	notifier.Wait()
	slog.Info("lead relay stopped")
}

// awaitStop blocks until a shutdown signal or until the server stops on its
// own. It reports whether the signal came first.
func awaitStop(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-done:
		return false
	}
}
