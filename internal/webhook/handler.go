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

// Package webhook serves the relay's HTTP surface: the lead form, the
// inbound email webhook, the assistant callbacks and the tool endpoints
// the assistants call. Every response uses the same JSON envelope.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/leads"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/store"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// Dispatcher runs the conversation state machine.
type Dispatcher interface {
	StartConversation(ctx context.Context, lead *models.Lead) (*dispatch.StartResult, error)
	HandleInboundEmail(ctx context.Context, p thread.Payload) (*dispatch.InboundResult, error)
	HandleSessionCallback(ctx context.Context, cb assistant.Callback) (*dispatch.SessionCallbackResult, error)
}

// Pipeline handles the lead extraction, rep reply and grading callbacks.
type Pipeline interface {
	HandleExtraction(ctx context.Context, cb assistant.Callback) (*leads.ExtractionResult, error)
	HandleRepReply(ctx context.Context, cb assistant.Callback) (*outbound.Result, error)
	Grade(ctx context.Context, req leads.GradeRequest) (*leads.GradeResult, error)
}

// Mailer sends email through the outbound gate.
type Mailer interface {
	Send(ctx context.Context, req outbound.Request) (*outbound.Result, error)
}

// Conversations reads assistant session history.
type Conversations interface {
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]assistant.SessionMessage, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Handler.
type Options struct {
	Store         store.LeadStore
	Dispatcher    Dispatcher
	Pipeline      Pipeline
	Mailer        Mailer
	Conversations Conversations
	Notifier      *notify.Notifier

	// Health lists extra dependencies checked by /health, by name.
	Health map[string]Pinger

	// AuthToken signs assistant callbacks. Signatures are checked only
	// when ValidateSignatures is set.
	AuthToken          string
	ValidateSignatures bool
	// PublicDomain rebuilds the URL the sender signed.
	PublicDomain string

	// Development adds error details to responses.
	Development bool
}

// Handler serves the relay endpoints.
type Handler struct {
	opts     Options
	validate *validator.Validate
}

// NewHandler creates a handler.
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts, validate: newValidator()}
}

// Routes returns the relay's router with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /backend/form-submitted", h.ServeFormSubmitted)
	mux.HandleFunc("POST /backend/inbound-email", h.ServeInboundEmail)
	mux.HandleFunc("POST /backend/send-email", h.ServeSendEmail)
	mux.HandleFunc("GET /backend/get-sessions", h.ServeSessions)
	mux.HandleFunc("GET /backend/get-conversation", h.ServeConversation)
	mux.HandleFunc("GET /health", h.ServeHealth)

	// Called by the assistant service; signed when validation is on.
	mux.Handle("POST "+dispatch.PathLogSessions, h.signed(h.ServeLogSessions))
	mux.Handle("POST "+dispatch.PathParseLead, h.signed(h.ServeParseLead))
	mux.Handle("POST "+dispatch.PathProcessAIResponse, h.signed(h.ServeProcessAIResponse))
	mux.Handle("POST /tools/log-outbound-email", h.signed(h.ServeLogOutboundEmail))
	mux.Handle("GET /tools/customer-lookup", h.signed(h.ServeCustomerLookup))
	mux.Handle("POST /tools/customer-lookup", h.signed(h.ServeCustomerLookup))

	return withRequestContext(withRecover(h.opts.Development, mux))
}

// Serve starts the HTTP server on port. It binds immediately and closes
// the returned channel once it accepts connections. The server shuts down
// gracefully when ctx is cancelled; done is closed when it has stopped.
func Serve(ctx context.Context, port int, handler http.Handler) (ready <-chan struct{}, done <-chan struct{}, err error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		defer close(doneCh)
		slog.Info("http server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return readyCh, doneCh, nil
}
