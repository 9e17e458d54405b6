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

// Package dispatch drives the per-identity conversation state machine. It
// decides whether an incoming event starts a new assistant conversation or
// continues an existing one, submits the message to the assistant with a
// callback address, and records the outcome.
//
//	NO_SESSION ──form/first email──▶ AWAITING_ASSISTANT
//	AWAITING_* ──reply email──────▶ AWAITING_ASSISTANT
//	AWAITING_ASSISTANT ──callback─▶ AWAITING_USER_REPLY
package dispatch

import (
	"context"
	"strings"

	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/store"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// Callback paths the assistant posts results to.
const (
	PathLogSessions       = "/backend/log-sessions"
	PathParseLead         = "/backend/parse-lead"
	PathProcessAIResponse = "/backend/process-ai-response"
)

// AssistantSender submits messages to an assistant.
type AssistantSender interface {
	SendMessage(ctx context.Context, assistantID string, msg assistant.Message) (*assistant.Reply, error)
}

// Guard holds in-flight claims on message ids.
type Guard interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Config names the assistants and the public callback host.
type Config struct {
	PrimaryAssistantID    string
	ExtractionAssistantID string
	// ManagerAssistantID grades drafted emails. Empty disables grading.
	ManagerAssistantID string
	// PublicDomain is the host assistants call back on. A value without a
	// scheme gets https.
	PublicDomain string
}

// Dispatcher runs the conversation state machine.
type Dispatcher struct {
	store      store.LeadStore
	assistant  AssistantSender
	guard      Guard
	correlator *thread.Correlator
	notifier   *notify.Notifier
	cfg        Config
}

// New creates a dispatcher.
func New(s store.LeadStore, a AssistantSender, g Guard, n *notify.Notifier, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:      s,
		assistant:  a,
		guard:      g,
		correlator: thread.NewCorrelator(s),
		notifier:   n,
		cfg:        cfg,
	}
}

// CallbackURL returns the absolute URL of a callback path.
func CallbackURL(domain, path string) string {
	domain = strings.TrimRight(domain, "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain + path
}

func (d *Dispatcher) callback(path string) string {
	return CallbackURL(d.cfg.PublicDomain, path)
}

// State reports the conversation state of id.
func (d *Dispatcher) State(ctx context.Context, id models.Identity) (models.ConversationState, error) {
	sess, err := d.store.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return stateOf(sess), nil
}

func stateOf(sess *models.Session) models.ConversationState {
	if sess == nil {
		return models.StateNoSession
	}
	if sess.State == "" {
		return models.StateAwaitingUserReply
	}
	return sess.State
}

// awaitAssistant records that a message for id was accepted by the
// assistant: the existing session moves to AWAITING_ASSISTANT, or a new one
// is created in that state.
func (d *Dispatcher) awaitAssistant(ctx context.Context, id models.Identity, sess *models.Session, ref models.SessionRef, subject, body string) (*models.Session, error) {
	if sess != nil {
		patch := models.SessionPatch{
			State:       models.Ptr(models.StateAwaitingAssistant),
			LastMessage: models.Ptr(body),
		}
		if subject != "" {
			patch.Subject = models.Ptr(subject)
		}
		if sess.SessionRef.IsZero() && !ref.IsZero() {
			patch.SessionRef = &ref
		}
		return d.store.UpdateSession(ctx, sess.ID, patch)
	}

	return d.store.CreateSession(ctx, models.Session{
		SessionRef:  ref,
		AssistantID: d.cfg.PrimaryAssistantID,
		Identity:    id,
		State:       models.StateAwaitingAssistant,
		Subject:     subject,
		LastMessage: body,
	})
}
