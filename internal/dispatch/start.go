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

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/queue"
)

// StartResult describes a conversation kicked off for a lead.
type StartResult struct {
	Identity        models.Identity          `json:"identity"`
	SessionRef      models.SessionRef        `json:"session_ref"`
	State           models.ConversationState `json:"state"`
	AssistantStatus string                   `json:"message_status,omitempty"`
	Continued       bool                     `json:"continued"`
}

// IntroBody is the first message sent to the assistant about a new lead.
func IntroBody(l *models.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new lead, named %s, was submitted and they are interested in properties in %s.", l.FirstName, l.AreaCode)
	if interest := strings.TrimSpace(l.Interest); interest != "" {
		fmt.Fprintf(&b, " They provided the following additional information: %q.", interest)
	}
	b.WriteString(" Write an email to them with some property recommendations based on their interests" +
		" and ask if they would like to schedule time with one of our agents.")
	return b.String()
}

// StartConversation submits the introduction for lead to the primary
// assistant. An existing session for the lead's identity is continued
// rather than replaced. The lead itself must already be stored; a failed
// submission leaves it in place.
func (d *Dispatcher) StartConversation(ctx context.Context, lead *models.Lead) (*StartResult, error) {
	id, err := identity.FromEmail(lead.Email)
	if err != nil {
		return nil, err
	}
	if d.cfg.PrimaryAssistantID == "" {
		return nil, apperr.Configuration("dispatch.start", "primary assistant id is not configured")
	}

	sess, err := d.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up session for %s: %w", id, err)
	}

	msg := assistant.Message{
		Identity: id,
		Body:     IntroBody(lead),
		Webhook:  d.callback(PathLogSessions),
		Mode:     assistant.ModeEmail,
	}
	if sess != nil && !sess.SessionRef.IsZero() {
		msg.SessionID = sess.SessionRef.AssistantID()
	}

	reply, err := d.assistant.SendMessage(ctx, d.cfg.PrimaryAssistantID, msg)
	if err != nil {
		return nil, err
	}

	ref := refFromReply(reply, sess)
	updated, err := d.awaitAssistant(ctx, id, sess, ref, "", msg.Body)
	if err != nil {
		return nil, fmt.Errorf("recording session for %s: %w", id, err)
	}

	if lead.ID != "" && lead.ConversationSession.IsZero() && !ref.IsZero() {
		if _, err := d.store.UpdateLead(ctx, lead.ID, models.LeadPatch{ConversationSession: &ref}); err != nil {
			return nil, fmt.Errorf("linking lead %s to session: %w", lead.ID, err)
		}
	}

	d.notifier.Publish(ctx, queue.NewEvent(queue.EventSessionUpdated, id, updated))

	slog.InfoContext(ctx, "conversation started",
		"identity", id,
		"session_id", ref.String(),
		"continued", sess != nil,
	)

	return &StartResult{
		Identity:        id,
		SessionRef:      updated.SessionRef,
		State:           updated.State,
		AssistantStatus: reply.Status,
		Continued:       sess != nil,
	}, nil
}

// refFromReply picks the session reference to record: the id the assistant
// returned, else the one already stored.
func refFromReply(reply *assistant.Reply, sess *models.Session) models.SessionRef {
	if reply != nil && reply.SessionID != "" {
		return models.NativeRef(reply.SessionID)
	}
	if sess != nil {
		return sess.SessionRef
	}
	return models.SessionRef{}
}
