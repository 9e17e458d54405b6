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

// GraderInstruction prefixes the draft forwarded to the manager assistant.
const GraderInstruction = `Please use the "Outbound Email Grader" tool for the following email body: `

// SessionCallbackResult describes a processed assistant callback.
type SessionCallbackResult struct {
	Session      *models.Session  `json:"session_data"`
	ManagerReply *assistant.Reply `json:"assistant_response,omitempty"`
}

// IdentityFromToken parses an identity token sent by the assistant service.
func IdentityFromToken(token string) (models.Identity, error) {
	ch, addr, err := identity.Parse(token)
	if err != nil {
		return "", err
	}
	return identity.New(ch, addr)
}

// HandleSessionCallback records the assistant's answer: the identity's
// session stores the draft and the webhook-sourced session id and moves to
// AWAITING_USER_REPLY. The latest inbound email of the identity still
// lacking a session id receives it. The draft is then forwarded to the manager assistant
// for grading. A failed forward is returned after the session write, which
// is kept.
func (d *Dispatcher) HandleSessionCallback(ctx context.Context, cb assistant.Callback) (*SessionCallbackResult, error) {
	if strings.TrimSpace(cb.SessionID) == "" || strings.TrimSpace(cb.Identity) == "" || strings.TrimSpace(cb.Body) == "" {
		return nil, apperr.Validationf("dispatch.session_callback", "Missing required session data: SessionId, Identity and Body are required")
	}
	id, err := IdentityFromToken(cb.Identity)
	if err != nil {
		return nil, err
	}

	ref := models.WebhookRef(strings.TrimSpace(cb.SessionID))

	sess, err := d.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up session for %s: %w", id, err)
	}
	if sess != nil {
		patch := models.SessionPatch{
			SessionRef:  &ref,
			State:       models.Ptr(models.StateAwaitingUserReply),
			LastMessage: models.Ptr(cb.Body),
		}
		if cb.AssistantSID != "" {
			patch.AssistantID = models.Ptr(cb.AssistantSID)
		}
		sess, err = d.store.UpdateSession(ctx, sess.ID, patch)
	} else {
		sess, err = d.store.CreateSession(ctx, models.Session{
			SessionRef:  ref,
			AssistantID: cb.AssistantSID,
			Identity:    id,
			State:       models.StateAwaitingUserReply,
			LastMessage: cb.Body,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("recording session callback for %s: %w", id, err)
	}

	// Replies submitted before the session id was known get it now, so
	// later replies in their thread correlate to this session.
	attached, err := d.store.AttachInboundSession(ctx, id, ref)
	if err != nil {
		return nil, fmt.Errorf("attaching session to inbound email of %s: %w", id, err)
	}
	if attached != nil {
		slog.DebugContext(ctx, "session attached to inbound email", "identity", id, "record", attached.ID, "session_id", ref.String())
	}

	d.notifier.Publish(ctx, queue.NewEvent(queue.EventSessionUpdated, id, sess))
	res := &SessionCallbackResult{Session: sess}

	switch {
	case cb.Flagged:
		slog.WarnContext(ctx, "assistant flagged the draft, not grading", "identity", id, "session_id", ref.String())
		return res, nil
	case d.cfg.ManagerAssistantID == "":
		slog.DebugContext(ctx, "no manager assistant configured, skipping grading", "identity", id)
		return res, nil
	}

	reply, err := d.assistant.SendMessage(ctx, d.cfg.ManagerAssistantID, assistant.Message{
		Identity: id,
		Body:     GraderInstruction + cb.Body,
		Mode:     assistant.ModeEmail,
	})
	if err != nil {
		return nil, err
	}
	res.ManagerReply = reply

	slog.InfoContext(ctx, "draft forwarded for grading",
		"identity", id,
		"session_id", ref.String(),
		"manager_session_id", reply.SessionID,
	)
	return res, nil
}
