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

package webhook

import (
	"net/http"
	"strconv"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/store"
)

// ConversationLimit is how many messages get-conversation returns.
const ConversationLimit = 50

type sessionView struct {
	SessionID            string                   `json:"session_id"`
	AssistantID          string                   `json:"assistant_id,omitempty"`
	Identity             models.Identity          `json:"identity"`
	State                models.ConversationState `json:"state,omitempty"`
	Subject              string                   `json:"subject,omitempty"`
	LastMessage          string                   `json:"last_message,omitempty"`
	OutboundEmailBody    string                   `json:"outbound_email_body,omitempty"`
	RecommendedEmailBody string                   `json:"recommended_email_body,omitempty"`
	ManagerScore         *float64                 `json:"manager_score,omitempty"`
	OutboundEmailStatus  models.EmailStatus       `json:"outbound_email_status,omitempty"`
	UpdatedAt            string                   `json:"updated_at"`
	CreatedAt            string                   `json:"created_at"`
}

func newSessionView(s models.Session) sessionView {
	return sessionView{
		SessionID:            s.SessionRef.String(),
		AssistantID:          s.AssistantID,
		Identity:             s.Identity,
		State:                s.State,
		Subject:              s.Subject,
		LastMessage:          s.LastMessage,
		OutboundEmailBody:    s.OutboundEmailBody,
		RecommendedEmailBody: s.RecommendedEmailBody,
		ManagerScore:         s.ManagerScore,
		OutboundEmailStatus:  s.OutboundEmailStatus,
		UpdatedAt:            s.UpdatedAt.Format(timeLayout),
		CreatedAt:            s.CreatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ServeSessions lists sessions, newest first. ?identity= filters and
// ?limit= caps the result.
func (h *Handler) ServeSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SessionFilter{Identity: models.Identity(q.Get("identity"))}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, apperr.Validationf("webhook.sessions", "limit must be a non-negative integer"))
			return
		}
		f.Limit = n
	}

	sessions, err := h.opts.Store.ListSessions(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	writeSuccess(w, "", envelope{"sessions": views})
}

type conversationMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		Role     string `json:"role"`
		Identity string `json:"identity"`
	} `json:"author"`
}

// ServeConversation returns an assistant session's messages, oldest first.
func (h *Handler) ServeConversation(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sessionId")
	if raw == "" {
		h.writeError(w, r, apperr.Validationf("webhook.conversation", "Session ID is required"))
		return
	}
	if h.opts.Conversations == nil {
		h.writeError(w, r, apperr.Configuration("webhook.conversation", "assistant client is not configured"))
		return
	}

	msgs, err := h.opts.Conversations.ListSessionMessages(r.Context(), models.ParseSessionRef(raw).AssistantID(), ConversationLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]conversationMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := conversationMessage{ID: m.ID, Content: m.Content, Timestamp: m.DateCreated.Format(timeLayout)}
		cm.Author.Role = m.Role
		cm.Author.Identity = m.Identity
		out = append(out, cm)
	}
	writeSuccess(w, "", envelope{"session_id": raw, "messages": out})
}

// ServeHealth pings the store and every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	checks := envelope{}
	healthy := true

	if err := h.opts.Store.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}
	for name, p := range h.opts.Health {
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, envelope{"success": false, "status": "unhealthy", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "status": "healthy", "checks": checks})
}
