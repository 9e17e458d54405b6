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

// Package models defines the records shared across the relay: sessions,
// inbound emails and leads, all joined by an Identity.
package models

import (
	"strings"
	"time"
)

// Identity is a canonical "<channel>:<address>" token, e.g. "email:jane@x.com".
// Build one with identity.New; the zero value is "no identity".
type Identity string

// Channel returns the part before the colon.
func (id Identity) Channel() string {
	ch, _, _ := strings.Cut(string(id), ":")
	return ch
}

// Address returns the part after the colon.
func (id Identity) Address() string {
	_, addr, _ := strings.Cut(string(id), ":")
	return addr
}

func (id Identity) String() string { return string(id) }

// SessionSource records where an assistant session id came from.
type SessionSource string

const (
	// SourceNative ids came back synchronously from a message submission.
	SourceNative SessionSource = "native"
	// SourceWebhook ids arrived through an asynchronous assistant callback.
	SourceWebhook SessionSource = "webhook"
)

// webhookMarker is the legacy textual form of SourceWebhook.
const webhookMarker = "webhook:"

// SessionRef is an assistant session id tagged with its provenance.
type SessionRef struct {
	Source SessionSource `json:"source,omitempty"`
	RawID  string        `json:"raw_id,omitempty"`
}

// WebhookRef tags raw as sourced from a callback. A legacy "webhook:" marker
// already present on raw is not doubled.
func WebhookRef(raw string) SessionRef {
	return SessionRef{Source: SourceWebhook, RawID: strings.TrimPrefix(raw, webhookMarker)}
}

// NativeRef tags raw as returned by a synchronous submission.
func NativeRef(raw string) SessionRef {
	return SessionRef{Source: SourceNative, RawID: raw}
}

// ParseSessionRef reads the legacy string form ("webhook:<id>" or "<id>").
func ParseSessionRef(s string) SessionRef {
	s = strings.TrimSpace(s)
	if s == "" {
		return SessionRef{}
	}
	if strings.HasPrefix(s, webhookMarker) {
		return WebhookRef(s)
	}
	return NativeRef(s)
}

// IsZero reports whether no session id is known.
func (r SessionRef) IsZero() bool { return r.RawID == "" }

// AssistantID is the id the assistant service understands, without any
// provenance marker.
func (r SessionRef) AssistantID() string { return r.RawID }

// String renders the legacy form, used for display and storage lookups.
func (r SessionRef) String() string {
	if r.RawID == "" {
		return ""
	}
	if r.Source == SourceWebhook {
		return webhookMarker + r.RawID
	}
	return r.RawID
}

// EmailStatus is the delivery state of the drafted outbound email.
type EmailStatus string

const (
	EmailDraft EmailStatus = "Draft"
	EmailSent  EmailStatus = "Sent"
)

// ConversationState is the dispatcher's view of a session.
type ConversationState string

const (
	StateNoSession         ConversationState = "NO_SESSION"
	StateAwaitingAssistant ConversationState = "AWAITING_ASSISTANT"
	StateAwaitingUserReply ConversationState = "AWAITING_USER_REPLY"
)

// Session is one ongoing assistant conversation with one identity.
type Session struct {
	ID                   string            `json:"id"`
	SessionRef           SessionRef        `json:"session_ref"`
	AssistantID          string            `json:"assistant_id,omitempty"`
	Identity             Identity          `json:"identity"`
	State                ConversationState `json:"state,omitempty"`
	Subject              string            `json:"subject,omitempty"`
	LastMessage          string            `json:"last_message,omitempty"`
	OutboundEmailBody    string            `json:"outbound_email_body,omitempty"`
	RecommendedEmailBody string            `json:"recommended_email_body,omitempty"`
	ManagerScore         *float64          `json:"manager_score,omitempty"`
	OutboundEmailStatus  EmailStatus       `json:"outbound_email_status,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// SessionPatch lists the fields an update touches. Nil pointers are left
// unchanged.
type SessionPatch struct {
	SessionRef           *SessionRef
	AssistantID          *string
	State                *ConversationState
	Subject              *string
	LastMessage          *string
	OutboundEmailBody    *string
	RecommendedEmailBody *string
	ManagerScore         *float64
	OutboundEmailStatus  *EmailStatus

	// IfUpdatedAt makes the write conditional on the stored updated_at.
	// Backends that cannot honour it apply the write unconditionally.
	IfUpdatedAt *time.Time
}

// Apply merges p onto s. It does not touch UpdatedAt.
func (p SessionPatch) Apply(s *Session) {
	if p.SessionRef != nil {
		s.SessionRef = *p.SessionRef
	}
	if p.AssistantID != nil {
		s.AssistantID = *p.AssistantID
	}
	if p.State != nil {
		s.State = *p.State
	}
	if p.Subject != nil {
		s.Subject = *p.Subject
	}
	if p.LastMessage != nil {
		s.LastMessage = *p.LastMessage
	}
	if p.OutboundEmailBody != nil {
		s.OutboundEmailBody = *p.OutboundEmailBody
	}
	if p.RecommendedEmailBody != nil {
		s.RecommendedEmailBody = *p.RecommendedEmailBody
	}
	if p.ManagerScore != nil {
		score := *p.ManagerScore
		s.ManagerScore = &score
	}
	if p.OutboundEmailStatus != nil {
		s.OutboundEmailStatus = *p.OutboundEmailStatus
	}
}

// InboundEmail is one received email.
type InboundEmail struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	SessionRef     SessionRef `json:"session_ref"`
	Subject        string     `json:"subject,omitempty"`
	Message        string     `json:"message"`
	OriginalMsgRef string     `json:"original_msg_ref,omitempty"`
	Identity       Identity   `json:"identity"`

	// DispatchedAt is set once the assistant accepted the message.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Dispatched reports whether the assistant accepted the message.
func (e *InboundEmail) Dispatched() bool { return e.DispatchedAt != nil }

// ThreadRoot is the message id that anchors this email's thread: the
// message it replies to, or itself when it starts one.
func (e *InboundEmail) ThreadRoot() string {
	if e.OriginalMsgRef != "" {
		return e.OriginalMsgRef
	}
	return e.MessageID
}

// LeadStatus is the sales pipeline state of a lead.
type LeadStatus string

const LeadNew LeadStatus = "New"

// Lead is a prospective customer.
type Lead struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone"`
	AreaCode            string     `json:"area_code,omitempty"`
	Interest            string     `json:"interest,omitempty"`
	Summary             string     `json:"summary,omitempty"`
	OriginalBody        string     `json:"original_body,omitempty"`
	Company             string     `json:"company,omitempty"`
	LastMessageID       string     `json:"last_message_id,omitempty"`
	Status              LeadStatus `json:"status"`
	ConversationSession SessionRef `json:"conversation_session"`

	// HandledMessageID is the inbound email last handed to the rep assistant.
	HandledMessageID string    `json:"handled_message_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LeadPatch lists the lead fields an update touches.
type LeadPatch struct {
	Status              *LeadStatus
	ConversationSession *SessionRef
	LastMessageID       *string
	Summary             *string
	HandledMessageID    *string
}

// Apply merges p onto l. It does not touch UpdatedAt.
func (p LeadPatch) Apply(l *Lead) {
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.ConversationSession != nil {
		l.ConversationSession = *p.ConversationSession
	}
	if p.LastMessageID != nil {
		l.LastMessageID = *p.LastMessageID
	}
	if p.Summary != nil {
		l.Summary = *p.Summary
	}
	if p.HandledMessageID != nil {
		l.HandledMessageID = *p.HandledMessageID
	}
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T { return &v }
