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

package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/queue"
)

// NotProvided fills lead fields the extraction could not find.
const NotProvided = "(not provided)"

// Extraction is the lead data the extraction assistant pulls out of an
// email.
type Extraction struct {
	FirstName   string `json:"FirstName"`
	LastName    string `json:"LastName"`
	Email       string `json:"Email"`
	PhoneNumber string `json:"PhoneNumber"`
	Intent      string `json:"Intent"`
	Body        string `json:"Body"`
	Company     string `json:"Company"`
}

// ParseExtraction decodes a fenced or bare JSON extraction.
func ParseExtraction(body string) (*Extraction, error) {
	var x Extraction
	if err := json.Unmarshal([]byte(StripFences(body, "json")), &x); err != nil {
		return nil, apperr.Validationf("leads.parse_extraction", "lead data is not valid JSON: %v", err)
	}
	return &x, nil
}

// ExtractionResult describes a processed extraction callback.
type ExtractionResult struct {
	Lead            *models.Lead `json:"lead"`
	Created         bool         `json:"created"`
	Duplicate       bool         `json:"duplicate"`
	AssistantStatus string       `json:"message_status,omitempty"`
}

// HandleExtraction records the lead behind an inbound thread and asks the
// rep assistant to draft a reply. The lead is keyed by the root message of
// the identity's latest thread, so repeated replies in one thread reuse
// the lead and its rep conversation. An inbound email already handed to the
// rep assistant is not submitted again.
func (p *Pipeline) HandleExtraction(ctx context.Context, cb assistant.Callback) (*ExtractionResult, error) {
	if strings.TrimSpace(cb.Identity) == "" || strings.TrimSpace(cb.Body) == "" {
		return nil, apperr.Validationf("leads.extraction", "Missing required lead data: Identity and Body are required")
	}
	id, err := dispatch.IdentityFromToken(cb.Identity)
	if err != nil {
		return nil, err
	}
	x, err := ParseExtraction(cb.Body)
	if err != nil {
		return nil, err
	}
	if p.cfg.RepAssistantID == "" {
		return nil, apperr.Configuration("leads.extraction", "rep assistant id is not configured")
	}

	latest, err := p.store.LatestInboundEmail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up inbound email for %s: %w", id, err)
	}
	if latest == nil {
		return nil, apperr.NotFound("leads.extraction", apperr.ErrThreadNotFound,
			fmt.Sprintf("no inbound email found for %s", id))
	}
	root := latest.ThreadRoot()

	lead, err := p.store.GetLeadByLastMessageID(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("looking up lead for %s: %w", root, err)
	}
	created := lead == nil
	if created {
		lead, err = p.store.CreateLead(ctx, leadFromExtraction(x, id, root))
		if err != nil {
			return nil, fmt.Errorf("creating lead for %s: %w", id, err)
		}
		p.notifier.Publish(ctx, queue.NewEvent(queue.EventLeadCreated, id, lead))
	}
	if lead.HandledMessageID == latest.MessageID {
		slog.InfoContext(ctx, "extraction already handled", "identity", id, "lead_id", lead.ID, "message_id", latest.MessageID)
		return &ExtractionResult{Lead: lead, Duplicate: true}, nil
	}

	body := strings.TrimSpace(x.Body)
	if body == "" {
		body = dispatch.EmptyMessage
	}
	msg := assistant.Message{
		Identity: id,
		Body:     fmt.Sprintf("%s Regards %s %s", body, lead.FirstName, lead.LastName),
		Webhook:  dispatch.CallbackURL(p.cfg.PublicDomain, dispatch.PathProcessAIResponse),
		Mode:     assistant.ModeEmail,
	}
	if !lead.ConversationSession.IsZero() {
		msg.SessionID = lead.ConversationSession.AssistantID()
	}

	reply, err := p.assistant.SendMessage(ctx, p.cfg.RepAssistantID, msg)
	if err != nil {
		return nil, err
	}

	patch := models.LeadPatch{HandledMessageID: models.Ptr(latest.MessageID)}
	if reply.SessionID != "" && reply.SessionID != lead.ConversationSession.AssistantID() {
		patch.ConversationSession = models.Ptr(models.WebhookRef(reply.SessionID))
	}
	if lead, err = p.store.UpdateLead(ctx, lead.ID, patch); err != nil {
		return nil, fmt.Errorf("linking lead to rep session: %w", err)
	}

	slog.InfoContext(ctx, "lead handed to rep assistant",
		"identity", id,
		"lead_id", lead.ID,
		"created", created,
		"session_id", lead.ConversationSession.String(),
	)

	return &ExtractionResult{Lead: lead, Created: created, AssistantStatus: reply.Status}, nil
}

func leadFromExtraction(x *Extraction, id models.Identity, root string) models.Lead {
	email := strings.TrimSpace(x.Email)
	if email == "" && id.Channel() == identity.ChannelEmail {
		email = id.Address()
	}
	return models.Lead{
		FirstName:     orNotProvided(x.FirstName),
		LastName:      orNotProvided(x.LastName),
		Email:         orNotProvided(strings.ToLower(email)),
		Phone:         orNotProvided(strings.Join(strings.Fields(x.PhoneNumber), "")),
		Summary:       x.Intent,
		OriginalBody:  x.Body,
		Company:       x.Company,
		LastMessageID: root,
		Status:        models.LeadNew,
	}
}

func orNotProvided(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotProvided
	}
	return s
}
