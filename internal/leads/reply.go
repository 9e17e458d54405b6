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
	"fmt"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/queue"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// HandleRepReply sends the rep assistant's drafted reply to the lead, as
// a reply to the message that started the lead's thread.
func (p *Pipeline) HandleRepReply(ctx context.Context, cb assistant.Callback) (*outbound.Result, error) {
	if strings.TrimSpace(cb.SessionID) == "" || strings.TrimSpace(cb.Body) == "" {
		return nil, apperr.Validationf("leads.rep_reply", "Missing required session data: SessionId and Body are required")
	}
	body := StripFences(cb.Body, "html")

	lead, err := p.store.GetLeadByConversationSession(ctx, models.WebhookRef(strings.TrimSpace(cb.SessionID)))
	if err != nil {
		return nil, fmt.Errorf("looking up lead for session %s: %w", cb.SessionID, err)
	}
	if lead == nil {
		return nil, apperr.NotFound("leads.rep_reply", apperr.ErrLeadNotFound, "Lead not found for this session")
	}

	inbound, err := p.store.GetInboundEmailByMessageID(ctx, lead.LastMessageID)
	if err != nil {
		return nil, fmt.Errorf("looking up inbound email %s: %w", lead.LastMessageID, err)
	}
	if inbound == nil {
		return nil, apperr.NotFound("leads.rep_reply", apperr.ErrThreadNotFound, "Inbound email not found for this session")
	}

	id := inbound.Identity
	if cb.Identity != "" {
		if parsed, err := dispatch.IdentityFromToken(cb.Identity); err == nil {
			id = parsed
		}
	}
	if id.Channel() != identity.ChannelEmail {
		if id, err = identity.FromEmail(lead.Email); err != nil {
			return nil, err
		}
	}

	res, err := p.mailer.Send(ctx, outbound.Request{
		Identity: id,
		Body:     body,
		Subject:  thread.ReplySubject(inbound.Subject),
		ThreadID: lead.LastMessageID,
	})
	if err != nil {
		return nil, err
	}

	p.notifier.Publish(ctx, queue.NewEvent(queue.EventEmailSent, id, res))
	return res, nil
}
