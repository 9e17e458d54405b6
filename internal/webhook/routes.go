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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/leads"
	"github.com/leadrelay/orchestrator/internal/logger"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/queue"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// IdentityHeader names the contact a tool call is about.
const IdentityHeader = "X-Identity"

// ServeFormSubmitted stores a new lead and starts its conversation. The
// lead is kept when the assistant call fails.
func (h *Handler) ServeFormSubmitted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var form FormSubmission
	if err := decode(r, &form); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		h.writeError(w, r, validationError("webhook.form_submitted", err))
		return
	}

	lead, err := h.opts.Store.CreateLead(ctx, models.Lead{
		FirstName: strings.TrimSpace(form.FirstName),
		LastName:  strings.TrimSpace(form.LastName),
		Email:     strings.ToLower(strings.TrimSpace(form.Email)),
		Phone:     form.Phone,
		AreaCode:  strings.TrimSpace(form.AreaCode),
		Interest:  strings.TrimSpace(form.Interest),
		Status:    models.LeadNew,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id, err := identity.FromEmail(lead.Email); err == nil && h.opts.Notifier != nil {
		h.opts.Notifier.Publish(ctx, queue.NewEvent(queue.EventLeadCreated, id, lead))
	}

	started, err := h.opts.Dispatcher.StartConversation(ctx, lead)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeSuccess(w, "Lead created successfully", envelope{
		"id":             lead.ID,
		"identity":       started.Identity,
		"session_id":     started.SessionRef.String(),
		"state":          started.State,
		"continued":      started.Continued,
		"message_status": started.AssistantStatus,
	})
}

// ServeInboundEmail logs an inbound email and forwards the reply to the
// assistant. JSON, urlencoded and multipart bodies are accepted.
func (h *Handler) ServeInboundEmail(w http.ResponseWriter, r *http.Request) {
	var p thread.Payload
	if err := decode(r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.opts.Dispatcher.HandleInboundEmail(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Duplicate {
		writeSuccess(w, "Duplicate message ignored", res)
		return
	}
	writeSuccess(w, "Inbound email logged", res)
}

// ServeLogSessions records an assistant answer on the contact's session.
func (h *Handler) ServeLogSessions(w http.ResponseWriter, r *http.Request) {
	cb, err := decodeCallback(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := logger.WithLogFields(r.Context(), logger.LogFields{Identity: cb.Identity})

	res, err := h.opts.Dispatcher.HandleSessionCallback(ctx, cb)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, "Session logged", res)
}

// ServeParseLead handles the extraction assistant's lead data.
func (h *Handler) ServeParseLead(w http.ResponseWriter, r *http.Request) {
	cb, err := decodeCallback(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := logger.WithLogFields(r.Context(), logger.LogFields{Identity: cb.Identity})

	res, err := h.opts.Pipeline.HandleExtraction(ctx, cb)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, "Lead processed", res)
}

// ServeProcessAIResponse sends the rep assistant's reply to the lead.
func (h *Handler) ServeProcessAIResponse(w http.ResponseWriter, r *http.Request) {
	cb, err := decodeCallback(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := logger.WithLogFields(r.Context(), logger.LogFields{Identity: cb.Identity})

	res, err := h.opts.Pipeline.HandleRepReply(ctx, cb)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, "Email sent successfully", res)
}

type gradeBody struct {
	ManagerScore         json.Number `json:"manager_score"`
	OutboundEmailBody    string      `json:"outbound_email_body"`
	RecommendedEmailBody string      `json:"recommended_email_body"`
	Subject              string      `json:"subject"`
}

// ServeLogOutboundEmail takes the grader's score for the contact named in
// the X-Identity header.
func (h *Handler) ServeLogOutboundEmail(w http.ResponseWriter, r *http.Request) {
	var body gradeBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	var id models.Identity
	if raw := r.Header.Get(IdentityHeader); raw != "" {
		parsed, err := dispatch.IdentityFromToken(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		id = parsed
	}
	ctx := logger.WithLogFields(r.Context(), logger.LogFields{Identity: id.String()})

	res, err := h.opts.Pipeline.Grade(ctx, leads.GradeRequest{
		Identity:             id,
		ManagerScore:         body.ManagerScore.String(),
		OutboundEmailBody:    body.OutboundEmailBody,
		RecommendedEmailBody: body.RecommendedEmailBody,
		Subject:              body.Subject,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeSuccess(w, "Session updated successfully", envelope{
		"released": res.Released,
		"email":    res.Email,
		"updatedFields": envelope{
			"outbound_email_body":   res.Session.OutboundEmailBody,
			"manager_score":         res.Score,
			"outbound_email_status": res.Session.OutboundEmailStatus,
		},
	})
}

type sendEmailBody struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Subject string `json:"subject"`
}

// ServeSendEmail sends an email, threaded onto the recipient's latest
// inbound message when there is one.
func (h *Handler) ServeSendEmail(w http.ResponseWriter, r *http.Request) {
	var body sendEmailBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.To) == "" || strings.TrimSpace(body.Body) == "" {
		h.writeError(w, r, apperr.Validationf("webhook.send_email", "Missing required parameters: to and body are required"))
		return
	}

	addr := strings.TrimPrefix(strings.TrimSpace(body.To), identity.ChannelEmail+":")
	if err := h.validate.Var(addr, "email"); err != nil {
		h.writeError(w, r, apperr.Validationf("webhook.send_email", "Invalid email format"))
		return
	}
	id, err := identity.FromEmail(addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.opts.Mailer.Send(r.Context(), outbound.Request{Identity: id, Body: body.Body, Subject: body.Subject})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, "Email sent successfully", envelope{
		"messageId": res.MessageID,
		"subject":   res.Subject,
		"thread_id": res.ThreadID,
	})
}

// ServeCustomerLookup returns the lead behind the X-Identity header.
func (h *Handler) ServeCustomerLookup(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(IdentityHeader)
	if raw == "" {
		h.writeError(w, r, apperr.Validationf("webhook.customer_lookup",
			`Missing x-identity header. Provide email or phone in the format: "email:<email>" or "phone:<phone>".`))
		return
	}
	ch, addr, err := identity.Parse(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var email, phone string
	if ch == identity.ChannelEmail {
		email = addr
	} else {
		phone = addr
	}

	lead, err := h.opts.Store.FindLead(r.Context(), email, phone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if lead == nil {
		h.writeError(w, r, apperr.NotFound("webhook.customer_lookup", apperr.ErrLeadNotFound,
			"No lead found for "+ch+": "+addr))
		return
	}

	writeSuccess(w, "Lead found", envelope{
		"id":         lead.ID,
		"name":       strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"email":      lead.Email,
		"phone":      lead.Phone,
		"status":     lead.Status,
		"area_code":  lead.AreaCode,
		"created_at": lead.CreatedAt,
	})
}
