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

// Package outbound is the last step before an email leaves the relay. The
// Gate decides whether a graded draft may be released and threads every
// outgoing email onto the contact's latest inbound message.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// ReleaseThreshold is the minimum manager score for a draft to be sent.
// The comparison is inclusive.
const ReleaseThreshold = 0.085

// DefaultTimeout bounds a single transport call.
const DefaultTimeout = 10 * time.Second

// Passes reports whether a draft with the given score may be released.
func Passes(score float64) bool { return score >= ReleaseThreshold }

// InboundLookup finds the message an outgoing email should reply to.
type InboundLookup interface {
	LatestInboundEmail(ctx context.Context, id models.Identity) (*models.InboundEmail, error)
}

// Request is one email to send.
type Request struct {
	Identity models.Identity
	// To overrides the recipient derived from Identity.
	To      string
	Body    string
	Subject string
	// ThreadID replies to this message id instead of the latest inbound one.
	ThreadID string
}

// Result describes a sent email.
type Result struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Gate sends email through a Transport with best-effort threading.
type Gate struct {
	lookup         InboundLookup
	transport      email.Transport
	defaultSubject string
	timeout        time.Duration
}

// NewGate creates a gate.
func NewGate(lookup InboundLookup, transport email.Transport, defaultSubject string) *Gate {
	return &Gate{
		lookup:         lookup,
		transport:      transport,
		defaultSubject: defaultSubject,
		timeout:        DefaultTimeout,
	}
}

// Send delivers req. When a thread message is known the subject gets a
// "Re:" prefix and In-Reply-To/References headers point at it; otherwise
// the email goes out unthreaded. Transport failures are returned as is.
func (g *Gate) Send(ctx context.Context, req Request) (*Result, error) {
	to, err := g.recipient(req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperr.Validationf("outbound.send", "email body is required")
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = g.defaultSubject
	}

	threadID := req.ThreadID
	if threadID == "" && req.Identity != "" {
		latest, err := g.lookup.LatestInboundEmail(ctx, req.Identity)
		if err != nil {
			return nil, fmt.Errorf("looking up thread for %s: %w", req.Identity, err)
		}
		if latest != nil {
			threadID = latest.MessageID
		}
	}

	msg := email.Message{
		To:      to,
		Subject: subject,
		Text:    req.Body,
		HTML:    email.RenderHTML(req.Body),
	}
	if threadID != "" {
		ref := "<" + threadID + ">"
		msg.Subject = thread.ReplySubject(subject)
		msg.Headers = map[string]string{
			email.HeaderInReplyTo:  ref,
			email.HeaderReferences: ref,
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	id, err := g.transport.Send(sendCtx, msg)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "email sent",
		"to", to,
		"subject", msg.Subject,
		"thread_id", threadID,
		"provider_message_id", id,
	)
	return &Result{To: to, Subject: msg.Subject, ThreadID: threadID, MessageID: id}, nil
}

func (g *Gate) recipient(req Request) (string, error) {
	if to := strings.TrimSpace(req.To); to != "" {
		return identity.ExtractSenderAddress(to), nil
	}
	if req.Identity == "" {
		return "", apperr.Validationf("outbound.send", "recipient is required")
	}
	if req.Identity.Channel() != identity.ChannelEmail {
		return "", apperr.Validationf("outbound.send", "identity %s has no email address", req.Identity)
	}
	return req.Identity.Address(), nil
}
