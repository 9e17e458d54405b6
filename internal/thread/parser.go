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

// Package thread decodes inbound email webhooks, works out which earlier
// message a reply belongs to, and strips quoted history from reply bodies.
package thread

import (
	"regexp"
	"strings"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/identity"
)

// Payload is the inbound email webhook body as posted by the mail provider.
type Payload struct {
	Headers string `json:"headers"`
	From    string `json:"from"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Message is a decoded inbound email.
type Message struct {
	MessageID   string
	FromAddress string
	Text        string
	HTML        string
	Subject     string
	References  string // first id of the References header
	InReplyTo   string

	// AllReferences holds every id from References then In-Reply-To, in
	// header order, without duplicates.
	AllReferences []string
}

var angleToken = regexp.MustCompile(`<([^>]+)>`)

// Parse decodes a webhook payload. It fails with ErrMalformedInboundPayload
// when no Message-ID can be extracted.
func Parse(p Payload) (*Message, error) {
	messageID, ok := identity.ExtractMessageID(p.Headers)
	if !ok {
		return nil, apperr.Validation("thread.parse", apperr.ErrMalformedInboundPayload,
			"Message-ID not found in email headers")
	}

	msg := &Message{
		MessageID:   messageID,
		FromAddress: identity.ExtractSenderAddress(p.From),
		Text:        p.Text,
		HTML:        p.HTML,
		Subject:     strings.TrimSpace(p.Subject),
	}
	if msg.FromAddress == "" {
		return nil, apperr.Validation("thread.parse", apperr.ErrMalformedInboundPayload, "from address is empty")
	}

	refs := headerIDs(p.Headers, "References")
	replyTo := headerIDs(p.Headers, "In-Reply-To")
	if len(refs) > 0 {
		msg.References = refs[0]
	}
	if len(replyTo) > 0 {
		msg.InReplyTo = replyTo[0]
	}

	seen := map[string]bool{messageID: true}
	for _, id := range append(refs, replyTo...) {
		if !seen[id] {
			seen[id] = true
			msg.AllReferences = append(msg.AllReferences, id)
		}
	}

	return msg, nil
}

// ResolveReference returns the message this one replies to: the first
// References id, else In-Reply-To, else "" for a new thread.
func ResolveReference(m *Message) string {
	if m.References != "" {
		return m.References
	}
	return m.InReplyTo
}

func headerIDs(rawHeaders, name string) []string {
	v, ok := identity.HeaderValue(rawHeaders, name)
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range angleToken.FindAllStringSubmatch(v, -1) {
		if id := strings.TrimSpace(m[1]); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		ids = strings.Fields(v)
	}
	return ids
}
