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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/email"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/store"
)

type fakeAssistant struct {
	mu   sync.Mutex
	sent []assistant.Message
	seq  int
}

func (f *fakeAssistant) SendMessage(_ context.Context, _ string, msg assistant.Message) (*assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	sid := msg.SessionID
	if sid == "" {
		f.seq++
		sid = fmt.Sprintf("REP%03d", f.seq)
	}
	return &assistant.Reply{Status: "queued", SessionID: sid}, nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "provider-1", nil
}

type fixture struct {
	p         *Pipeline
	store     *store.Memory
	ai        *fakeAssistant
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	ai := &fakeAssistant{}
	tr := &fakeTransport{}
	gate := outbound.NewGate(s, tr, "Exciting New Homes, Just for You")
	p := New(s, ai, gate, notify.New(nil, time.Second), Config{
		RepAssistantID: "ASREP",
		PublicDomain:   "relay.example.com",
	})
	return &fixture{p: p, store: s, ai: ai, transport: tr}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```", "json"))
	assert.Equal(t, "<p>Hi</p>", StripFences("```html<p>Hi</p>```", "html"))
	assert.Equal(t, "plain", StripFences("plain", "json"))
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"0.9", 0.9, false},
		{"0", 0, false},
		{"1", 1, false},
		{" 0.085 ", 0.085, false},
		{"1.5", 0, true},
		{"-0.1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"NaN", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseScore(tt.raw)
		if tt.wantErr {
			assert.True(t, errors.Is(err, apperr.ErrInvalidScore), "raw %q", tt.raw)
			assert.Equal(t, 400, apperr.HTTPStatus(err))
			continue
		}
		require.NoError(t, err, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func seedThread(t *testing.T, s *store.Memory, id models.Identity, messageID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateInboundEmail(ctx, models.InboundEmail{
		MessageID:  messageID,
		SessionRef: models.NativeRef("S1"),
		Subject:    "Homes in 94105",
		Message:    "hello",
		Identity:   id,
	})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, models.Session{
		Identity:   id,
		SessionRef: models.WebhookRef("S1"),
		State:      models.StateAwaitingUserReply,
	})
	require.NoError(t, err)
}

func TestGrade_ReleasesThreadedEmail(t *testing.T) {
	f := newFixture(t)
	seedThread(t, f.store, "email:jane@x.com", "M1")

	res, err := f.p.Grade(context.Background(), GradeRequest{
		Identity:          "email:jane@x.com",
		ManagerScore:      "0.9",
		OutboundEmailBody: "Hello",
	})
	require.NoError(t, err)

	assert.True(t, res.Released)
	assert.Equal(t, models.EmailSent, res.Session.OutboundEmailStatus)
	require.NotNil(t, res.Session.ManagerScore)
	assert.Equal(t, 0.9, *res.Session.ManagerScore)
	assert.Equal(t, "Hello", res.Session.OutboundEmailBody)

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "jane@x.com", msg.To)
	assert.Equal(t, "Hello", msg.Text)
	assert.Equal(t, "<M1>", msg.Headers[email.HeaderInReplyTo])
	assert.Equal(t, "<M1>", msg.Headers[email.HeaderReferences])
	assert.Equal(t, "Re: Exciting New Homes, Just for You", msg.Subject)
}

func TestGrade_Threshold(t *testing.T) {
	tests := []struct {
		score    string
		released bool
	}{
		{"0.085", true},
		{"0.0849", false},
		{"0", false},
		{"1", true},
	}
	for _, tt := range tests {
		t.Run(tt.score, func(t *testing.T) {
			f := newFixture(t)
			seedThread(t, f.store, "email:jane@x.com", "M1")

			res, err := f.p.Grade(context.Background(), GradeRequest{
				Identity:             "email:jane@x.com",
				ManagerScore:         tt.score,
				RecommendedEmailBody: "Recommended",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.released, res.Released)

			if tt.released {
				require.Len(t, f.transport.sent, 1)
				assert.Equal(t, "Recommended", f.transport.sent[0].Text)
				assert.Equal(t, models.EmailSent, res.Session.OutboundEmailStatus)
			} else {
				assert.Empty(t, f.transport.sent)
				assert.Equal(t, models.EmailDraft, res.Session.OutboundEmailStatus)
			}
		})
	}
}

func TestGrade_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.Grade(ctx, GradeRequest{ManagerScore: "0.5"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.p.Grade(ctx, GradeRequest{Identity: "email:jane@x.com", ManagerScore: "2"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidScore))

	_, err = f.p.Grade(ctx, GradeRequest{Identity: "email:nobody@x.com", ManagerScore: "0.5"})
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
	assert.Equal(t, 404, apperr.HTTPStatus(err))
}

func TestGrade_SendFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	seedThread(t, f.store, "email:jane@x.com", "M1")
	f.transport.err = apperr.Upstream("email.send", "sendgrid", 502, "", errors.New("bad gateway"))

	_, err := f.p.Grade(context.Background(), GradeRequest{
		Identity: "email:jane@x.com", ManagerScore: "0.9", OutboundEmailBody: "Hello",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	sess, err := f.store.GetSession(context.Background(), "email:jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.EmailDraft, sess.OutboundEmailStatus)
	assert.Equal(t, "Hello", sess.OutboundEmailBody)
}

func TestHandleExtraction_CreatesAndReusesLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedThread(t, f.store, "email:jane@x.com", "M1")

	cb := assistant.Callback{
		SessionID: "EX1",
		Identity:  "email:jane@x.com",
		Body:      "```json\n{\"FirstName\":\"Jane\",\"LastName\":\"Doe\",\"PhoneNumber\":\"+1 555 123 4567\",\"Intent\":\"buy\",\"Body\":\"Looking for a condo.\"}\n```",
	}

	first, err := f.p.HandleExtraction(ctx, cb)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "Jane", first.Lead.FirstName)
	assert.Equal(t, "jane@x.com", first.Lead.Email)
	assert.Equal(t, "+15551234567", first.Lead.Phone)
	assert.Empty(t, first.Lead.Company)
	assert.Equal(t, "M1", first.Lead.LastMessageID)
	assert.Equal(t, models.LeadNew, first.Lead.Status)
	assert.Equal(t, "webhook:REP001", first.Lead.ConversationSession.String())

	require.Len(t, f.ai.sent, 1)
	assert.Equal(t, "Looking for a condo. Regards Jane Doe", f.ai.sent[0].Body)
	assert.Equal(t, "https://relay.example.com/backend/process-ai-response", f.ai.sent[0].Webhook)
	assert.Empty(t, f.ai.sent[0].SessionID)

	assert.Equal(t, "M1", first.Lead.HandledMessageID)

	// A later reply in the same thread continues the rep conversation.
	_, err = f.store.CreateInboundEmail(ctx, models.InboundEmail{
		MessageID:      "M2",
		OriginalMsgRef: "M1",
		Message:        "Any with parking?",
		Identity:       "email:jane@x.com",
	})
	require.NoError(t, err)

	second, err := f.p.HandleExtraction(ctx, cb)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.Duplicate)
	assert.Equal(t, first.Lead.ID, second.Lead.ID)
	assert.Equal(t, "M2", second.Lead.HandledMessageID)
	require.Len(t, f.ai.sent, 2)
	assert.Equal(t, "REP001", f.ai.sent[1].SessionID)
}

func TestHandleExtraction_RedeliveryNotResubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedThread(t, f.store, "email:jane@x.com", "M1")

	cb := assistant.Callback{Identity: "email:jane@x.com", Body: `{"FirstName":"Jane","Body":"Looking for a condo."}`}

	first, err := f.p.HandleExtraction(ctx, cb)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := f.p.HandleExtraction(ctx, cb)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Lead.ID, again.Lead.ID)
	assert.Len(t, f.ai.sent, 1)
}

func TestHandleExtraction_Placeholders(t *testing.T) {
	f := newFixture(t)
	seedThread(t, f.store, "email:jane@x.com", "M1")

	res, err := f.p.HandleExtraction(context.Background(), assistant.Callback{
		Identity: "email:jane@x.com", Body: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, NotProvided, res.Lead.FirstName)
	assert.Equal(t, NotProvided, res.Lead.Phone)
	assert.Equal(t, "jane@x.com", res.Lead.Email)
}

func TestHandleExtraction_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.p.HandleExtraction(ctx, assistant.Callback{Identity: "email:jane@x.com", Body: "not json"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.p.HandleExtraction(ctx, assistant.Callback{Identity: "email:jane@x.com", Body: "{}"})
	assert.True(t, errors.Is(err, apperr.ErrThreadNotFound))

	f.p.cfg.RepAssistantID = ""
	_, err = f.p.HandleExtraction(ctx, assistant.Callback{Identity: "email:jane@x.com", Body: "{}"})
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestHandleRepReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedThread(t, f.store, "email:jane@x.com", "M1")

	_, err := f.store.CreateLead(ctx, models.Lead{
		FirstName: "Jane", Email: "jane@x.com", LastMessageID: "M1",
		Status: models.LeadNew, ConversationSession: models.WebhookRef("REP9"),
	})
	require.NoError(t, err)

	res, err := f.p.HandleRepReply(ctx, assistant.Callback{
		SessionID: "REP9", Identity: "email:jane@x.com", Body: "```html<p>Great homes</p>```",
	})
	require.NoError(t, err)
	assert.Equal(t, "M1", res.ThreadID)
	assert.Equal(t, "Re: Homes in 94105", res.Subject)

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "<p>Great homes</p>", f.transport.sent[0].Text)
	assert.Equal(t, "<M1>", f.transport.sent[0].Headers[email.HeaderInReplyTo])
}

func TestHandleRepReply_UnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.HandleRepReply(context.Background(), assistant.Callback{SessionID: "nope", Body: "x"})
	assert.True(t, errors.Is(err, apperr.ErrLeadNotFound))
	assert.Equal(t, 404, apperr.HTTPStatus(err))
}
