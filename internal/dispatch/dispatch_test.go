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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/dedup"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/store"
	"github.com/leadrelay/orchestrator/internal/thread"
)

type sentMessage struct {
	AssistantID string
	Msg         assistant.Message
}

// fakeAssistant records submissions. A message without a session id gets a
// fresh one, like the real service. With async set, no session id is
// returned and it only arrives on the callback.
type fakeAssistant struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  error
	seq   int
	async bool
}

func (f *fakeAssistant) SendMessage(_ context.Context, assistantID string, msg assistant.Message) (*assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, sentMessage{AssistantID: assistantID, Msg: msg})
	if f.async {
		return &assistant.Reply{Status: "queued"}, nil
	}
	sid := msg.SessionID
	if sid == "" {
		f.seq++
		sid = fmt.Sprintf("SESS%03d", f.seq)
	}
	return &assistant.Reply{Status: "queued", SessionID: sid}, nil
}

func (f *fakeAssistant) to(assistantID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, s := range f.sent {
		if s.AssistantID == assistantID {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	d     *Dispatcher
	store *store.Memory
	ai    *fakeAssistant
	n     *notify.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	ai := &fakeAssistant{}
	n := notify.New(nil, time.Second)
	d := New(s, ai, dedup.NewLocal(time.Minute), n, Config{
		PrimaryAssistantID:    "ASPRIMARY",
		ExtractionAssistantID: "ASEXTRACT",
		ManagerAssistantID:    "ASMANAGER",
		PublicDomain:          "relay.example.com",
	})
	return &fixture{d: d, store: s, ai: ai, n: n}
}

func inboundPayload(messageID, references, from, text string) thread.Payload {
	headers := "Message-ID: <" + messageID + ">\nSubject: Homes"
	if references != "" {
		headers += "\nReferences: <" + references + ">"
	}
	return thread.Payload{Headers: headers, From: from, Text: text, Subject: "Homes"}
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "https://relay.example.com/backend/log-sessions", CallbackURL("relay.example.com", PathLogSessions))
	assert.Equal(t, "http://localhost:8080/backend/parse-lead", CallbackURL("http://localhost:8080/", PathParseLead))
}

func TestIntroBody(t *testing.T) {
	body := IntroBody(&models.Lead{FirstName: "Jane", AreaCode: "94105", Interest: "3 bedrooms"})
	assert.Contains(t, body, "Jane")
	assert.Contains(t, body, "94105")
	assert.Contains(t, body, `"3 bedrooms"`)

	assert.NotContains(t, IntroBody(&models.Lead{FirstName: "Jane", AreaCode: "94105"}), "additional information")
}

func TestStartConversation_NewLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lead, err := f.store.CreateLead(ctx, models.Lead{
		FirstName: "Jane", LastName: "Doe", Email: "jane@x.com",
		Phone: "+15551234567", AreaCode: "94105", Status: models.LeadNew,
	})
	require.NoError(t, err)

	res, err := f.d.StartConversation(ctx, lead)
	require.NoError(t, err)

	assert.Equal(t, models.Identity("email:jane@x.com"), res.Identity)
	assert.Equal(t, models.StateAwaitingAssistant, res.State)
	assert.False(t, res.Continued)

	sent := f.ai.to("ASPRIMARY")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Msg.Body, "Jane")
	assert.Contains(t, sent[0].Msg.Body, "94105")
	assert.Equal(t, "https://relay.example.com/backend/log-sessions", sent[0].Msg.Webhook)
	assert.Empty(t, sent[0].Msg.SessionID)

	state, err := f.d.State(ctx, res.Identity)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingAssistant, state)

	stored, err := f.store.FindLead(ctx, "jane@x.com", "")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.LeadNew, stored.Status)
	assert.Equal(t, res.SessionRef.AssistantID(), stored.ConversationSession.AssistantID())
}

func TestStartConversation_ContinuesExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateSession(ctx, models.Session{
		Identity:   "email:jane@x.com",
		SessionRef: models.NativeRef("S1"),
		State:      models.StateAwaitingUserReply,
	})
	require.NoError(t, err)

	res, err := f.d.StartConversation(ctx, &models.Lead{FirstName: "Jane", Email: "Jane@X.com", AreaCode: "94105"})
	require.NoError(t, err)
	assert.True(t, res.Continued)

	sent := f.ai.to("ASPRIMARY")
	require.Len(t, sent, 1)
	assert.Equal(t, "S1", sent[0].Msg.SessionID)

	sessions, err := f.store.ListSessions(ctx, store.SessionFilter{Identity: "email:jane@x.com"})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStartConversation_MissingAssistant(t *testing.T) {
	f := newFixture(t)
	f.d.cfg.PrimaryAssistantID = ""

	_, err := f.d.StartConversation(context.Background(), &models.Lead{Email: "jane@x.com"})
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.Empty(t, f.ai.sent)
}

func TestHandleInboundEmail_NewConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.HandleInboundEmail(ctx, inboundPayload("m1", "", "Jane Doe <jane@x.com>", "Do you have listings?"))
	require.NoError(t, err)
	f.n.Wait()

	assert.True(t, res.NewConversation)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.Identity("email:jane@x.com"), res.Identity)
	assert.Empty(t, res.OriginalMsgRef)

	record, err := f.store.GetInboundEmailByMessageID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Do you have listings?", record.Message)
	assert.False(t, record.SessionRef.IsZero())

	sess, err := f.store.GetSession(ctx, "email:jane@x.com")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.StateAwaitingAssistant, sess.State)
	assert.Equal(t, "Homes", sess.Subject)

	extract := f.ai.to("ASEXTRACT")
	require.Len(t, extract, 1)
	assert.Equal(t, "https://relay.example.com/backend/parse-lead", extract[0].Msg.Webhook)
}

func TestHandleInboundEmail_ReusesThreadSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateInboundEmail(ctx, models.InboundEmail{
		MessageID:  "xyz000",
		SessionRef: models.NativeRef("S1"),
		Message:    "earlier",
		Identity:   "email:jane@x.com",
	})
	require.NoError(t, err)

	res, err := f.d.HandleInboundEmail(ctx, inboundPayload("abc123", "xyz000", "jane@x.com", "Yes please\n\nOn Mon, Jane wrote:\n> earlier"))
	require.NoError(t, err)
	f.n.Wait()

	assert.Equal(t, "xyz000", res.OriginalMsgRef)
	assert.Equal(t, "S1", res.SessionRef.AssistantID())
	assert.False(t, res.NewConversation)

	primary := f.ai.to("ASPRIMARY")
	require.Len(t, primary, 1)
	assert.Equal(t, "S1", primary[0].Msg.SessionID)
	assert.Equal(t, "Yes please", primary[0].Msg.Body)

	record, err := f.store.GetInboundEmailByMessageID(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "xyz000", record.OriginalMsgRef)
}

func TestHandleInboundEmail_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := inboundPayload("dup1", "", "jane@x.com", "hello")

	first, err := f.d.HandleInboundEmail(ctx, p)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.d.HandleInboundEmail(ctx, p)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RecordID, second.RecordID)
	f.n.Wait()

	assert.Len(t, f.ai.to("ASPRIMARY"), 1)
}

func TestHandleInboundEmail_IdempotentWithoutSessionID(t *testing.T) {
	f := newFixture(t)
	f.ai.async = true
	ctx := context.Background()
	p := inboundPayload("m1@x", "", "jane@x.com", "hello")

	first, err := f.d.HandleInboundEmail(ctx, p)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.SessionRef.IsZero())

	second, err := f.d.HandleInboundEmail(ctx, p)
	require.NoError(t, err)
	f.n.Wait()
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Len(t, f.ai.to("ASPRIMARY"), 1)

	record, err := f.store.GetInboundEmailByMessageID(ctx, "m1@x")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Dispatched())
	assert.True(t, record.SessionRef.IsZero())
}

func TestHandleSessionCallback_AttachesSessionToInbound(t *testing.T) {
	f := newFixture(t)
	f.ai.async = true
	f.d.cfg.ManagerAssistantID = ""
	ctx := context.Background()

	_, err := f.d.HandleInboundEmail(ctx, inboundPayload("m1@x", "", "jane@x.com", "hello"))
	require.NoError(t, err)

	_, err = f.d.HandleSessionCallback(ctx, assistant.Callback{
		SessionID: "SESS9", Identity: "email:jane@x.com", Body: "Here are three homes.",
	})
	require.NoError(t, err)

	record, err := f.store.GetInboundEmailByMessageID(ctx, "m1@x")
	require.NoError(t, err)
	assert.Equal(t, "webhook:SESS9", record.SessionRef.String())

	// A reply in that thread continues the callback's session.
	res, err := f.d.HandleInboundEmail(ctx, inboundPayload("m2@x", "m1@x", "jane@x.com", "Yes please"))
	require.NoError(t, err)
	f.n.Wait()
	assert.Equal(t, "SESS9", res.SessionRef.AssistantID())

	primary := f.ai.to("ASPRIMARY")
	require.Len(t, primary, 2)
	assert.Equal(t, "SESS9", primary[1].Msg.SessionID)

	// The redelivered first email is still a duplicate.
	dup, err := f.d.HandleInboundEmail(ctx, inboundPayload("m1@x", "", "jane@x.com", "hello"))
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Len(t, f.ai.to("ASPRIMARY"), 2)
}

func TestHandleInboundEmail_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	p := inboundPayload("race1", "", "jane@x.com", "hello")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.d.HandleInboundEmail(context.Background(), p)
		}()
	}
	wg.Wait()
	f.n.Wait()

	assert.Len(t, f.ai.to("ASPRIMARY"), 1)
}

func TestHandleInboundEmail_UnknownThread(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.HandleInboundEmail(context.Background(), inboundPayload("m2", "nope", "jane@x.com", "hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrThreadNotFound))
	assert.Equal(t, 404, apperr.HTTPStatus(err))

	record, err := f.store.GetInboundEmailByMessageID(context.Background(), "m2")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestHandleInboundEmail_MissingMessageID(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.HandleInboundEmail(context.Background(), thread.Payload{Headers: "Subject: hi", From: "jane@x.com"})
	assert.True(t, errors.Is(err, apperr.ErrMalformedInboundPayload))
	assert.Equal(t, 400, apperr.HTTPStatus(err))
}

func TestHandleInboundEmail_ResubmitsAfterUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := inboundPayload("retry1", "", "jane@x.com", "hello")

	f.ai.fail = apperr.Upstream("assistant.send", "assistant", 503, "", errors.New("unavailable"))
	_, err := f.d.HandleInboundEmail(ctx, p)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	record, err := f.store.GetInboundEmailByMessageID(ctx, "retry1")
	require.NoError(t, err)
	require.NotNil(t, record, "record is kept after an upstream failure")
	assert.True(t, record.SessionRef.IsZero())
	assert.False(t, record.Dispatched())

	f.ai.fail = nil
	res, err := f.d.HandleInboundEmail(ctx, p)
	require.NoError(t, err)
	f.n.Wait()
	assert.False(t, res.Duplicate)
	assert.Equal(t, record.ID, res.RecordID)
	assert.Len(t, f.ai.to("ASPRIMARY"), 1)
}

func TestHandleInboundEmail_EmptyBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.HandleInboundEmail(ctx, inboundPayload("empty1", "", "jane@x.com", "> only quoted"))
	require.NoError(t, err)
	f.n.Wait()

	record, err := f.store.GetInboundEmailByMessageID(ctx, "empty1")
	require.NoError(t, err)
	assert.Equal(t, EmptyMessage, record.Message)
}

func TestHandleSessionCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.HandleInboundEmail(ctx, inboundPayload("m1", "", "jane@x.com", "hello"))
	require.NoError(t, err)
	f.n.Wait()

	res, err := f.d.HandleSessionCallback(ctx, assistant.Callback{
		SessionID:    "SESS001",
		AssistantSID: "ASPRIMARY",
		Identity:     "email:jane@x.com",
		Body:         "Here are three homes.",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateAwaitingUserReply, res.Session.State)
	assert.Equal(t, models.SourceWebhook, res.Session.SessionRef.Source)
	assert.Equal(t, "webhook:SESS001", res.Session.SessionRef.String())
	assert.Equal(t, "Here are three homes.", res.Session.LastMessage)

	manager := f.ai.to("ASMANAGER")
	require.Len(t, manager, 1)
	assert.Equal(t, GraderInstruction+"Here are three homes.", manager[0].Msg.Body)
	assert.NotNil(t, res.ManagerReply)

	sessions, err := f.store.ListSessions(ctx, store.SessionFilter{Identity: "email:jane@x.com"})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestHandleSessionCallback_CreatesSession(t *testing.T) {
	f := newFixture(t)
	f.d.cfg.ManagerAssistantID = ""

	res, err := f.d.HandleSessionCallback(context.Background(), assistant.Callback{
		SessionID: "S9", Identity: "whatsapp:15551234567", Body: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, models.Identity("phone:+15551234567"), res.Session.Identity)
	assert.Nil(t, res.ManagerReply)
	assert.Empty(t, f.ai.to("ASMANAGER"))
}

func TestHandleSessionCallback_Validation(t *testing.T) {
	f := newFixture(t)

	for _, cb := range []assistant.Callback{
		{Identity: "email:jane@x.com", Body: "x"},
		{SessionID: "S1", Body: "x"},
		{SessionID: "S1", Identity: "email:jane@x.com"},
		{SessionID: "S1", Identity: "jane", Body: "x"},
	} {
		_, err := f.d.HandleSessionCallback(context.Background(), cb)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "callback %+v", cb)
	}
}

func TestHandleSessionCallback_FlaggedSkipsGrading(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.HandleSessionCallback(context.Background(), assistant.Callback{
		SessionID: "S1", Identity: "email:jane@x.com", Body: "x", Flagged: true,
	})
	require.NoError(t, err)
	assert.Empty(t, f.ai.to("ASMANAGER"))
}
