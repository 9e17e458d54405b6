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

package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/store"
)

type fakeTransport struct {
	sent []email.Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg email.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "provider-1", nil
}

func TestPasses(t *testing.T) {
	tests := []struct {
		score float64
		want  bool
	}{
		{0, false},
		{0.0849, false},
		{0.085, true},
		{0.9, true},
		{1, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Passes(tt.score), "score %v", tt.score)
	}
}

func TestSend_Threaded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_, err := s.CreateInboundEmail(ctx, models.InboundEmail{MessageID: "M1", Identity: "email:user@x.com"})
	require.NoError(t, err)

	tr := &fakeTransport{}
	g := NewGate(s, tr, "Exciting New Homes, Just for You")

	res, err := g.Send(ctx, Request{Identity: "email:user@x.com", Body: "Hello"})
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)

	msg := tr.sent[0]
	assert.Equal(t, "user@x.com", msg.To)
	assert.Equal(t, "Re: Exciting New Homes, Just for You", msg.Subject)
	assert.Equal(t, "<M1>", msg.Headers[email.HeaderInReplyTo])
	assert.Equal(t, "<M1>", msg.Headers[email.HeaderReferences])
	assert.Equal(t, "<div>Hello</div>", msg.HTML)
	assert.Equal(t, "M1", res.ThreadID)
	assert.Equal(t, "provider-1", res.MessageID)
}

func TestSend_NoDoubleRe(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(store.NewMemory(), tr, "x")

	_, err := g.Send(context.Background(), Request{Identity: "email:user@x.com", Body: "b", Subject: "RE: Tour", ThreadID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, "RE: Tour", tr.sent[0].Subject)
}

// TestSend_Unthreaded verifies that a missing thread does not block the send.
func TestSend_Unthreaded(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(store.NewMemory(), tr, "Default")

	res, err := g.Send(context.Background(), Request{Identity: "email:new@x.com", Body: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "Default", tr.sent[0].Subject)
	assert.Empty(t, tr.sent[0].Headers)
	assert.Empty(t, res.ThreadID)
}

func TestSend_Validation(t *testing.T) {
	g := NewGate(store.NewMemory(), &fakeTransport{}, "x")
	ctx := context.Background()

	_, err := g.Send(ctx, Request{Identity: "phone:+1555", Body: "b"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = g.Send(ctx, Request{Identity: "email:a@x.com"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = g.Send(ctx, Request{Body: "b"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSend_TransportFailureSurfaces(t *testing.T) {
	boom := apperr.Upstream("test", "sendgrid", 502, "", errors.New("bad gateway"))
	g := NewGate(store.NewMemory(), &fakeTransport{err: boom}, "x")

	_, err := g.Send(context.Background(), Request{To: "Jane <jane@x.com>", Body: "b"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}
