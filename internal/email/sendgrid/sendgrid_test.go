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

package sendgrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/email"
)

func TestSend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("X-Message-Id", "sg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, err := New("key", "agent@relay.example.com", srv.URL)
	require.NoError(t, err)

	id, err := tr.Send(context.Background(), email.Message{
		To:      "user@x.com",
		Subject: "Re: Homes",
		Text:    "Hi",
		HTML:    "<div>Hi</div>",
		Headers: map[string]string{email.HeaderInReplyTo: "<abc>", email.HeaderReferences: "<abc>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sg-1", id)

	assert.Equal(t, "Re: Homes", body["subject"])
	headers, _ := body["headers"].(map[string]any)
	assert.Equal(t, "<abc>", headers["In-Reply-To"])
	assert.Equal(t, "<abc>", headers["References"])
}

func TestSend_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	tr, err := New("key", "agent@relay.example.com", srv.URL)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), email.Message{To: "user@x.com", Subject: "s", Text: "t", HTML: "<div>t</div>"})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindUpstream, ae.Kind)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("", "a@x.com", "")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}
