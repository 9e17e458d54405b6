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

package assistant

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the signature scheme is HMAC-SHA1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Callback is what the assistant POSTs to a message's webhook once it has
// answered.
type Callback struct {
	SessionID    string `json:"SessionId"`
	AssistantSID string `json:"AssistantSid"`
	Identity     string `json:"Identity"`
	Body         string `json:"Body"`
	Status       string `json:"Status,omitempty"`
	Flagged      bool   `json:"Flagged,omitempty"`
}

// CallbackFromForm reads a form-encoded callback.
func CallbackFromForm(v url.Values) Callback {
	flagged, _ := strconv.ParseBool(v.Get("Flagged"))
	return Callback{
		SessionID:    v.Get("SessionId"),
		AssistantSID: v.Get("AssistantSid"),
		Identity:     v.Get("Identity"),
		Body:         v.Get("Body"),
		Status:       v.Get("Status"),
		Flagged:      flagged,
	}
}

// SignatureHeader carries the request signature.
const SignatureHeader = "X-Twilio-Signature"

// ValidateFormSignature checks signature against the full request URL and
// form parameters: base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func ValidateFormSignature(authToken, fullURL string, params url.Values, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return compareSignature(authToken, b.String(), signature)
}

// ValidateBodySignature checks a JSON request: the URL signature plus the
// bodySHA256 query parameter against the body hash.
func ValidateBodySignature(authToken, fullURL string, body []byte, signature string) bool {
	u, err := url.Parse(fullURL)
	if err != nil {
		return false
	}
	want := u.Query().Get("bodySHA256")
	if want == "" {
		return false
	}
	sum := sha256.Sum256(body)
	if !hmac.Equal([]byte(strings.ToLower(want)), []byte(hex.EncodeToString(sum[:]))) {
		return false
	}
	return compareSignature(authToken, fullURL, signature)
}

// Sign computes the signature of payload. Exposed for tests and tooling.
func Sign(authToken, payload string) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func compareSignature(authToken, payload, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(authToken, payload)), []byte(signature))
}
