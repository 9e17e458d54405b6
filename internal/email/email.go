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

// Package email defines the outbound email message and the Transport that
// delivers it. Provider implementations live in subpackages.
package email

import (
	"context"
	"html"
	"strings"
)

// Threading headers.
const (
	HeaderInReplyTo  = "In-Reply-To"
	HeaderReferences = "References"
)

// Message is a single outbound email.
type Message struct {
	To      string
	From    string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Transport delivers messages. Send returns the provider's message id when
// it reports one.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// RenderHTML wraps a plain text body for the HTML part.
func RenderHTML(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
}
