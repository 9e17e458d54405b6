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

// Package leads turns assistant output into lead records and outgoing
// email. Three callbacks feed it: the extraction assistant's structured
// lead data, the rep assistant's drafted reply, and the manager grader's
// score for a drafted email.
package leads

import (
	"context"
	"strings"

	"github.com/leadrelay/orchestrator/internal/dispatch"
	"github.com/leadrelay/orchestrator/internal/notify"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/store"
)

// Mailer releases email through the outbound gate.
type Mailer interface {
	Send(ctx context.Context, req outbound.Request) (*outbound.Result, error)
}

// Config names the rep assistant and the public callback host.
type Config struct {
	RepAssistantID string
	PublicDomain   string
}

// Pipeline handles the extraction, rep reply and grading callbacks.
type Pipeline struct {
	store     store.LeadStore
	assistant dispatch.AssistantSender
	mailer    Mailer
	notifier  *notify.Notifier
	cfg       Config
}

// New creates a pipeline.
func New(s store.LeadStore, a dispatch.AssistantSender, m Mailer, n *notify.Notifier, cfg Config) *Pipeline {
	return &Pipeline{store: s, assistant: a, mailer: m, notifier: n, cfg: cfg}
}

// StripFences removes markdown code fences that assistants wrap around
// structured output, e.g. "```json ... ```".
func StripFences(body, lang string) string {
	if lang != "" {
		body = strings.ReplaceAll(body, "```"+lang, "")
	}
	return strings.TrimSpace(strings.ReplaceAll(body, "```", ""))
}
