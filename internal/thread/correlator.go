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

package thread

import (
	"context"
	"fmt"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
)

// MessageLookup finds stored inbound emails by message id.
type MessageLookup interface {
	GetInboundEmailByMessageID(ctx context.Context, messageID string) (*models.InboundEmail, error)
}

// Thread is the outcome of correlating a message.
type Thread struct {
	// Reference is the message id this one replies to; "" starts a thread.
	Reference string
	// Prior is the stored record for Reference, nil when Reference is "".
	Prior *models.InboundEmail
}

// IsNew reports whether the message starts a new thread.
func (t Thread) IsNew() bool { return t.Reference == "" }

// Correlator links replies to the stored message they answer.
type Correlator struct {
	lookup MessageLookup
}

// NewCorrelator creates a correlator backed by lookup.
func NewCorrelator(lookup MessageLookup) *Correlator {
	return &Correlator{lookup: lookup}
}

// Correlate resolves msg's thread. The resolved reference is tried first,
// then the remaining References and In-Reply-To ids. A message that names
// a reference none of which is stored fails with ErrThreadNotFound.
func (c *Correlator) Correlate(ctx context.Context, msg *Message) (Thread, error) {
	ref := ResolveReference(msg)
	if ref == "" {
		return Thread{}, nil
	}

	candidates := append([]string{ref}, msg.AllReferences...)
	tried := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if tried[id] {
			continue
		}
		tried[id] = true

		prior, err := c.lookup.GetInboundEmailByMessageID(ctx, id)
		if err != nil {
			return Thread{}, fmt.Errorf("looking up referenced message %s: %w", id, err)
		}
		if prior != nil {
			return Thread{Reference: id, Prior: prior}, nil
		}
	}

	return Thread{}, apperr.NotFound("thread.correlate", apperr.ErrThreadNotFound,
		fmt.Sprintf("no stored message matches reference %s", ref))
}
