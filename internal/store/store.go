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

// Package store persists sessions, inbound emails and leads. LeadStore is
// the only way the rest of the relay touches records; Postgres backs it in
// production and Memory backs it in tests and local runs.
package store

import (
	"context"
	"errors"

	"github.com/leadrelay/orchestrator/internal/models"
)

// ErrDuplicateMessage is returned when an inbound email with the same
// message id is already stored.
var ErrDuplicateMessage = errors.New("message id already recorded")

// IsDuplicate reports whether err is a duplicate inbound message.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateMessage) }

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Identity models.Identity // empty lists every identity
	Limit    int             // 0 means DefaultListLimit
}

// DefaultListLimit bounds list queries that do not set a limit.
const DefaultListLimit = 50

// LeadStore is the record store. Lookups return (nil, nil) on a miss.
// "Latest" means most recently created.
type LeadStore interface {
	// GetSession returns the latest session for identity.
	GetSession(ctx context.Context, id models.Identity) (*models.Session, error)
	CreateSession(ctx context.Context, s models.Session) (*models.Session, error)
	// UpdateSession applies patch to the session with the given id. When
	// patch.IfUpdatedAt is set and no longer matches, it fails with a
	// conflict error and writes nothing.
	UpdateSession(ctx context.Context, id string, patch models.SessionPatch) (*models.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, error)

	GetInboundEmailByMessageID(ctx context.Context, messageID string) (*models.InboundEmail, error)
	// LatestInboundEmail returns the latest inbound email for identity.
	LatestInboundEmail(ctx context.Context, id models.Identity) (*models.InboundEmail, error)
	// CreateInboundEmail fails with ErrDuplicateMessage when the message id
	// is already stored.
	CreateInboundEmail(ctx context.Context, e models.InboundEmail) (*models.InboundEmail, error)
	// MarkInboundDispatched records that the assistant accepted the email.
	// A zero ref leaves the stored session reference unchanged.
	MarkInboundDispatched(ctx context.Context, id string, ref models.SessionRef) error
	// AttachInboundSession sets ref on the latest inbound email of identity
	// that has no session yet and returns it, or nil when there is none.
	AttachInboundSession(ctx context.Context, id models.Identity, ref models.SessionRef) (*models.InboundEmail, error)

	CreateLead(ctx context.Context, l models.Lead) (*models.Lead, error)
	UpdateLead(ctx context.Context, id string, patch models.LeadPatch) (*models.Lead, error)
	GetLeadByLastMessageID(ctx context.Context, messageID string) (*models.Lead, error)
	// GetLeadByConversationSession matches on the raw assistant session id;
	// the provenance tag is ignored.
	GetLeadByConversationSession(ctx context.Context, ref models.SessionRef) (*models.Lead, error)
	// FindLead returns the latest lead matching email or phone. Empty
	// arguments are ignored.
	FindLead(ctx context.Context, email, phone string) (*models.Lead, error)

	Ping(ctx context.Context) error
	Close()
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
