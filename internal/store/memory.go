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

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
)

// Memory is an in-process LeadStore. Records are copied in and out so
// callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	inbound  map[string]models.InboundEmail
	leads    map[string]models.Lead
	seq      int64

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]models.Session),
		inbound:  make(map[string]models.InboundEmail),
		leads:    make(map[string]models.Lead),
		now:      time.Now,
	}
}

// stamp returns a timestamp strictly after prev so that successive writes
// to the same record always change updated_at.
func (m *Memory) stamp(prev time.Time) time.Time {
	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

// created gives records a strict creation order even when the clock does
// not advance between inserts.
func (m *Memory) created() time.Time {
	m.seq++
	return m.now().UTC().Truncate(time.Microsecond).Add(time.Duration(m.seq) * time.Nanosecond)
}

func (m *Memory) GetSession(_ context.Context, id models.Identity) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Session
	for _, s := range m.sessions {
		if s.Identity != id {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

func (m *Memory) CreateSession(_ context.Context, s models.Session) (*models.Session, error) {
	if s.Identity == "" {
		return nil, apperr.Validationf("store.create_session", "identity is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = uuid.NewString()
	s.CreatedAt = m.created()
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, patch models.SessionPatch) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound("store.update_session", apperr.ErrSessionNotFound, "session "+id+" not found")
	}
	if patch.IfUpdatedAt != nil && !patch.IfUpdatedAt.Equal(s.UpdatedAt) {
		return nil, apperr.Conflict("store.update_session", "session "+id+" was modified concurrently")
	}
	patch.Apply(&s)
	s.UpdatedAt = m.stamp(s.UpdatedAt)
	m.sessions[id] = s
	return &s, nil
}

func (m *Memory) ListSessions(_ context.Context, f SessionFilter) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Session
	for _, s := range m.sessions {
		if f.Identity != "" && s.Identity != f.Identity {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetInboundEmailByMessageID(_ context.Context, messageID string) (*models.InboundEmail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.inbound {
		if e.MessageID == messageID {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) LatestInboundEmail(_ context.Context, id models.Identity) (*models.InboundEmail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.InboundEmail
	for _, e := range m.inbound {
		if e.Identity != id {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			e := e
			latest = &e
		}
	}
	return latest, nil
}

func (m *Memory) CreateInboundEmail(_ context.Context, e models.InboundEmail) (*models.InboundEmail, error) {
	if e.MessageID == "" {
		return nil, apperr.Validationf("store.create_inbound", "message id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.inbound {
		if existing.MessageID == e.MessageID {
			return nil, fmt.Errorf("create inbound email %s: %w", e.MessageID, ErrDuplicateMessage)
		}
	}
	e.ID = uuid.NewString()
	e.CreatedAt = m.created()
	e.UpdatedAt = e.CreatedAt
	m.inbound[e.ID] = e
	return &e, nil
}

func (m *Memory) MarkInboundDispatched(_ context.Context, id string, ref models.SessionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.inbound[id]
	if !ok {
		return apperr.NotFound("store.mark_inbound_dispatched", nil, "inbound email "+id+" not found")
	}
	if !ref.IsZero() {
		e.SessionRef = ref
	}
	e.UpdatedAt = m.stamp(e.UpdatedAt)
	at := e.UpdatedAt
	e.DispatchedAt = &at
	m.inbound[id] = e
	return nil
}

func (m *Memory) AttachInboundSession(_ context.Context, id models.Identity, ref models.SessionRef) (*models.InboundEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.InboundEmail
	for _, e := range m.inbound {
		if e.Identity != id || !e.SessionRef.IsZero() {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			e := e
			latest = &e
		}
	}
	if latest == nil {
		return nil, nil
	}
	latest.SessionRef = ref
	latest.UpdatedAt = m.stamp(latest.UpdatedAt)
	m.inbound[latest.ID] = *latest
	return latest, nil
}

func (m *Memory) CreateLead(_ context.Context, l models.Lead) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = uuid.NewString()
	if l.Status == "" {
		l.Status = models.LeadNew
	}
	l.CreatedAt = m.created()
	l.UpdatedAt = l.CreatedAt
	m.leads[l.ID] = l
	return &l, nil
}

func (m *Memory) UpdateLead(_ context.Context, id string, patch models.LeadPatch) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, apperr.NotFound("store.update_lead", apperr.ErrLeadNotFound, "lead "+id+" not found")
	}
	patch.Apply(&l)
	l.UpdatedAt = m.stamp(l.UpdatedAt)
	m.leads[id] = l
	return &l, nil
}

func (m *Memory) GetLeadByLastMessageID(_ context.Context, messageID string) (*models.Lead, error) {
	return m.latestLead(func(l models.Lead) bool { return messageID != "" && l.LastMessageID == messageID }), nil
}

func (m *Memory) GetLeadByConversationSession(_ context.Context, ref models.SessionRef) (*models.Lead, error) {
	raw := ref.AssistantID()
	return m.latestLead(func(l models.Lead) bool {
		return raw != "" && l.ConversationSession.AssistantID() == raw
	}), nil
}

func (m *Memory) FindLead(_ context.Context, email, phone string) (*models.Lead, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	return m.latestLead(func(l models.Lead) bool {
		return (email != "" && strings.EqualFold(l.Email, email)) || (phone != "" && l.Phone == phone)
	}), nil
}

func (m *Memory) latestLead(match func(models.Lead) bool) *models.Lead {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Lead
	for _, l := range m.leads {
		if !match(l) {
			continue
		}
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) {
			l := l
			latest = &l
		}
	}
	return latest
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}
