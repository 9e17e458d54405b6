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

// Package queue publishes relay events (leads created, emails received,
// sessions updated, emails sent) to a Redis list for downstream consumers
// such as CRM sync workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadrelay/orchestrator/internal/models"
)

// EventType names what happened.
type EventType string

const (
	EventLeadCreated    EventType = "lead.created"
	EventInboundLogged  EventType = "inbound.logged"
	EventSessionUpdated EventType = "session.updated"
	EventEmailGraded    EventType = "email.graded"
	EventEmailSent      EventType = "email.sent"
)

// Event is the envelope pushed onto the queue.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Identity   models.Identity `json:"identity,omitempty"`
	Payload    any             `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ EventType, id models.Identity, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Identity:   id,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends events to a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish serialises evt and pushes it with LPUSH; consumers BRPOP.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published event",
		"event_id", evt.ID,
		"type", evt.Type,
		"identity", evt.Identity,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
