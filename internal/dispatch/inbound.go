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
	"fmt"
	"log/slog"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/assistant"
	"github.com/leadrelay/orchestrator/internal/identity"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/queue"
	"github.com/leadrelay/orchestrator/internal/store"
	"github.com/leadrelay/orchestrator/internal/thread"
)

// EmptyMessage replaces a reply body that is empty after cleaning.
const EmptyMessage = "Empty message"

// InboundResult describes the handling of one inbound email.
type InboundResult struct {
	RecordID        string            `json:"record,omitempty"`
	MessageID       string            `json:"message_id"`
	Identity        models.Identity   `json:"identity"`
	SessionRef      models.SessionRef `json:"session_ref"`
	OriginalMsgRef  string            `json:"original_msg_ref,omitempty"`
	NewConversation bool              `json:"new_conversation"`
	Duplicate       bool              `json:"duplicate"`
	AssistantStatus string            `json:"message_status,omitempty"`
}

// HandleInboundEmail logs an inbound email and forwards the cleaned reply
// to the assistant.
//
// A message id the assistant already accepted is reported as a duplicate
// and nothing is stored or submitted again, whether or not its session id
// is known yet. A message that was stored but never accepted (the earlier
// attempt failed upstream) is resubmitted using the stored record. A reply whose thread reference
// matches no stored message fails with ErrThreadNotFound.
func (d *Dispatcher) HandleInboundEmail(ctx context.Context, p thread.Payload) (*InboundResult, error) {
	msg, err := thread.Parse(p)
	if err != nil {
		return nil, err
	}
	id, err := identity.FromEmail(msg.FromAddress)
	if err != nil {
		return nil, err
	}
	if d.cfg.PrimaryAssistantID == "" {
		return nil, apperr.Configuration("dispatch.inbound", "primary assistant id is not configured")
	}

	log := slog.With("message_id", msg.MessageID, "identity", id)

	claimed, err := d.guard.Claim(ctx, msg.MessageID)
	if err != nil {
		// The store lookup below still rejects duplicates.
		log.WarnContext(ctx, "dedup claim failed, continuing", "error", err)
		claimed = true
	}
	if !claimed {
		log.InfoContext(ctx, "inbound email already in flight")
		return &InboundResult{MessageID: msg.MessageID, Identity: id, Duplicate: true}, nil
	}
	defer func() {
		if err := d.guard.Release(context.WithoutCancel(ctx), msg.MessageID); err != nil {
			log.WarnContext(ctx, "dedup release failed", "error", err)
		}
	}()

	record, err := d.store.GetInboundEmailByMessageID(ctx, msg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("looking up message %s: %w", msg.MessageID, err)
	}
	if record != nil && record.Dispatched() {
		log.InfoContext(ctx, "duplicate inbound email ignored", "record", record.ID)
		return duplicateResult(record), nil
	}

	th, err := d.correlator.Correlate(ctx, msg)
	if err != nil {
		return nil, err
	}

	sess, err := d.resolveSession(ctx, id, th)
	if err != nil {
		return nil, err
	}

	if record == nil {
		body, ok := thread.CleanReplyBody(msg.Text, msg.HTML)
		if !ok || body == "" {
			body = EmptyMessage
		}
		record, err = d.store.CreateInboundEmail(ctx, models.InboundEmail{
			MessageID:      msg.MessageID,
			Subject:        msg.Subject,
			Message:        body,
			OriginalMsgRef: th.Reference,
			Identity:       id,
		})
		if store.IsDuplicate(err) {
			existing, lookupErr := d.store.GetInboundEmailByMessageID(ctx, msg.MessageID)
			if lookupErr != nil || existing == nil {
				return nil, fmt.Errorf("recording inbound email %s: %w", msg.MessageID, err)
			}
			return duplicateResult(existing), nil
		}
		if err != nil {
			return nil, fmt.Errorf("recording inbound email %s: %w", msg.MessageID, err)
		}
	} else {
		log.InfoContext(ctx, "resubmitting stored inbound email", "record", record.ID)
	}

	out := assistant.Message{
		Identity: id,
		Body:     record.Message,
		Webhook:  d.callback(PathLogSessions),
		Mode:     assistant.ModeEmail,
	}
	if sess != nil && !sess.SessionRef.IsZero() {
		out.SessionID = sess.SessionRef.AssistantID()
	}

	reply, err := d.assistant.SendMessage(ctx, d.cfg.PrimaryAssistantID, out)
	if err != nil {
		// The record stays; a redelivery resubmits it.
		return nil, err
	}

	// A zero ref means the session id arrives later on the log-sessions
	// callback, which attaches it to this record.
	ref := refFromReply(reply, sess)
	if err := d.store.MarkInboundDispatched(ctx, record.ID, ref); err != nil {
		return nil, fmt.Errorf("marking %s dispatched: %w", record.ID, err)
	}
	if !ref.IsZero() {
		record.SessionRef = ref
	}

	// The session of the identity that sent this email moves on, even when
	// the thread was started by another address.
	own := sess
	if own == nil || own.ID == "" || own.Identity != id {
		if own, err = d.store.GetSession(ctx, id); err != nil {
			return nil, fmt.Errorf("looking up session for %s: %w", id, err)
		}
	}
	if _, err := d.awaitAssistant(ctx, id, own, ref, msg.Subject, record.Message); err != nil {
		return nil, fmt.Errorf("recording session for %s: %w", id, err)
	}

	d.notifier.Publish(ctx, queue.NewEvent(queue.EventInboundLogged, id, record))
	d.forwardToExtraction(ctx, id, record.Message)

	log.InfoContext(ctx, "inbound email dispatched",
		"record", record.ID,
		"session_id", ref.String(),
		"original_msg_ref", record.OriginalMsgRef,
		"new_conversation", sess == nil,
	)

	return &InboundResult{
		RecordID:        record.ID,
		MessageID:       record.MessageID,
		Identity:        id,
		SessionRef:      ref,
		OriginalMsgRef:  record.OriginalMsgRef,
		NewConversation: sess == nil,
		AssistantStatus: reply.Status,
	}, nil
}

// resolveSession finds the session a message continues. A threaded reply
// uses the session recorded on the message it answers, falling back to the
// latest session of that message's sender; an unthreaded message uses the
// sender's latest session. nil means a new conversation.
func (d *Dispatcher) resolveSession(ctx context.Context, id models.Identity, th thread.Thread) (*models.Session, error) {
	if !th.IsNew() {
		prior := th.Prior
		sess, err := d.store.GetSession(ctx, prior.Identity)
		if err != nil {
			return nil, fmt.Errorf("looking up session for %s: %w", prior.Identity, err)
		}
		if !prior.SessionRef.IsZero() {
			if sess == nil {
				return &models.Session{Identity: prior.Identity, SessionRef: prior.SessionRef}, nil
			}
			if sess.SessionRef.AssistantID() != prior.SessionRef.AssistantID() {
				pinned := *sess
				pinned.SessionRef = prior.SessionRef
				return &pinned, nil
			}
		}
		if sess != nil {
			return sess, nil
		}
	}

	sess, err := d.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up session for %s: %w", id, err)
	}
	return sess, nil
}

// forwardToExtraction hands the reply to the extraction assistant. The
// result arrives on the parse-lead callback.
func (d *Dispatcher) forwardToExtraction(ctx context.Context, id models.Identity, body string) {
	if d.cfg.ExtractionAssistantID == "" {
		return
	}
	d.notifier.BestEffort(ctx, "forward to extraction assistant", func(ctx context.Context) error {
		_, err := d.assistant.SendMessage(ctx, d.cfg.ExtractionAssistantID, assistant.Message{
			Identity: id,
			Body:     body,
			Webhook:  d.callback(PathParseLead),
			Mode:     assistant.ModeEmail,
		})
		return err
	})
}

func duplicateResult(e *models.InboundEmail) *InboundResult {
	return &InboundResult{
		RecordID:       e.ID,
		MessageID:      e.MessageID,
		Identity:       e.Identity,
		SessionRef:     e.SessionRef,
		OriginalMsgRef: e.OriginalMsgRef,
		Duplicate:      true,
	}
}
