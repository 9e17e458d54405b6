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

package leads

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
	"github.com/leadrelay/orchestrator/internal/outbound"
	"github.com/leadrelay/orchestrator/internal/queue"
)

// GradeRequest is the manager grader's verdict on a drafted email.
type GradeRequest struct {
	Identity             models.Identity
	ManagerScore         string
	OutboundEmailBody    string
	RecommendedEmailBody string
	Subject              string
}

// GradeResult describes a processed grade.
type GradeResult struct {
	Session  *models.Session  `json:"session"`
	Score    float64          `json:"manager_score"`
	Released bool             `json:"released"`
	Email    *outbound.Result `json:"email,omitempty"`
}

// ParseScore reads a manager score. It must be a number in [0, 1].
func ParseScore(raw string) (float64, error) {
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(score) || score < 0 || score > 1 {
		return 0, apperr.Validation("leads.parse_score", apperr.ErrInvalidScore,
			"Invalid manager score - must be between 0 and 1")
	}
	return score, nil
}

// Grade stores the grader's score and draft on the identity's session and
// releases the email when the score reaches outbound.ReleaseThreshold.
// A draft below the threshold stays Draft. A failed send is returned with
// the Draft write kept.
func (p *Pipeline) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	if req.Identity == "" {
		return nil, apperr.Validationf("leads.grade", "X-Identity is required in headers")
	}
	score, err := ParseScore(req.ManagerScore)
	if err != nil {
		return nil, err
	}

	var (
		sess   *models.Session
		latest *models.InboundEmail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if sess, err = p.store.GetSession(gctx, req.Identity); err != nil {
			return fmt.Errorf("looking up session for %s: %w", req.Identity, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if latest, err = p.store.LatestInboundEmail(gctx, req.Identity); err != nil {
			return fmt.Errorf("looking up inbound email for %s: %w", req.Identity, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("leads.grade", apperr.ErrSessionNotFound, "Session not found for given identity")
	}

	updated, err := p.store.UpdateSession(ctx, sess.ID, models.SessionPatch{
		OutboundEmailBody:    models.Ptr(req.OutboundEmailBody),
		RecommendedEmailBody: models.Ptr(req.RecommendedEmailBody),
		ManagerScore:         models.Ptr(score),
		OutboundEmailStatus:  models.Ptr(models.EmailDraft),
		IfUpdatedAt:          models.Ptr(sess.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("recording grade for %s: %w", req.Identity, err)
	}

	res := &GradeResult{Session: updated, Score: score}
	p.notifier.Publish(ctx, queue.NewEvent(queue.EventEmailGraded, req.Identity, *updated))

	log := slog.With("identity", req.Identity, "manager_score", score)
	if !outbound.Passes(score) {
		log.InfoContext(ctx, "draft held below release threshold", "threshold", outbound.ReleaseThreshold)
		return res, nil
	}

	body := req.OutboundEmailBody
	if strings.TrimSpace(body) == "" {
		body = req.RecommendedEmailBody
	}
	send := outbound.Request{Identity: req.Identity, Body: body, Subject: req.Subject}
	if latest != nil {
		send.ThreadID = latest.MessageID
	}

	sent, err := p.mailer.Send(ctx, send)
	if err != nil {
		return nil, err
	}
	res.Email = sent
	res.Released = true

	if updated, err = p.store.UpdateSession(ctx, updated.ID, models.SessionPatch{
		OutboundEmailStatus: models.Ptr(models.EmailSent),
	}); err != nil {
		return nil, fmt.Errorf("marking email sent for %s: %w", req.Identity, err)
	}
	res.Session = updated

	p.notifier.Publish(ctx, queue.NewEvent(queue.EventEmailSent, req.Identity, sent))
	log.InfoContext(ctx, "graded draft released", "thread_id", sent.ThreadID)
	return res, nil
}
