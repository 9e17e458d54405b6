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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadrelay/orchestrator/internal/apperr"
	"github.com/leadrelay/orchestrator/internal/models"
)

// Postgres is a LeadStore backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store backed by the given pool and ensures the
// schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("ensure lead schema: %w", err)
	}
	slog.Info("lead store initialised")
	return s, nil
}

// Connect opens a pool for databaseURL and wraps it in a store.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id                     TEXT PRIMARY KEY,
			session_source         TEXT NOT NULL DEFAULT '',
			session_id             TEXT NOT NULL DEFAULT '',
			assistant_id           TEXT NOT NULL DEFAULT '',
			identity               TEXT NOT NULL,
			state                  TEXT NOT NULL DEFAULT '',
			subject                TEXT NOT NULL DEFAULT '',
			last_message           TEXT NOT NULL DEFAULT '',
			outbound_email_body    TEXT NOT NULL DEFAULT '',
			recommended_email_body TEXT NOT NULL DEFAULT '',
			manager_score          DOUBLE PRECISION,
			outbound_email_status  TEXT NOT NULL DEFAULT '',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity, created_at DESC);

		CREATE TABLE IF NOT EXISTS inbound_emails (
			id               TEXT PRIMARY KEY,
			message_id       TEXT NOT NULL UNIQUE,
			session_source   TEXT NOT NULL DEFAULT '',
			session_id       TEXT NOT NULL DEFAULT '',
			subject          TEXT NOT NULL DEFAULT '',
			message          TEXT NOT NULL DEFAULT '',
			original_msg_ref TEXT NOT NULL DEFAULT '',
			identity         TEXT NOT NULL,
			dispatched_at    TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE inbound_emails ADD COLUMN IF NOT EXISTS dispatched_at TIMESTAMPTZ;
		CREATE INDEX IF NOT EXISTS idx_inbound_identity ON inbound_emails(identity, created_at DESC);

		CREATE TABLE IF NOT EXISTS leads (
			id                          TEXT PRIMARY KEY,
			first_name                  TEXT NOT NULL DEFAULT '',
			last_name                   TEXT NOT NULL DEFAULT '',
			email                       TEXT NOT NULL DEFAULT '',
			phone                       TEXT NOT NULL DEFAULT '',
			area_code                   TEXT NOT NULL DEFAULT '',
			interest                    TEXT NOT NULL DEFAULT '',
			summary                     TEXT NOT NULL DEFAULT '',
			original_body               TEXT NOT NULL DEFAULT '',
			company                     TEXT NOT NULL DEFAULT '',
			last_message_id             TEXT NOT NULL DEFAULT '',
			status                      TEXT NOT NULL DEFAULT 'New',
			conversation_session_source TEXT NOT NULL DEFAULT '',
			conversation_session_id     TEXT NOT NULL DEFAULT '',
			handled_message_id          TEXT NOT NULL DEFAULT '',
			created_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE leads ADD COLUMN IF NOT EXISTS handled_message_id TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_leads_last_message ON leads(last_message_id);
		CREATE INDEX IF NOT EXISTS idx_leads_conversation ON leads(conversation_session_id);
		CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(LOWER(email));
	`)
	return err
}

const sessionColumns = `id, session_source, session_id, assistant_id, identity, state, subject,
	last_message, outbound_email_body, recommended_email_body, manager_score,
	outbound_email_status, created_at, updated_at`

const inboundColumns = `id, message_id, session_source, session_id, subject, message,
	original_msg_ref, identity, dispatched_at, created_at, updated_at`

const leadColumns = `id, first_name, last_name, email, phone, area_code, interest, summary,
	original_body, company, last_message_id, status, conversation_session_source,
	conversation_session_id, handled_message_id, created_at, updated_at`

func (s *Postgres) GetSession(ctx context.Context, id models.Identity) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, string(id))
	return scanSession(row)
}

func (s *Postgres) CreateSession(ctx context.Context, sess models.Session) (*models.Session, error) {
	sess.ID = uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions
			(id, session_source, session_id, assistant_id, identity, state, subject,
			 last_message, outbound_email_body, recommended_email_body, manager_score,
			 outbound_email_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+sessionColumns,
		sess.ID, string(sess.SessionRef.Source), sess.SessionRef.RawID, sess.AssistantID,
		string(sess.Identity), string(sess.State), sess.Subject, sess.LastMessage,
		sess.OutboundEmailBody, sess.RecommendedEmailBody, sess.ManagerScore,
		string(sess.OutboundEmailStatus))
	return scanSession(row)
}

// UpdateSession reads the row under FOR UPDATE, merges the patch and writes
// it back in one transaction.
func (s *Postgres) UpdateSession(ctx context.Context, id string, patch models.SessionPatch) (*models.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.NotFound("store.update_session", apperr.ErrSessionNotFound, "session "+id+" not found")
	}
	if patch.IfUpdatedAt != nil && !patch.IfUpdatedAt.Equal(cur.UpdatedAt) {
		return nil, apperr.Conflict("store.update_session", "session "+id+" was modified concurrently")
	}

	patch.Apply(cur)
	updated, err := scanSession(tx.QueryRow(ctx, `
		UPDATE sessions SET
			session_source = $2, session_id = $3, assistant_id = $4, state = $5,
			subject = $6, last_message = $7, outbound_email_body = $8,
			recommended_email_body = $9, manager_score = $10,
			outbound_email_status = $11,
			updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, string(cur.SessionRef.Source), cur.SessionRef.RawID, cur.AssistantID,
		string(cur.State), cur.Subject, cur.LastMessage, cur.OutboundEmailBody,
		cur.RecommendedEmailBody, cur.ManagerScore, string(cur.OutboundEmailStatus)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return updated, nil
}

func (s *Postgres) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE $1::text = '' OR identity = $1::text
		ORDER BY created_at DESC
		LIMIT $2
	`, string(f.Identity), limitOrDefault(f.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Postgres) GetInboundEmailByMessageID(ctx context.Context, messageID string) (*models.InboundEmail, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+inboundColumns+` FROM inbound_emails WHERE message_id = $1
	`, messageID)
	return scanInbound(row)
}

func (s *Postgres) LatestInboundEmail(ctx context.Context, id models.Identity) (*models.InboundEmail, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+inboundColumns+`
		FROM inbound_emails
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, string(id))
	return scanInbound(row)
}

func (s *Postgres) CreateInboundEmail(ctx context.Context, e models.InboundEmail) (*models.InboundEmail, error) {
	e.ID = uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_emails
			(id, message_id, session_source, session_id, subject, message, original_msg_ref, identity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+inboundColumns,
		e.ID, e.MessageID, string(e.SessionRef.Source), e.SessionRef.RawID, e.Subject,
		e.Message, e.OriginalMsgRef, string(e.Identity))
	created, err := scanInbound(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("create inbound email %s: %w", e.MessageID, ErrDuplicateMessage)
	}
	return created, err
}

func (s *Postgres) MarkInboundDispatched(ctx context.Context, id string, ref models.SessionRef) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_emails
		SET session_source = CASE WHEN $3 = '' THEN session_source ELSE $2 END,
		    session_id = CASE WHEN $3 = '' THEN session_id ELSE $3 END,
		    dispatched_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(ref.Source), ref.RawID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("store.mark_inbound_dispatched", nil, "inbound email "+id+" not found")
	}
	return nil
}

func (s *Postgres) AttachInboundSession(ctx context.Context, id models.Identity, ref models.SessionRef) (*models.InboundEmail, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE inbound_emails
		SET session_source = $2, session_id = $3, updated_at = NOW()
		WHERE id = (
			SELECT id FROM inbound_emails
			WHERE identity = $1 AND session_id = ''
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+inboundColumns,
		string(id), string(ref.Source), ref.RawID)
	return scanInbound(row)
}

func (s *Postgres) CreateLead(ctx context.Context, l models.Lead) (*models.Lead, error) {
	l.ID = uuid.NewString()
	if l.Status == "" {
		l.Status = models.LeadNew
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads
			(id, first_name, last_name, email, phone, area_code, interest, summary,
			 original_body, company, last_message_id, status,
			 conversation_session_source, conversation_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+leadColumns,
		l.ID, l.FirstName, l.LastName, l.Email, l.Phone, l.AreaCode, l.Interest, l.Summary,
		l.OriginalBody, l.Company, l.LastMessageID, string(l.Status),
		string(l.ConversationSession.Source), l.ConversationSession.RawID)
	return scanLead(row)
}

func (s *Postgres) UpdateLead(ctx context.Context, id string, patch models.LeadPatch) (*models.Lead, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lead update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := scanLead(tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.NotFound("store.update_lead", apperr.ErrLeadNotFound, "lead "+id+" not found")
	}

	patch.Apply(cur)
	updated, err := scanLead(tx.QueryRow(ctx, `
		UPDATE leads SET
			status = $2, conversation_session_source = $3, conversation_session_id = $4,
			last_message_id = $5, summary = $6, handled_message_id = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+leadColumns,
		id, string(cur.Status), string(cur.ConversationSession.Source),
		cur.ConversationSession.RawID, cur.LastMessageID, cur.Summary, cur.HandledMessageID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lead update: %w", err)
	}
	return updated, nil
}

func (s *Postgres) GetLeadByLastMessageID(ctx context.Context, messageID string) (*models.Lead, error) {
	if messageID == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE last_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, messageID)
	return scanLead(row)
}

func (s *Postgres) GetLeadByConversationSession(ctx context.Context, ref models.SessionRef) (*models.Lead, error) {
	if ref.IsZero() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE conversation_session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ref.AssistantID())
	return scanLead(row)
}

func (s *Postgres) FindLead(ctx context.Context, email, phone string) (*models.Lead, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE ($1::text <> '' AND LOWER(email) = LOWER($1::text)) OR ($2::text <> '' AND phone = $2::text)
		ORDER BY created_at DESC
		LIMIT 1
	`, email, phone)
	return scanLead(row)
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() { s.pool.Close() }

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		sess    models.Session
		source  string
		ident   string
		state   string
		emailSt string
	)
	err := row.Scan(
		&sess.ID, &source, &sess.SessionRef.RawID, &sess.AssistantID, &ident, &state,
		&sess.Subject, &sess.LastMessage, &sess.OutboundEmailBody, &sess.RecommendedEmailBody,
		&sess.ManagerScore, &emailSt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.SessionRef.Source = models.SessionSource(source)
	sess.Identity = models.Identity(ident)
	sess.State = models.ConversationState(state)
	sess.OutboundEmailStatus = models.EmailStatus(emailSt)
	return &sess, nil
}

func scanInbound(row pgx.Row) (*models.InboundEmail, error) {
	var (
		e      models.InboundEmail
		source string
		ident  string
	)
	err := row.Scan(
		&e.ID, &e.MessageID, &source, &e.SessionRef.RawID, &e.Subject, &e.Message,
		&e.OriginalMsgRef, &ident, &e.DispatchedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.SessionRef.Source = models.SessionSource(source)
	e.Identity = models.Identity(ident)
	return &e, nil
}

func scanLead(row pgx.Row) (*models.Lead, error) {
	var (
		l      models.Lead
		status string
		source string
	)
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.AreaCode, &l.Interest,
		&l.Summary, &l.OriginalBody, &l.Company, &l.LastMessageID, &status, &source,
		&l.ConversationSession.RawID, &l.HandledMessageID, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Status = models.LeadStatus(status)
	l.ConversationSession.Source = models.SessionSource(source)
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
