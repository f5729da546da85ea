package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

// SessionStore persists conversation sessions. Get returns (nil, nil) when
// the counterparty has never messaged before.
type SessionStore interface {
	Get(ctx context.Context, clinicID uuid.UUID, phone string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
}

type PgSessionStore struct {
	db scheduling.DB
}

func NewPgSessionStore(db scheduling.DB) *PgSessionStore {
	return &PgSessionStore{db: db}
}

func (s *PgSessionStore) Get(ctx context.Context, clinicID uuid.UUID, phone string) (*Session, error) {
	var sess Session
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT clinic_id, phone, state, context, last_interaction_at
		FROM conversation_sessions
		WHERE clinic_id = $1 AND phone = $2
	`, clinicID, phone).Scan(&sess.ClinicID, &sess.Phone, &sess.State, &raw, &sess.LastInteractionAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sess.Context); err != nil {
			return nil, fmt.Errorf("decode session context: %w", err)
		}
	}
	return &sess, nil
}

// Save upserts the whole row. The context is always written in full so a
// crash between read and write never leaves partial state behind.
func (s *PgSessionStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encode session context: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversation_sessions (clinic_id, phone, state, context, last_interaction_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clinic_id, phone) DO UPDATE
		SET state = EXCLUDED.state,
		    context = EXCLUDED.context,
		    last_interaction_at = EXCLUDED.last_interaction_at
	`, sess.ClinicID, sess.Phone, sess.State, raw, sess.LastInteractionAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ReapStale resets mid-flow sessions whose counterparty went quiet. The
// next inbound message from them starts a fresh conversation instead of
// answering a question asked half an hour ago.
func (s *PgSessionStore) ReapStale(ctx context.Context, idleFor time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversation_sessions
		SET state = $1, context = '{}'
		WHERE state <> $1 AND last_interaction_at < now() - make_interval(secs => $2)
	`, StateIdle, idleFor.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reap stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
