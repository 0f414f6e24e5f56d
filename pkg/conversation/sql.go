package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticketsmith/pkg/logx"
)

// Lease polling bounds.
const (
	minLeasePoll = 25 * time.Millisecond
	maxLeasePoll = 500 * time.Millisecond
)

// SQLStore keeps conversations in the shared sqlite database so several ticketsmith
// processes can serve the same identities. Exclusivity is a lease row with a TTL.
type SQLStore struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
	ttl    time.Duration
}

// NewSQLStore creates a store on db. The conversation tables are created by the
// persistence schema.
func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SQLStore{db: db, ttl: ttl, now: time.Now, logger: logx.NewLogger("conversation")}
}

// Acquire implements Store by polling for the identity's lease with backoff.
func (s *SQLStore) Acquire(ctx context.Context, identity string) (*Session, error) {
	holder := uuid.NewString()
	delay := minLeasePoll

	for {
		won, err := s.tryLease(identity, holder)
		if err != nil {
			return nil, err
		}
		if won {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire conversation %s: %w", identity, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxLeasePoll)
	}

	history, err := s.loadTurns(identity)
	if err != nil {
		s.dropLease(identity, holder)
		return nil, err
	}

	return newSession(identity, history, func(sess *Session, commit bool) error {
		if !commit {
			s.dropLease(identity, holder)
			return nil
		}
		return s.commit(sess, holder)
	}), nil
}

// tryLease takes the lease when it is free or expired.
func (s *SQLStore) tryLease(identity, holder string) (bool, error) {
	now := s.now()
	res, err := s.db.Exec(`INSERT INTO conversation_leases (identity, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE conversation_leases.expires_at <= ?`,
		identity, holder, now.Add(s.ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to take conversation lease for %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to take conversation lease for %s: %w", identity, err)
	}
	return n == 1, nil
}

func (s *SQLStore) dropLease(identity, holder string) {
	if _, err := s.db.Exec(`DELETE FROM conversation_leases WHERE identity = ? AND holder = ?`, identity, holder); err != nil {
		s.logger.Warn("failed to drop conversation lease for %s: %v", identity, err)
	}
}

func (s *SQLStore) loadTurns(identity string) ([]Turn, error) {
	rows, err := s.db.Query(`SELECT role, content FROM conversation_turns WHERE identity = ? ORDER BY id ASC`, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", identity, err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation %s: %w", identity, err)
	}
	return turns, nil
}

// commit writes a session's changes and drops its lease in one transaction.
func (s *SQLStore) commit(sess *Session, holder string) (err error) {
	identity := sess.Identity()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin conversation commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current string
	if err = tx.QueryRow(`SELECT holder FROM conversation_leases WHERE identity = ?`, identity).Scan(&current); err != nil || current != holder {
		err = fmt.Errorf("commit conversation %s: %w", identity, ErrLeaseLost)
		return err
	}

	if sess.cleared {
		if _, err = tx.Exec(`DELETE FROM conversation_turns WHERE identity = ?`, identity); err != nil {
			return fmt.Errorf("failed to clear conversation %s: %w", identity, err)
		}
	}
	created := s.now().UTC().Format(time.RFC3339Nano)
	for _, t := range sess.pending {
		if _, err = tx.Exec(`INSERT INTO conversation_turns (identity, role, content, created_at) VALUES (?, ?, ?, ?)`,
			identity, string(t.Role), t.Content, created); err != nil {
			return fmt.Errorf("failed to append conversation turn for %s: %w", identity, err)
		}
	}
	if _, err = tx.Exec(`DELETE FROM conversation_leases WHERE identity = ? AND holder = ?`, identity, holder); err != nil {
		return fmt.Errorf("failed to release conversation lease for %s: %w", identity, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation %s: %w", identity, err)
	}
	return nil
}
