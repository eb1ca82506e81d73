package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
)

func (s *Store) StoreChallenge(ctx context.Context, challenge storage.Challenge) (int64, error) {
	var userID any
	if challenge.UserID != nil {
		userID = *challenge.UserID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webauthn_challenges (challenge, user_id, user_handle, email, challenge_type, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		challenge.Challenge, userID, challenge.UserHandle, challenge.Email, challenge.Type,
		toMillis(challenge.ExpiresAt), toMillis(challenge.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicate
		}
		return 0, fmt.Errorf("insert challenge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert challenge id: %w", err)
	}
	return id, nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, value []byte, now time.Time) (storage.Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("begin consume challenge: %w", err)
	}
	defer tx.Rollback()

	var c storage.Challenge
	var userID sql.NullInt64
	var expiresAt, createdAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, challenge, user_id, user_handle, email, challenge_type, expires_at, created_at
		FROM webauthn_challenges
		WHERE challenge = ? AND expires_at > ?`,
		value, toMillis(now)).Scan(&c.ID, &c.Challenge, &userID, &c.UserHandle, &c.Email, &c.Type, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Challenge{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("read challenge: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE id = ?`, c.ID)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("delete challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("delete challenge rows: %w", err)
	}
	if n == 0 {
		// Another consumer won the race between read and delete.
		return storage.Challenge{}, storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return storage.Challenge{}, fmt.Errorf("commit consume challenge: %w", err)
	}

	if userID.Valid {
		id := userID.Int64
		c.UserID = &id
	}
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webauthn_challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return res.RowsAffected()
}
