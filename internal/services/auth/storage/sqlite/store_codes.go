package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/storage"
)

func (s *Store) CreateCode(ctx context.Context, code storage.VerificationCode) (storage.VerificationCode, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO email_verification_codes (email, code, expires_at, verified, superseded, attempts, created_at)
		VALUES (?, ?, ?, 0, 0, 0, ?)`,
		code.Email, code.Code, toMillis(code.ExpiresAt), toMillis(code.CreatedAt))
	if err != nil {
		return storage.VerificationCode{}, fmt.Errorf("insert verification code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storage.VerificationCode{}, fmt.Errorf("insert verification code id: %w", err)
	}
	code.ID = id
	return code, nil
}

func (s *Store) LatestActiveCode(ctx context.Context, email string, now time.Time) (storage.VerificationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, code, expires_at, verified, superseded, attempts, created_at
		FROM email_verification_codes
		WHERE lower(email) = lower(?) AND verified = 0 AND superseded = 0 AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, email, toMillis(now))

	var c storage.VerificationCode
	var expiresAt, createdAt int64
	err := row.Scan(&c.ID, &c.Email, &c.Code, &expiresAt, &c.Verified, &c.Superseded, &c.Attempts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.VerificationCode{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.VerificationCode{}, fmt.Errorf("scan verification code: %w", err)
	}
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (s *Store) CountCodesSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_verification_codes
		WHERE lower(email) = lower(?) AND created_at >= ?`,
		email, toMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count verification codes: %w", err)
	}
	return count, nil
}

func (s *Store) SupersedeActiveCodes(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_verification_codes SET superseded = 1
		WHERE lower(email) = lower(?) AND verified = 0 AND superseded = 0`, email)
	if err != nil {
		return fmt.Errorf("supersede active codes: %w", err)
	}
	return nil
}

func (s *Store) IncrementAttempts(ctx context.Context, codeID int64) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_verification_codes SET attempts = attempts + 1 WHERE id = ?`, codeID)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	var attempts int
	err = s.db.QueryRowContext(ctx, `
		SELECT attempts FROM email_verification_codes WHERE id = ?`, codeID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) MarkVerified(ctx context.Context, codeID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_verification_codes SET verified = 1 WHERE id = ?`, codeID)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark verified rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCode(ctx context.Context, codeID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM email_verification_codes WHERE id = ?`, codeID)
	if err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM email_verification_codes WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	return res.RowsAffected()
}
