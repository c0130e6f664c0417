package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is the fixed lifetime of a session token. There is no sliding
// expiry; the deadline set at creation is final.
const SessionTTL = 30 * 24 * time.Hour

// CreateSession mints a fresh random token for userID and persists it before
// returning. The store is authoritative: the token is only handed out once the
// row exists.
func (s *Store) CreateSession(userID string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(SessionTTL),
		CreatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID,
		sess.ExpiresAt.Format(time.RFC3339), sess.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// ResolveSession looks up a token and returns the owning user id.
// Returns ErrNotFound for an unknown token and ErrSessionExpired for a known
// token past its deadline.
func (s *Store) ResolveSession(token string) (string, error) {
	var userID, expiresAt string
	err := s.db.QueryRow(`SELECT user_id, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	deadline, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return "", fmt.Errorf("parsing expires_at: %w", err)
	}
	if deadline.Before(time.Now()) {
		return "", ErrSessionExpired
	}
	return userID, nil
}
