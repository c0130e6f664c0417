package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PushQueueItem appends a pending item to the user's delivery queue and
// returns the stored record including the server-assigned id and timestamp.
func (s *Store) PushQueueItem(userID, payloadJSON string) (QueueItem, error) {
	item := QueueItem{
		ID:          uuid.NewString(),
		UserID:      userID,
		PayloadJSON: payloadJSON,
		Status:      QueueStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_queue (id, user_id, payload_json, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.PayloadJSON, item.Status,
		item.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return QueueItem{}, fmt.Errorf("inserting queue item: %w", err)
	}
	return item, nil
}

// OldestPending returns the single oldest pending item for the user, or nil if
// the queue is empty. It does not mutate status, so repeated polls are safe;
// the plugin is expected to call ConfirmQueueItem once it has applied the item.
func (s *Store) OldestPending(userID string) (*QueueItem, error) {
	var item QueueItem
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, payload_json, status, created_at
		FROM sync_queue
		WHERE user_id = ? AND status = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, userID, QueueStatusPending,
	).Scan(&item.ID, &item.UserID, &item.PayloadJSON, &item.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for item %s: %w", item.ID, err)
	}
	return &item, nil
}

// ConfirmQueueItem hard-deletes the item. Returns ErrNotFound if the id does
// not exist for that user, including a second confirm of the same id, which
// is the expected outcome under at-least-once delivery. Cross-user ids are
// indistinguishable from unknown ones.
func (s *Store) ConfirmQueueItem(userID, id string) error {
	res, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkQueueItemError flips the item's status to error, removing it from
// future OldestPending results. The item row is kept for inspection.
func (s *Store) MarkQueueItemError(userID, id string) error {
	res, err := s.db.Exec(`
		UPDATE sync_queue SET status = ? WHERE id = ? AND user_id = ?`,
		QueueStatusError, id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
