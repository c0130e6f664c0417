package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateChat creates a titled chat for the user. An empty title gets a
// timestamp-derived default.
func (s *Store) CreateChat(userID, title, projectID string) (Chat, error) {
	now := time.Now().UTC()
	if title == "" {
		title = "Chat " + now.Format("2006-01-02 15:04")
	}
	chat := Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO chats (id, user_id, title, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.ProjectID,
		chat.CreatedAt.Format(time.RFC3339), chat.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Chat{}, fmt.Errorf("inserting chat: %w", err)
	}
	return chat, nil
}

// GetChat returns the chat if it exists and belongs to the user.
func (s *Store) GetChat(userID, id string) (Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, title, project_id, created_at, updated_at
		FROM chats WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.ProjectID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Chat{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// ListChats returns the user's chats, most recently updated first.
func (s *Store) ListChats(userID string, limit int) ([]Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, project_id, created_at, updated_at
		FROM chats WHERE user_id = ?
		ORDER BY updated_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chat
	for rows.Next() {
		var c Chat
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.ProjectID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// RenameChat updates the chat title. Returns ErrNotFound for unknown or
// cross-user ids.
func (s *Store) RenameChat(userID, id, title string) error {
	res, err := s.db.Exec(`
		UPDATE chats SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, time.Now().UTC().Format(time.RFC3339), id, userID,
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

// DeleteChat removes the chat and its messages.
func (s *Store) DeleteChat(userID, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM chats WHERE id = ? AND user_id = ?`, id, userID)
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
	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE chat_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendChatMessage appends one turn to a chat and bumps the chat's
// updated_at. Only "user" and "assistant" roles are expected; transient UI
// states are never persisted.
func (s *Store) AppendChatMessage(userID, chatID, role, content string) error {
	if _, err := s.GetChat(userID, chatID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO chat_messages (chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`, chatID, role, content, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ChatMessages returns a chat's messages in insertion order.
func (s *Store) ChatMessages(userID, chatID string) ([]ChatMessage, error) {
	if _, err := s.GetChat(userID, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, chat_id, role, content, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY id ASC`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
