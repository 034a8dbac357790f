package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AddMessage appends a user message to a chat. The author must be a member.
// Messages are immutable once written; the only way one disappears is the
// cascade with its chat or its author.
func (s *Store) AddMessage(ctx context.Context, chatID, authorID, text string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}

	isMember, err := s.IsChatMember(ctx, chatID, authorID)
	if err != nil {
		return MessageRow{}, err
	}
	if !isMember {
		return MessageRow{}, ErrAccessDenied
	}

	return s.appendMessage(ctx, chatID, authorID, MessageTypeUser, text, nowMs)
}

// AddBroadcastAnnouncement appends an announcement-typed message to the
// announcements chat, which reaches every user.
func (s *Store) AddBroadcastAnnouncement(ctx context.Context, authorID, text string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}
	return s.appendMessage(ctx, AnnouncementsChatID, authorID, MessageTypeAnnouncement, text, nowMs)
}

func (s *Store) appendMessage(ctx context.Context, chatID, authorID, msgType, text string, nowMs int64) (MessageRow, error) {
	msg := MessageRow{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		AuthorID:    authorID,
		Type:        msgType,
		Text:        text,
		CreatedAtMs: nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	insertQ := `INSERT INTO messages (id, chat_id, author_id, msg_type, text, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(insertQ),
		msg.ID, msg.ChatID, msg.AuthorID, msg.Type, msg.Text, msg.CreatedAtMs,
	); err != nil {
		return MessageRow{}, err
	}

	touchQ := `UPDATE chats SET updated_at_ms = ? WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(touchQ), nowMs, chatID); err != nil {
		return MessageRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return MessageRow{}, err
	}

	s.notifyChanged()
	return msg, nil
}

// ListMessages returns a chat's messages in creation order, newest page
// first when paging backwards with beforeID. The second return value reports
// whether older messages remain.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]MessageRow, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("db not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	var q string
	var args []any

	if beforeID != "" {
		var beforeCreatedAt int64
		subQ := `SELECT created_at_ms FROM messages WHERE id = ?;`
		if err := s.db.QueryRowContext(ctx, s.rebind(subQ), beforeID).Scan(&beforeCreatedAt); err != nil {
			if err == sql.ErrNoRows {
				return nil, false, fmt.Errorf("%w: message", ErrNotFound)
			}
			return nil, false, err
		}

		// Tie-break on id: callers stamp batches with one timestamp, so a
		// cursor on created_at_ms alone would skip same-millisecond siblings.
		q = `SELECT id, chat_id, author_id, msg_type, text, created_at_ms
			FROM messages
			WHERE chat_id = ? AND (created_at_ms < ? OR (created_at_ms = ? AND id < ?))
			ORDER BY created_at_ms DESC, id DESC
			LIMIT ?;`
		args = []any{chatID, beforeCreatedAt, beforeCreatedAt, beforeID, limit + 1}
	} else {
		q = `SELECT id, chat_id, author_id, msg_type, text, created_at_ms
			FROM messages
			WHERE chat_id = ?
			ORDER BY created_at_ms DESC, id DESC
			LIMIT ?;`
		args = []any{chatID, limit + 1}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Type, &m.Text, &m.CreatedAtMs); err != nil {
			return nil, false, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}
