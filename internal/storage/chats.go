package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FindOrCreateDM returns the direct chat for an unordered pair of users,
// creating it if needed. The sorted-pair hash carries a unique index, so two
// concurrent calls for the same pair converge on one chat: the loser of the
// insert race fetches the winner's row. The second return value reports
// whether this call created the chat.
func (s *Store) FindOrCreateDM(ctx context.Context, userA, userB string, nowMs int64) (ChatRow, bool, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, false, fmt.Errorf("db not initialized")
	}
	if userA == "" || userB == "" {
		return ChatRow{}, false, fmt.Errorf("missing user ids")
	}
	if userA == userB {
		return ChatRow{}, false, ErrCannotChatSelf
	}

	hash := unorderedPairHash(userA, userB)

	existing, err := s.getChatByParticipantsHash(ctx, hash)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return ChatRow{}, false, err
	}

	chat, err := s.createDM(ctx, hash, userA, userB, nowMs)
	if err == nil {
		s.notifyChanged()
		return chat, true, nil
	}
	if !isUniqueViolation(err) {
		return ChatRow{}, false, err
	}

	// Lost the insert race: the winner's chat is committed by now, and
	// createDM has released its transaction, so this fetch does not contend
	// for the pool's connection.
	existing, err = s.getChatByParticipantsHash(ctx, hash)
	if err != nil {
		return ChatRow{}, false, err
	}
	return existing, false, nil
}

func (s *Store) createDM(ctx context.Context, hash, userA, userB string, nowMs int64) (ChatRow, error) {
	chat := ChatRow{
		ID:          uuid.NewString(),
		Type:        ChatTypeDM,
		Members:     []string{userA, userB},
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	insertQ := `INSERT INTO chats (id, chat_type, participants_hash, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(insertQ),
		chat.ID, chat.Type, hash, nowMs, nowMs,
	); err != nil {
		return ChatRow{}, err
	}

	if err := insertChatMembers(ctx, tx, s.driver, chat.ID, chat.Members, nowMs); err != nil {
		return ChatRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return ChatRow{}, err
	}
	return chat, nil
}

// CreateGroupChat creates a named group whose member set is the deduplicated
// union of the creator and the given members.
func (s *Store) CreateGroupChat(ctx context.Context, creatorID string, memberIDs []string, name string, joinPassword *string, nowMs int64) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}
	if creatorID == "" {
		return ChatRow{}, fmt.Errorf("missing creator id")
	}

	members := dedupeIDs(append([]string{creatorID}, memberIDs...))

	chat := ChatRow{
		ID:           uuid.NewString(),
		Type:         ChatTypeGroup,
		Name:         &name,
		CreatorID:    &creatorID,
		JoinPassword: joinPassword,
		Members:      members,
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var passwordVal any
	if joinPassword != nil {
		passwordVal = *joinPassword
	}

	insertQ := `INSERT INTO chats (id, chat_type, name, creator_id, join_password, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(insertQ),
		chat.ID, chat.Type, name, creatorID, passwordVal, nowMs, nowMs,
	); err != nil {
		return ChatRow{}, err
	}

	if err := insertChatMembers(ctx, tx, s.driver, chat.ID, members, nowMs); err != nil {
		return ChatRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return ChatRow{}, err
	}

	s.notifyChanged()
	return chat, nil
}

// UpdateGroupDetails partially updates a group's name and/or join password.
// Passing nil leaves a field untouched.
func (s *Store) UpdateGroupDetails(ctx context.Context, chatID string, name, joinPassword *string, nowMs int64) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}

	chat, err := s.GetChatByID(ctx, chatID)
	if err != nil {
		return ChatRow{}, err
	}
	if chat.Type != ChatTypeGroup {
		return ChatRow{}, fmt.Errorf("%w: not a group chat", ErrInvalidState)
	}

	sets := []string{"updated_at_ms = ?"}
	args := []any{nowMs}
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if joinPassword != nil {
		sets = append(sets, "join_password = ?")
		args = append(args, *joinPassword)
	}
	args = append(args, chatID)

	q := `UPDATE chats SET ` + strings.Join(sets, ", ") + ` WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), args...); err != nil {
		return ChatRow{}, err
	}

	s.notifyChanged()
	return s.GetChatByID(ctx, chatID)
}

// UpdateGroupMembers replaces a group's member list wholesale. An update that
// would leave the group empty is rejected.
func (s *Store) UpdateGroupMembers(ctx context.Context, chatID string, memberIDs []string, nowMs int64) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}

	members := dedupeIDs(memberIDs)
	if len(members) == 0 {
		return ChatRow{}, fmt.Errorf("%w: group needs at least one member", ErrInvalidState)
	}

	chat, err := s.GetChatByID(ctx, chatID)
	if err != nil {
		return ChatRow{}, err
	}
	if chat.Type != ChatTypeGroup {
		return ChatRow{}, fmt.Errorf("%w: not a group chat", ErrInvalidState)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	clearQ := `DELETE FROM chat_members WHERE chat_id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(clearQ), chatID); err != nil {
		return ChatRow{}, err
	}
	if err := insertChatMembers(ctx, tx, s.driver, chatID, members, nowMs); err != nil {
		return ChatRow{}, err
	}

	touchQ := `UPDATE chats SET updated_at_ms = ? WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(touchQ), nowMs, chatID); err != nil {
		return ChatRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return ChatRow{}, err
	}

	s.notifyChanged()
	return s.GetChatByID(ctx, chatID)
}

// DeleteGroup removes a group chat along with its memberships and messages.
// The announcements chat cannot be deleted.
func (s *Store) DeleteGroup(ctx context.Context, chatID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}
	if chatID == AnnouncementsChatID {
		return fmt.Errorf("%w: the announcements chat cannot be deleted", ErrInvalidState)
	}

	chat, err := s.GetChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Type != ChatTypeGroup {
		return fmt.Errorf("%w: not a group chat", ErrInvalidState)
	}

	// Memberships and messages follow via FK cascade.
	q := `DELETE FROM chats WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), chatID); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

func (s *Store) GetChatByID(ctx context.Context, chatID string) (ChatRow, error) {
	if s == nil || s.db == nil {
		return ChatRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, chat_type, name, creator_id, join_password, created_at_ms, updated_at_ms
		FROM chats WHERE id = ?;`
	chat, err := scanChat(s.db.QueryRowContext(ctx, s.rebind(q), chatID))
	if err != nil {
		return ChatRow{}, err
	}

	chat.Members, err = s.chatMembers(ctx, chatID)
	if err != nil {
		return ChatRow{}, err
	}
	return chat, nil
}

// ListChats returns every chat the user belongs to, most recently touched
// first, with member lists attached.
func (s *Store) ListChats(ctx context.Context, userID string) ([]ChatRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT c.id, c.chat_type, c.name, c.creator_id, c.join_password, c.created_at_ms, c.updated_at_ms
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.updated_at_ms DESC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []ChatRow
	for rows.Next() {
		var c ChatRow
		var name, creator, password sql.NullString
		if err := rows.Scan(&c.ID, &c.Type, &name, &creator, &password, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
			return nil, err
		}
		if name.Valid {
			c.Name = &name.String
		}
		if creator.Valid {
			c.CreatorID = &creator.String
		}
		if password.Valid {
			c.JoinPassword = &password.String
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		chats[i].Members, err = s.chatMembers(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return chats, nil
}

func (s *Store) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("db not initialized")
	}

	q := `SELECT 1 FROM chat_members WHERE chat_id = ? AND user_id = ?;`
	var one int
	if err := s.db.QueryRowContext(ctx, s.rebind(q), chatID, userID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return one == 1, nil
}

func (s *Store) chatMembers(ctx context.Context, chatID string) ([]string, error) {
	q := `SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY added_at_ms ASC, user_id ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) getChatByParticipantsHash(ctx context.Context, hash string) (ChatRow, error) {
	q := `SELECT id, chat_type, name, creator_id, join_password, created_at_ms, updated_at_ms
		FROM chats WHERE participants_hash = ?;`
	chat, err := scanChat(s.db.QueryRowContext(ctx, s.rebind(q), hash))
	if err != nil {
		return ChatRow{}, err
	}

	chat.Members, err = s.chatMembers(ctx, chat.ID)
	if err != nil {
		return ChatRow{}, err
	}
	return chat, nil
}

func scanChat(row *sql.Row) (ChatRow, error) {
	var c ChatRow
	var name, creator, password sql.NullString
	if err := row.Scan(&c.ID, &c.Type, &name, &creator, &password, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return ChatRow{}, fmt.Errorf("%w: chat", ErrNotFound)
		}
		return ChatRow{}, err
	}
	if name.Valid {
		c.Name = &name.String
	}
	if creator.Valid {
		c.CreatorID = &creator.String
	}
	if password.Valid {
		c.JoinPassword = &password.String
	}
	return c, nil
}

func insertChatMembers(ctx context.Context, exec sqlExecer, driver, chatID string, memberIDs []string, nowMs int64) error {
	query := rebindQuery(driver, `INSERT INTO chat_members (chat_id, user_id, added_at_ms) VALUES (?, ?, ?);`)
	for _, userID := range memberIDs {
		if _, err := exec.ExecContext(ctx, query, chatID, userID, nowMs); err != nil {
			return err
		}
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
