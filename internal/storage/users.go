package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const recoveryTokenTTL = 10 * time.Minute

const userColumns = `id, username, password_hash, avatar, bio, email, phone, online, is_admin,
	message_limit, recovery_token, recovery_token_expires_at_ms,
	verification_status, badge_type, badge_expires_at_ms,
	wallet_balance, is_frozen, frozen_until_ms, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(r rowScanner) (UserRow, error) {
	var u UserRow
	var online, isAdmin, isFrozen int
	var messageLimit, recoveryExpiry, badgeExpiry, frozenUntil sql.NullInt64
	var recoveryToken, badgeType sql.NullString

	if err := r.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.Bio, &u.Email, &u.Phone,
		&online, &isAdmin,
		&messageLimit, &recoveryToken, &recoveryExpiry,
		&u.VerificationStatus, &badgeType, &badgeExpiry,
		&u.WalletBalance, &isFrozen, &frozenUntil, &u.CreatedAtMs, &u.UpdatedAtMs,
	); err != nil {
		return UserRow{}, err
	}

	u.Online = online != 0
	u.IsAdmin = isAdmin != 0
	u.IsFrozen = isFrozen != 0
	if messageLimit.Valid {
		u.MessageLimit = &messageLimit.Int64
	}
	if recoveryToken.Valid {
		u.RecoveryToken = &recoveryToken.String
	}
	if recoveryExpiry.Valid {
		u.RecoveryTokenExpiresAtMs = &recoveryExpiry.Int64
	}
	if badgeType.Valid {
		u.BadgeType = &badgeType.String
	}
	if badgeExpiry.Valid {
		u.BadgeExpiresAtMs = &badgeExpiry.Int64
	}
	return u, nil
}

type CreateUserParams struct {
	Username string
	Password string
	Avatar   string
	Bio      string
	Email    string
	Phone    string
	IsAdmin  bool
}

// CreateUser registers a new account with a zero wallet balance, empty
// inventory, and no verification, and joins it to the announcements chat.
// Username uniqueness is case-insensitive.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}
	if strings.TrimSpace(p.Username) == "" {
		return UserRow{}, fmt.Errorf("username must not be empty")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserRow{}, err
	}

	user := UserRow{
		ID:                 uuid.NewString(),
		Username:           p.Username,
		PasswordHash:       string(passwordHash),
		Avatar:             p.Avatar,
		Bio:                p.Bio,
		Email:              p.Email,
		Phone:              p.Phone,
		IsAdmin:            p.IsAdmin,
		VerificationStatus: VerificationStatusNone,
		CreatedAtMs:        nowMs,
		UpdatedAtMs:        nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UserRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	insertQ := `INSERT INTO users (id, username, username_lower, password_hash, avatar, bio, email, phone,
			is_admin, verification_status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(insertQ),
		user.ID, user.Username, strings.ToLower(user.Username), user.PasswordHash,
		user.Avatar, user.Bio, user.Email, user.Phone,
		boolToInt(user.IsAdmin), user.VerificationStatus, nowMs, nowMs,
	); err != nil {
		if isUniqueViolation(err) {
			return UserRow{}, ErrUsernameExists
		}
		return UserRow{}, err
	}

	memberQ := `INSERT INTO chat_members (chat_id, user_id, added_at_ms) VALUES (?, ?, ?);`
	if _, err := tx.ExecContext(ctx, s.rebind(memberQ), AnnouncementsChatID, user.ID, nowMs); err != nil {
		return UserRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return UserRow{}, err
	}

	s.notifyChanged()
	return user, nil
}

// Authenticate matches the username case-insensitively and verifies the
// password. On any mismatch it returns ErrInvalidCredentials without
// revealing which field was wrong.
func (s *Store) Authenticate(ctx context.Context, username, password string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE username_lower = ?;`
	user, err := scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), strings.ToLower(username)))
	if err != nil {
		if err == sql.ErrNoRows {
			return UserRow{}, ErrInvalidCredentials
		}
		return UserRow{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return UserRow{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE id = ?;`
	user, err := scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return UserRow{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return UserRow{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]UserRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users ORDER BY username_lower ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRow
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

type ProfileUpdate struct {
	Avatar *string
	Bio    *string
	Email  *string
	Phone  *string
}

func (s *Store) UpdateUserProfile(ctx context.Context, userID string, upd ProfileUpdate, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	sets := []string{"updated_at_ms = ?"}
	args := []any{nowMs}
	if upd.Avatar != nil {
		sets = append(sets, "avatar = ?")
		args = append(args, *upd.Avatar)
	}
	if upd.Bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *upd.Bio)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *upd.Phone)
	}
	args = append(args, userID)

	q := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return UserRow{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return UserRow{}, fmt.Errorf("%w: user", ErrNotFound)
	}

	s.notifyChanged()
	return s.GetUserByID(ctx, userID)
}

func (s *Store) SetMessageLimit(ctx context.Context, userID string, limit *int64, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	var limitVal any
	if limit != nil {
		limitVal = *limit
	}

	q := `UPDATE users SET message_limit = ?, updated_at_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), limitVal, nowMs, userID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: user", ErrNotFound)
	}

	s.notifyChanged()
	return nil
}

// GeneratePasswordRecoveryToken mints a single-use token for the first user
// holding the given email address and stamps a 10-minute expiry on it.
// Delivering the token to the user is the caller's problem.
func (s *Store) GeneratePasswordRecoveryToken(ctx context.Context, email string, nowMs int64) (UserRow, string, error) {
	if s == nil || s.db == nil {
		return UserRow{}, "", fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE email = ? ORDER BY created_at_ms ASC LIMIT 1;`
	user, err := scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), email))
	if err != nil {
		if err == sql.ErrNoRows {
			return UserRow{}, "", fmt.Errorf("%w: user", ErrNotFound)
		}
		return UserRow{}, "", err
	}

	token, err := generateRecoveryToken()
	if err != nil {
		return UserRow{}, "", err
	}
	expiresAtMs := nowMs + recoveryTokenTTL.Milliseconds()

	updateQ := `UPDATE users SET recovery_token = ?, recovery_token_expires_at_ms = ?, updated_at_ms = ? WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(updateQ), token, expiresAtMs, nowMs, user.ID); err != nil {
		return UserRow{}, "", err
	}

	user.RecoveryToken = &token
	user.RecoveryTokenExpiresAtMs = &expiresAtMs

	s.notifyChanged()
	return user, token, nil
}

// ResetPasswordWithToken redeems a recovery token. An expired token is
// cleared as a side effect so a retry with the same token also fails.
func (s *Store) ResetPasswordWithToken(ctx context.Context, token, newPassword string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}
	if token == "" {
		return ErrTokenInvalid
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE recovery_token = ?;`
	user, err := scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), token))
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrTokenInvalid
		}
		return err
	}

	if user.RecoveryTokenExpiresAtMs == nil || nowMs > *user.RecoveryTokenExpiresAtMs {
		clearQ := `UPDATE users SET recovery_token = NULL, recovery_token_expires_at_ms = NULL, updated_at_ms = ?
			WHERE id = ? AND recovery_token = ?;`
		result, err := s.db.ExecContext(ctx, s.rebind(clearQ), nowMs, user.ID, token)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			// Someone else consumed it between the lookup and here.
			return ErrTokenInvalid
		}
		s.notifyChanged()
		return ErrTokenExpired
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := consumeRecoveryToken(ctx, s.db, s.driver, user.ID, token, string(passwordHash), nowMs); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

// consumeRecoveryToken redeems a token with the token value itself in the
// predicate, so of two concurrent redemptions only one can win; the loser's
// update matches zero rows.
func consumeRecoveryToken(ctx context.Context, exec sqlExecer, driver, userID, token, passwordHash string, nowMs int64) error {
	q := rebindQuery(driver, `UPDATE users SET password_hash = ?, recovery_token = NULL, recovery_token_expires_at_ms = NULL, updated_at_ms = ?
		WHERE id = ? AND recovery_token = ?;`)
	result, err := exec.ExecContext(ctx, q, passwordHash, nowMs, userID, token)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrTokenInvalid
	}
	return nil
}

// DeleteUser removes an account and everything hanging off it: connections in
// either direction, authored messages, inventory and customization, the
// client-session entry, and chat memberships. A DM left with fewer than two
// members or a group left empty is deleted along with its messages; the
// announcements chat only ever loses the membership.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	existsQ := `SELECT 1 FROM users WHERE id = ?;`
	if err := tx.QueryRowContext(ctx, s.rebind(existsQ), userID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: user", ErrNotFound)
		}
		return err
	}

	connQ := `DELETE FROM connections WHERE from_user_id = ? OR to_user_id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(connQ), userID, userID); err != nil {
		return err
	}

	type memberChat struct {
		chatID      string
		chatType    string
		memberCount int
	}
	listQ := `SELECT c.id, c.chat_type, (SELECT COUNT(*) FROM chat_members m2 WHERE m2.chat_id = c.id)
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?;`
	rows, err := tx.QueryContext(ctx, s.rebind(listQ), userID)
	if err != nil {
		return err
	}
	var chats []memberChat
	for rows.Next() {
		var mc memberChat
		if err := rows.Scan(&mc.chatID, &mc.chatType, &mc.memberCount); err != nil {
			rows.Close()
			return err
		}
		chats = append(chats, mc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, mc := range chats {
		remaining := mc.memberCount - 1
		drop := (mc.chatType == ChatTypeDM && remaining < 2) ||
			(mc.chatType == ChatTypeGroup && remaining == 0)
		if drop && mc.chatID != AnnouncementsChatID {
			// Messages and memberships go with the chat (FK cascade).
			delQ := `DELETE FROM chats WHERE id = ?;`
			if _, err := tx.ExecContext(ctx, s.rebind(delQ), mc.chatID); err != nil {
				return err
			}
			continue
		}
		leaveQ := `DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?;`
		if _, err := tx.ExecContext(ctx, s.rebind(leaveQ), mc.chatID, userID); err != nil {
			return err
		}
	}

	msgQ := `DELETE FROM messages WHERE author_id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(msgQ), userID); err != nil {
		return err
	}

	sess, err := getClientSession(ctx, tx, s.driver)
	if err != nil {
		return err
	}
	if sessionContains(sess, userID) || (sess.CurrentUserID != nil && *sess.CurrentUserID == userID) {
		sess = sessionWithout(sess, userID)
		if err := putClientSession(ctx, tx, s.driver, sess); err != nil {
			return err
		}
	}

	// Inventory and customization rows go via FK cascade with the user row.
	userQ := `DELETE FROM users WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, s.rebind(userQ), userID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

func generateRecoveryToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
