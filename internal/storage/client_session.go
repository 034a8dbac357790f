package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// The client session is a single persisted row: which accounts are logged in
// on this client instance (insertion order, for the account switcher) and
// which one is current. It survives reloads alongside the rest of the data.

func (s *Store) ClientSession(ctx context.Context) (ClientSessionRow, error) {
	if s == nil || s.db == nil {
		return ClientSessionRow{}, fmt.Errorf("db not initialized")
	}
	return getClientSession(ctx, s.db, s.driver)
}

func (s *Store) IsLoggedIn(ctx context.Context) (bool, error) {
	sess, err := s.ClientSession(ctx)
	if err != nil {
		return false, err
	}
	return sess.CurrentUserID != nil, nil
}

// Login marks the user online, adds it to the logged-in set (at most once),
// and makes it the current user.
func (s *Store) Login(ctx context.Context, userID string, nowMs int64) (ClientSessionRow, error) {
	if s == nil || s.db == nil {
		return ClientSessionRow{}, fmt.Errorf("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ClientSessionRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	onlineQ := `UPDATE users SET online = 1, updated_at_ms = ? WHERE id = ?;`
	result, err := tx.ExecContext(ctx, s.rebind(onlineQ), nowMs, userID)
	if err != nil {
		return ClientSessionRow{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ClientSessionRow{}, fmt.Errorf("%w: user", ErrNotFound)
	}

	sess, err := getClientSession(ctx, tx, s.driver)
	if err != nil {
		return ClientSessionRow{}, err
	}

	if !sessionContains(sess, userID) {
		sess.LoggedInUserIDs = append(sess.LoggedInUserIDs, userID)
	}
	sess.CurrentUserID = &userID

	if err := putClientSession(ctx, tx, s.driver, sess); err != nil {
		return ClientSessionRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return ClientSessionRow{}, err
	}

	s.notifyChanged()
	return sess, nil
}

// Logout clears the whole session and marks every previously logged-in user
// offline. Calling it with nothing logged in changes nothing.
func (s *Store) Logout(ctx context.Context, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getClientSession(ctx, tx, s.driver)
	if err != nil {
		return err
	}
	if sess.CurrentUserID == nil && len(sess.LoggedInUserIDs) == 0 {
		return nil
	}

	if len(sess.LoggedInUserIDs) > 0 {
		args := make([]any, 0, len(sess.LoggedInUserIDs)+1)
		args = append(args, nowMs)
		for _, id := range sess.LoggedInUserIDs {
			args = append(args, id)
		}
		offlineQ := `UPDATE users SET online = 0, updated_at_ms = ? WHERE id IN (` +
			placeholders(len(sess.LoggedInUserIDs)) + `);`
		if _, err := tx.ExecContext(ctx, s.rebind(offlineQ), args...); err != nil {
			return err
		}
	}

	if err := putClientSession(ctx, tx, s.driver, ClientSessionRow{}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

// SwitchCurrentUser changes the current account. A user that is not in the
// logged-in set is ignored without error or state change.
func (s *Store) SwitchCurrentUser(ctx context.Context, userID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	sess, err := getClientSession(ctx, s.db, s.driver)
	if err != nil {
		return err
	}
	if !sessionContains(sess, userID) {
		return nil
	}

	sess.CurrentUserID = &userID
	if err := putClientSession(ctx, s.db, s.driver, sess); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

func getClientSession(ctx context.Context, q sqlQueryer, driver string) (ClientSessionRow, error) {
	query := rebindQuery(driver, `SELECT current_user_id, logged_in_user_ids FROM client_session WHERE id = ?;`)

	var current sql.NullString
	var idsJSON string
	if err := q.QueryRowContext(ctx, query, clientSessionRowID).Scan(&current, &idsJSON); err != nil {
		if err == sql.ErrNoRows {
			return ClientSessionRow{}, fmt.Errorf("%w: client session", ErrNotFound)
		}
		return ClientSessionRow{}, err
	}

	var sess ClientSessionRow
	if current.Valid {
		sess.CurrentUserID = &current.String
	}
	if err := json.Unmarshal([]byte(idsJSON), &sess.LoggedInUserIDs); err != nil {
		return ClientSessionRow{}, fmt.Errorf("decode logged_in_user_ids: %w", err)
	}
	return sess, nil
}

func putClientSession(ctx context.Context, exec sqlExecer, driver string, sess ClientSessionRow) error {
	ids := sess.LoggedInUserIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	var currentVal any
	if sess.CurrentUserID != nil {
		currentVal = *sess.CurrentUserID
	}

	query := rebindQuery(driver, `UPDATE client_session SET current_user_id = ?, logged_in_user_ids = ? WHERE id = ?;`)
	_, err = exec.ExecContext(ctx, query, currentVal, string(idsJSON), clientSessionRowID)
	return err
}

func sessionContains(sess ClientSessionRow, userID string) bool {
	for _, id := range sess.LoggedInUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func sessionWithout(sess ClientSessionRow, userID string) ClientSessionRow {
	out := ClientSessionRow{}
	for _, id := range sess.LoggedInUserIDs {
		if id != userID {
			out.LoggedInUserIDs = append(out.LoggedInUserIDs, id)
		}
	}
	if sess.CurrentUserID != nil && *sess.CurrentUserID != userID {
		out.CurrentUserID = sess.CurrentUserID
	}
	return out
}
