package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// unorderedPairHash keys an unordered pair of user IDs. Connections and DM
// chats both use it to enforce at-most-one record per pair regardless of
// direction.
func unorderedPairHash(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	h := sha256.Sum256([]byte(ids[0] + ":" + ids[1]))
	return hex.EncodeToString(h[:])
}

func validConnectionStatus(status string) bool {
	switch status {
	case ConnectionStatusPending, ConnectionStatusAccepted, ConnectionStatusRejected, ConnectionStatusBlocked:
		return true
	default:
		return false
	}
}

// AddConnection files a pending request from one user to another. A
// connection already existing between the pair in either direction is
// reported as ErrConnectionExists.
func (s *Store) AddConnection(ctx context.Context, fromUserID, toUserID string, nowMs int64) (ConnectionRow, error) {
	if s == nil || s.db == nil {
		return ConnectionRow{}, fmt.Errorf("db not initialized")
	}
	if fromUserID == "" || toUserID == "" {
		return ConnectionRow{}, fmt.Errorf("missing user ids")
	}
	if fromUserID == toUserID {
		return ConnectionRow{}, ErrCannotChatSelf
	}

	conn := ConnectionRow{
		ID:            uuid.NewString(),
		FromUserID:    fromUserID,
		ToUserID:      toUserID,
		Status:        ConnectionStatusPending,
		RequestedAtMs: nowMs,
		UpdatedAtMs:   nowMs,
	}

	insertQ := `INSERT INTO connections (id, from_user_id, to_user_id, pair_hash, status, requested_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(insertQ),
		conn.ID, conn.FromUserID, conn.ToUserID, unorderedPairHash(fromUserID, toUserID),
		conn.Status, conn.RequestedAtMs, conn.UpdatedAtMs,
	); err != nil {
		if isUniqueViolation(err) {
			return ConnectionRow{}, ErrConnectionExists
		}
		return ConnectionRow{}, err
	}

	s.notifyChanged()
	return conn, nil
}

// UpdateConnection moves a request to a new lifecycle status. When the new
// status is accepted, the caller is responsible for ensuring a DM exists
// between the two parties (FindOrCreateDM); this subsystem does not create
// chats on its own.
func (s *Store) UpdateConnection(ctx context.Context, connectionID, status string, nowMs int64) (ConnectionRow, error) {
	if s == nil || s.db == nil {
		return ConnectionRow{}, fmt.Errorf("db not initialized")
	}
	if !validConnectionStatus(status) {
		return ConnectionRow{}, fmt.Errorf("%w: connection status %q", ErrInvalidState, status)
	}

	updateQ := `UPDATE connections SET status = ?, updated_at_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(updateQ), status, nowMs, connectionID)
	if err != nil {
		return ConnectionRow{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ConnectionRow{}, fmt.Errorf("%w: connection", ErrNotFound)
	}

	s.notifyChanged()
	return s.getConnectionByID(ctx, connectionID)
}

func (s *Store) DeleteConnection(ctx context.Context, connectionID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `DELETE FROM connections WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), connectionID); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

// AdminForceConnectionStatus bypasses the request lifecycle: an existing
// connection between the pair (either direction) is moved to the target
// status, otherwise one is created directly in it.
func (s *Store) AdminForceConnectionStatus(ctx context.Context, fromUserID, toUserID, status string, nowMs int64) (ConnectionRow, error) {
	if s == nil || s.db == nil {
		return ConnectionRow{}, fmt.Errorf("db not initialized")
	}
	if !validConnectionStatus(status) {
		return ConnectionRow{}, fmt.Errorf("%w: connection status %q", ErrInvalidState, status)
	}
	if fromUserID == toUserID {
		return ConnectionRow{}, ErrCannotChatSelf
	}

	existing, err := s.GetConnectionBetween(ctx, fromUserID, toUserID)
	if err == nil {
		return s.UpdateConnection(ctx, existing.ID, status, nowMs)
	}
	if !isNotFound(err) {
		return ConnectionRow{}, err
	}

	conn := ConnectionRow{
		ID:            uuid.NewString(),
		FromUserID:    fromUserID,
		ToUserID:      toUserID,
		Status:        status,
		RequestedAtMs: nowMs,
		UpdatedAtMs:   nowMs,
	}

	insertQ := `INSERT INTO connections (id, from_user_id, to_user_id, pair_hash, status, requested_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(insertQ),
		conn.ID, conn.FromUserID, conn.ToUserID, unorderedPairHash(fromUserID, toUserID),
		conn.Status, conn.RequestedAtMs, conn.UpdatedAtMs,
	); err != nil {
		return ConnectionRow{}, err
	}

	s.notifyChanged()
	return conn, nil
}

// GetConnectionBetween looks up the single connection for an unordered pair.
func (s *Store) GetConnectionBetween(ctx context.Context, userA, userB string) (ConnectionRow, error) {
	if s == nil || s.db == nil {
		return ConnectionRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, from_user_id, to_user_id, status, requested_at_ms, updated_at_ms
		FROM connections WHERE pair_hash = ?;`
	return scanConnection(s.db.QueryRowContext(ctx, s.rebind(q), unorderedPairHash(userA, userB)))
}

func (s *Store) ListConnections(ctx context.Context, userID string) ([]ConnectionRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, from_user_id, to_user_id, status, requested_at_ms, updated_at_ms
		FROM connections
		WHERE from_user_id = ? OR to_user_id = ?
		ORDER BY updated_at_ms DESC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConnectionRow
	for rows.Next() {
		var c ConnectionRow
		if err := rows.Scan(&c.ID, &c.FromUserID, &c.ToUserID, &c.Status, &c.RequestedAtMs, &c.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getConnectionByID(ctx context.Context, connectionID string) (ConnectionRow, error) {
	q := `SELECT id, from_user_id, to_user_id, status, requested_at_ms, updated_at_ms
		FROM connections WHERE id = ?;`
	return scanConnection(s.db.QueryRowContext(ctx, s.rebind(q), connectionID))
}

func scanConnection(row *sql.Row) (ConnectionRow, error) {
	var c ConnectionRow
	if err := row.Scan(&c.ID, &c.FromUserID, &c.ToUserID, &c.Status, &c.RequestedAtMs, &c.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return ConnectionRow{}, fmt.Errorf("%w: connection", ErrNotFound)
		}
		return ConnectionRow{}, err
	}
	return c, nil
}
