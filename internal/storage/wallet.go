package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Every money-moving operation in this file commits the balance changes and
// the ledger append in one transaction, or not at all. Ledger rows are
// append-only and never mutated.

// TransferFunds moves amount from one user's wallet to another's and records
// a transfer in the ledger. A frozen sender (with no expiry, or one still in
// the future) cannot transfer; a wallet can never go negative.
func (s *Store) TransferFunds(ctx context.Context, fromUserID, toUserID string, amount int64, description string, nowMs int64) (TransactionRow, error) {
	if s == nil || s.db == nil {
		return TransactionRow{}, fmt.Errorf("db not initialized")
	}
	if amount <= 0 {
		return TransactionRow{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransactionRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	from, err := getUserFundsState(ctx, tx, s.driver, fromUserID)
	if err != nil {
		return TransactionRow{}, err
	}
	if from.frozen && (from.frozenUntilMs == nil || *from.frozenUntilMs > nowMs) {
		return TransactionRow{}, ErrAccountFrozen
	}
	if from.balance < amount {
		return TransactionRow{}, ErrInsufficientFunds
	}

	if err := adjustBalance(ctx, tx, s.driver, fromUserID, -amount, nowMs); err != nil {
		return TransactionRow{}, err
	}
	if err := adjustBalance(ctx, tx, s.driver, toUserID, amount, nowMs); err != nil {
		return TransactionRow{}, err
	}

	row, err := appendLedger(ctx, tx, s.driver, TransactionTypeTransfer, fromUserID, toUserID, amount, description, nowMs)
	if err != nil {
		return TransactionRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransactionRow{}, err
	}

	s.notifyChanged()
	return row, nil
}

// AdminGrantFunds credits a wallet out of thin air and records an admin_grant
// with the sentinel sender. No freeze or balance check applies; the grantor
// is not a real account.
func (s *Store) AdminGrantFunds(ctx context.Context, toUserID string, amount int64, description string, nowMs int64) (TransactionRow, error) {
	if s == nil || s.db == nil {
		return TransactionRow{}, fmt.Errorf("db not initialized")
	}
	if amount <= 0 {
		return TransactionRow{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransactionRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adjustBalance(ctx, tx, s.driver, toUserID, amount, nowMs); err != nil {
		return TransactionRow{}, err
	}

	row, err := appendLedger(ctx, tx, s.driver, TransactionTypeAdminGrant, SenderAdminGrant, toUserID, amount, description, nowMs)
	if err != nil {
		return TransactionRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransactionRow{}, err
	}

	s.notifyChanged()
	return row, nil
}

// PurchaseVerification buys a verification badge. Re-buying a permanent badge
// of the type already held is rejected. Buying a temporary badge of a type
// whose previous grant is still active stacks the new duration on top of the
// existing expiry rather than restarting from now. durationMs nil means a
// permanent badge.
func (s *Store) PurchaseVerification(ctx context.Context, userID string, cost int64, description, badgeType string, durationMs *int64, nowMs int64) (TransactionRow, error) {
	if s == nil || s.db == nil {
		return TransactionRow{}, fmt.Errorf("db not initialized")
	}
	if cost < 0 {
		return TransactionRow{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransactionRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	user, err := getUserFundsState(ctx, tx, s.driver, userID)
	if err != nil {
		return TransactionRow{}, err
	}

	sameApproved := user.verificationStatus == VerificationStatusApproved &&
		user.badgeType != nil && *user.badgeType == badgeType
	if sameApproved && user.badgeExpiresAtMs == nil {
		return TransactionRow{}, ErrAlreadyOwned
	}
	if user.balance < cost {
		return TransactionRow{}, ErrInsufficientFunds
	}

	var expiresAtMs *int64
	if durationMs != nil {
		base := nowMs
		if sameApproved && user.badgeExpiresAtMs != nil && *user.badgeExpiresAtMs > nowMs {
			base = *user.badgeExpiresAtMs
		}
		v := base + *durationMs
		expiresAtMs = &v
	}

	if cost > 0 {
		if err := adjustBalance(ctx, tx, s.driver, userID, -cost, nowMs); err != nil {
			return TransactionRow{}, err
		}
	}

	var expiryVal any
	if expiresAtMs != nil {
		expiryVal = *expiresAtMs
	}
	badgeQ := `UPDATE users SET verification_status = ?, badge_type = ?, badge_expires_at_ms = ?, updated_at_ms = ? WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, rebindQuery(s.driver, badgeQ),
		VerificationStatusApproved, badgeType, expiryVal, nowMs, userID,
	); err != nil {
		return TransactionRow{}, err
	}

	row, err := appendLedger(ctx, tx, s.driver, TransactionTypePurchase, userID, RecipientMarketplace, cost, description, nowMs)
	if err != nil {
		return TransactionRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransactionRow{}, err
	}

	s.notifyChanged()
	return row, nil
}

// PurchaseCosmetic buys a marketplace item into the user's inventory for its
// category. Owning the item already is a conflict, not a second copy.
func (s *Store) PurchaseCosmetic(ctx context.Context, userID string, item CosmeticItem, nowMs int64) (TransactionRow, error) {
	if s == nil || s.db == nil {
		return TransactionRow{}, fmt.Errorf("db not initialized")
	}
	if item.ID == "" || item.Category == "" {
		return TransactionRow{}, fmt.Errorf("missing item id or category")
	}
	if item.Price < 0 {
		return TransactionRow{}, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransactionRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	user, err := getUserFundsState(ctx, tx, s.driver, userID)
	if err != nil {
		return TransactionRow{}, err
	}

	var one int
	ownedQ := `SELECT 1 FROM user_inventory WHERE user_id = ? AND category = ? AND item_id = ?;`
	err = tx.QueryRowContext(ctx, rebindQuery(s.driver, ownedQ), userID, item.Category, item.ID).Scan(&one)
	if err == nil {
		return TransactionRow{}, ErrAlreadyOwned
	}
	if err != sql.ErrNoRows {
		return TransactionRow{}, err
	}

	if user.balance < item.Price {
		return TransactionRow{}, ErrInsufficientFunds
	}

	if item.Price > 0 {
		if err := adjustBalance(ctx, tx, s.driver, userID, -item.Price, nowMs); err != nil {
			return TransactionRow{}, err
		}
	}

	invQ := `INSERT INTO user_inventory (user_id, category, item_id, acquired_at_ms) VALUES (?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, rebindQuery(s.driver, invQ), userID, item.Category, item.ID, nowMs); err != nil {
		return TransactionRow{}, err
	}

	description := "Purchased " + item.Name
	if item.Name == "" {
		description = "Purchased " + item.ID
	}
	row, err := appendLedger(ctx, tx, s.driver, TransactionTypePurchase, userID, RecipientMarketplace, item.Price, description, nowMs)
	if err != nil {
		return TransactionRow{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransactionRow{}, err
	}

	s.notifyChanged()
	return row, nil
}

// EquipCustomization sets or clears the equipped item for a cosmetic
// category. Equipping is independent of inventory; ownership is the UI's
// concern.
func (s *Store) EquipCustomization(ctx context.Context, userID, category string, itemID *string, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}
	if category == "" {
		return fmt.Errorf("missing category")
	}

	if itemID == nil {
		q := `DELETE FROM user_customization WHERE user_id = ? AND category = ?;`
		if _, err := s.db.ExecContext(ctx, s.rebind(q), userID, category); err != nil {
			return err
		}
		s.notifyChanged()
		return nil
	}

	q := `INSERT INTO user_customization (user_id, category, item_id, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET item_id = excluded.item_id, updated_at_ms = excluded.updated_at_ms;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), userID, category, *itemID, nowMs); err != nil {
		return err
	}

	s.notifyChanged()
	return nil
}

// AdminUpdateUserFreezeStatus imposes or lifts a transfer freeze. Unfreezing
// always clears the expiry.
func (s *Store) AdminUpdateUserFreezeStatus(ctx context.Context, userID string, frozen bool, frozenUntilMs *int64, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	var untilVal any
	if frozen && frozenUntilMs != nil {
		untilVal = *frozenUntilMs
	}

	q := `UPDATE users SET is_frozen = ?, frozen_until_ms = ?, updated_at_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), boolToInt(frozen), untilVal, nowMs, userID)
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

// ListTransactions returns the ledger rows touching a user, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]TransactionRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, tx_type, from_user_id, to_user_id, amount, description, created_at_ms
		FROM wallet_transactions
		WHERE from_user_id = ? OR to_user_id = ?
		ORDER BY created_at_ms DESC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRow
	for rows.Next() {
		var t TransactionRow
		if err := rows.Scan(&t.ID, &t.Type, &t.FromUserID, &t.ToUserID, &t.Amount, &t.Description, &t.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListInventory returns the user's owned cosmetics across all categories.
func (s *Store) ListInventory(ctx context.Context, userID string) ([]InventoryRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT user_id, category, item_id, acquired_at_ms
		FROM user_inventory WHERE user_id = ?
		ORDER BY category ASC, acquired_at_ms ASC;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.UserID, &r.Category, &r.ItemID, &r.AcquiredAtMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EquippedCustomization returns the equipped item per cosmetic category.
func (s *Store) EquippedCustomization(ctx context.Context, userID string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT category, item_id FROM user_customization WHERE user_id = ?;`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var category, itemID string
		if err := rows.Scan(&category, &itemID); err != nil {
			return nil, err
		}
		out[category] = itemID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type fundsState struct {
	balance            int64
	frozen             bool
	frozenUntilMs      *int64
	verificationStatus string
	badgeType          *string
	badgeExpiresAtMs   *int64
}

func getUserFundsState(ctx context.Context, q sqlQueryer, driver, userID string) (fundsState, error) {
	query := rebindQuery(driver, `SELECT wallet_balance, is_frozen, frozen_until_ms,
			verification_status, badge_type, badge_expires_at_ms
		FROM users WHERE id = ?;`)

	var st fundsState
	var frozen int
	var frozenUntil, badgeExpiry sql.NullInt64
	var badgeType sql.NullString
	if err := q.QueryRowContext(ctx, query, userID).Scan(
		&st.balance, &frozen, &frozenUntil,
		&st.verificationStatus, &badgeType, &badgeExpiry,
	); err != nil {
		if err == sql.ErrNoRows {
			return fundsState{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return fundsState{}, err
	}
	st.frozen = frozen != 0
	if frozenUntil.Valid {
		st.frozenUntilMs = &frozenUntil.Int64
	}
	if badgeType.Valid {
		st.badgeType = &badgeType.String
	}
	if badgeExpiry.Valid {
		st.badgeExpiresAtMs = &badgeExpiry.Int64
	}
	return st, nil
}

// adjustBalance applies a signed delta, guarded so a debit can never push the
// balance below zero even if the caller's read has gone stale.
func adjustBalance(ctx context.Context, exec sqlExecer, driver, userID string, delta, nowMs int64) error {
	query := rebindQuery(driver, `UPDATE users
		SET wallet_balance = wallet_balance + ?, updated_at_ms = ?
		WHERE id = ? AND wallet_balance + ? >= 0;`)
	result, err := exec.ExecContext(ctx, query, delta, nowMs, userID, delta)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		if delta < 0 {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("%w: user", ErrNotFound)
	}
	return nil
}

func appendLedger(ctx context.Context, exec sqlExecer, driver, txType, fromID, toID string, amount int64, description string, nowMs int64) (TransactionRow, error) {
	row := TransactionRow{
		ID:          uuid.NewString(),
		Type:        txType,
		FromUserID:  fromID,
		ToUserID:    toID,
		Amount:      amount,
		Description: description,
		CreatedAtMs: nowMs,
	}

	query := rebindQuery(driver, `INSERT INTO wallet_transactions (id, tx_type, from_user_id, to_user_id, amount, description, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if _, err := exec.ExecContext(ctx, query,
		row.ID, row.Type, row.FromUserID, row.ToUserID, row.Amount, row.Description, row.CreatedAtMs,
	); err != nil {
		return TransactionRow{}, err
	}
	return row, nil
}
