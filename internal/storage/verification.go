package storage

import (
	"context"
	"fmt"
)

// A user's verification is only ever in one of three states. Badge type and
// expiry carry meaning only while approved; any transition away from
// approved strips them.

// RequestUserVerification moves a user from none to pending. A user already
// pending or approved is left untouched.
func (s *Store) RequestUserVerification(ctx context.Context, userID string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return UserRow{}, err
	}
	if user.VerificationStatus != VerificationStatusNone {
		return user, nil
	}

	q := `UPDATE users SET verification_status = ?, updated_at_ms = ? WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), VerificationStatusPending, nowMs, userID); err != nil {
		return UserRow{}, err
	}

	s.notifyChanged()
	return s.GetUserByID(ctx, userID)
}

// VerificationUpdate is an admin's partial edit of a user's verification.
// Nil fields are left as they are.
type VerificationUpdate struct {
	Status           *string
	BadgeType        *string
	BadgeExpiresAtMs *int64
}

// AdminUpdateUserVerification applies a partial update. Whatever the input
// said, a resulting status other than approved clears the badge fields.
func (s *Store) AdminUpdateUserVerification(ctx context.Context, userID string, upd VerificationUpdate, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return UserRow{}, err
	}

	status := user.VerificationStatus
	if upd.Status != nil {
		switch *upd.Status {
		case VerificationStatusNone, VerificationStatusPending, VerificationStatusApproved:
			status = *upd.Status
		default:
			return UserRow{}, fmt.Errorf("%w: verification status %q", ErrInvalidState, *upd.Status)
		}
	}

	badgeType := user.BadgeType
	if upd.BadgeType != nil {
		badgeType = upd.BadgeType
	}
	badgeExpiry := user.BadgeExpiresAtMs
	if upd.BadgeExpiresAtMs != nil {
		badgeExpiry = upd.BadgeExpiresAtMs
	}

	if status != VerificationStatusApproved {
		badgeType = nil
		badgeExpiry = nil
	}

	var badgeTypeVal, badgeExpiryVal any
	if badgeType != nil {
		badgeTypeVal = *badgeType
	}
	if badgeExpiry != nil {
		badgeExpiryVal = *badgeExpiry
	}

	q := `UPDATE users SET verification_status = ?, badge_type = ?, badge_expires_at_ms = ?, updated_at_ms = ? WHERE id = ?;`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), status, badgeTypeVal, badgeExpiryVal, nowMs, userID); err != nil {
		return UserRow{}, err
	}

	s.notifyChanged()
	return s.GetUserByID(ctx, userID)
}
