package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AddReport files a report against a user and then posts a broadcast
// announcement so admins see it in-app. The announcement is best-effort: a
// failure there is logged but does not unfile the report.
func (s *Store) AddReport(ctx context.Context, reporterID, reportedUserID, reason string, chatID *string, nowMs int64) (ReportRow, error) {
	if s == nil || s.db == nil {
		return ReportRow{}, fmt.Errorf("db not initialized")
	}
	if reporterID == "" || reportedUserID == "" {
		return ReportRow{}, fmt.Errorf("missing user ids")
	}

	report := ReportRow{
		ID:             uuid.NewString(),
		ReporterID:     reporterID,
		ReportedUserID: reportedUserID,
		Reason:         reason,
		ChatID:         chatID,
		Status:         ReportStatusPending,
		CreatedAtMs:    nowMs,
		UpdatedAtMs:    nowMs,
	}

	var chatVal any
	if chatID != nil {
		chatVal = *chatID
	}

	q := `INSERT INTO reports (id, reporter_id, reported_user_id, reason, chat_id, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		report.ID, report.ReporterID, report.ReportedUserID, report.Reason,
		chatVal, report.Status, report.CreatedAtMs, report.UpdatedAtMs,
	); err != nil {
		return ReportRow{}, err
	}

	s.notifyChanged()

	if _, err := s.AddBroadcastAnnouncement(ctx, reporterID,
		"A user report has been filed and is awaiting review.", nowMs); err != nil {
		s.logger.Warn("report announcement failed", "error", err, "reportID", report.ID)
	}

	return report, nil
}

func (s *Store) UpdateReportStatus(ctx context.Context, reportID, status string, nowMs int64) (ReportRow, error) {
	if s == nil || s.db == nil {
		return ReportRow{}, fmt.Errorf("db not initialized")
	}

	q := `UPDATE reports SET status = ?, updated_at_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), status, nowMs, reportID)
	if err != nil {
		return ReportRow{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ReportRow{}, fmt.Errorf("%w: report", ErrNotFound)
	}

	s.notifyChanged()
	return s.getReportByID(ctx, reportID)
}

// ListReports returns reports newest first, optionally filtered by status.
func (s *Store) ListReports(ctx context.Context, status string) ([]ReportRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT id, reporter_id, reported_user_id, reason, chat_id, status, created_at_ms, updated_at_ms
		FROM reports`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at_ms DESC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getReportByID(ctx context.Context, reportID string) (ReportRow, error) {
	q := `SELECT id, reporter_id, reported_user_id, reason, chat_id, status, created_at_ms, updated_at_ms
		FROM reports WHERE id = ?;`
	r, err := scanReport(s.db.QueryRowContext(ctx, s.rebind(q), reportID))
	if err != nil {
		if err == sql.ErrNoRows {
			return ReportRow{}, fmt.Errorf("%w: report", ErrNotFound)
		}
		return ReportRow{}, err
	}
	return r, nil
}

func scanReport(r rowScanner) (ReportRow, error) {
	var report ReportRow
	var chatID sql.NullString
	if err := r.Scan(
		&report.ID, &report.ReporterID, &report.ReportedUserID, &report.Reason,
		&chatID, &report.Status, &report.CreatedAtMs, &report.UpdatedAtMs,
	); err != nil {
		return ReportRow{}, err
	}
	if chatID.Valid {
		report.ChatID = &chatID.String
	}
	return report, nil
}
