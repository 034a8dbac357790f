package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAddReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	reporter := mustCreateUser(t, store, "reporter")
	offender := mustCreateUser(t, store, "offender")

	dm, _, err := store.FindOrCreateDM(ctx, reporter.ID, offender.ID, nowMs)
	if err != nil {
		t.Fatalf("FindOrCreateDM() error = %v", err)
	}

	report, err := store.AddReport(ctx, reporter.ID, offender.ID, "spam", &dm.ID, nowMs)
	if err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}
	if report.Status != ReportStatusPending {
		t.Fatalf("status = %q, want %q", report.Status, ReportStatusPending)
	}
	if report.ChatID == nil || *report.ChatID != dm.ID {
		t.Fatalf("chat = %v, want %q", report.ChatID, dm.ID)
	}

	// Filing posts an announcement so admins see it in-app.
	msgs, _, err := store.ListMessages(ctx, AnnouncementsChatID, 10, "")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != MessageTypeAnnouncement {
		t.Fatalf("announcements = %v, want one announcement", msgs)
	}

	// ChatID is optional.
	if _, err := store.AddReport(ctx, reporter.ID, offender.ID, "harassment", nil, nowMs+1); err != nil {
		t.Fatalf("AddReport() without chat error = %v", err)
	}
}

func TestUpdateReportStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	reporter := mustCreateUser(t, store, "status-reporter")
	offender := mustCreateUser(t, store, "status-offender")

	report, err := store.AddReport(ctx, reporter.ID, offender.ID, "spam", nil, nowMs)
	if err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}

	got, err := store.UpdateReportStatus(ctx, report.ID, ReportStatusResolved, nowMs+5)
	if err != nil {
		t.Fatalf("UpdateReportStatus() error = %v", err)
	}
	if got.Status != ReportStatusResolved {
		t.Fatalf("status = %q, want %q", got.Status, ReportStatusResolved)
	}
	if got.UpdatedAtMs != nowMs+5 {
		t.Fatalf("UpdatedAtMs = %d, want %d", got.UpdatedAtMs, nowMs+5)
	}
	if got.CreatedAtMs != nowMs {
		t.Fatalf("CreatedAtMs changed: %d, want %d", got.CreatedAtMs, nowMs)
	}

	if _, err := store.UpdateReportStatus(ctx, "no-such-report", ReportStatusReviewed, nowMs); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown report error = %v, want ErrNotFound", err)
	}
}

func TestListReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	reporter := mustCreateUser(t, store, "list-reporter")
	offender := mustCreateUser(t, store, "list-offender")

	first, err := store.AddReport(ctx, reporter.ID, offender.ID, "spam", nil, nowMs)
	if err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}
	second, err := store.AddReport(ctx, reporter.ID, offender.ID, "abuse", nil, nowMs+10)
	if err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}
	if _, err := store.UpdateReportStatus(ctx, first.ID, ReportStatusResolved, nowMs+20); err != nil {
		t.Fatalf("UpdateReportStatus() error = %v", err)
	}

	all, err := store.ListReports(ctx, "")
	if err != nil {
		t.Fatalf("ListReports() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all reports = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].ID != second.ID {
		t.Fatalf("first listed = %q, want newest %q", all[0].ID, second.ID)
	}

	pending, err := store.ListReports(ctx, ReportStatusPending)
	if err != nil {
		t.Fatalf("ListReports(pending) error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("pending = %v, want only the unresolved report", pending)
	}
}
