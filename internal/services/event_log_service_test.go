package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/repositories"
)

type stubEventLogRepo struct {
	appendFn func(context.Context, domain.Event) error
	listFn   func(context.Context, repositories.EventListFilter) (domain.CursorPage[domain.Event], error)
}

func (s *stubEventLogRepo) Append(ctx context.Context, event domain.Event) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, event)
	}
	return nil
}

func (s *stubEventLogRepo) ListByRequest(context.Context, string) ([]domain.Event, error) {
	return nil, errors.New("not implemented")
}

func (s *stubEventLogRepo) List(ctx context.Context, filter repositories.EventListFilter) (domain.CursorPage[domain.Event], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Event]{}, nil
}

type captureWarnLogger struct {
	warnings []string
}

func (c *captureWarnLogger) Warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func TestEventLogServiceRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var appended []domain.Event

	repo := &stubEventLogRepo{
		appendFn: func(_ context.Context, event domain.Event) error {
			appended = append(appended, event)
			return nil
		},
	}

	svc, err := NewEventLogService(EventLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
	})
	if err != nil {
		t.Fatalf("new event log service: %v", err)
	}

	svc.Record(ctx, EventRecord{
		RequestID:   "REQ-1",
		RequestType: domain.RequestTypeSpecialOrder,
		Action:      domain.EventStatusChange,
		FromStatus:  domain.StatusNew,
		ToStatus:    domain.StatusOrdered,
		ActorID:     "  staff-1 ",
		Reason:      "vendor confirmed",
		Fields:      map[string]string{"order_number": "12345"},
	})

	if len(appended) != 1 {
		t.Fatalf("expected 1 appended event got %d", len(appended))
	}
	event := appended[0]
	if event.ID != "EVT-000TEST" {
		t.Fatalf("unexpected event id %s", event.ID)
	}
	if event.Actor != "staff-1" {
		t.Fatalf("expected trimmed actor got %q", event.Actor)
	}
	if !event.OccurredAt.Equal(now) {
		t.Fatalf("expected clock fallback timestamp got %s", event.OccurredAt)
	}
	if event.Metadata["reason"] != "vendor confirmed" {
		t.Fatalf("expected reason metadata got %v", event.Metadata)
	}
	fields, ok := event.Metadata["fields"].(map[string]string)
	if !ok || fields["order_number"] != "12345" {
		t.Fatalf("expected field metadata got %v", event.Metadata)
	}
}

func TestEventLogServiceRecordSwallowsAppendFailure(t *testing.T) {
	logger := &captureWarnLogger{}
	repo := &stubEventLogRepo{
		appendFn: func(context.Context, domain.Event) error {
			return errors.New("deadline exceeded")
		},
	}

	svc, err := NewEventLogService(EventLogServiceDeps{Repository: repo, Logger: logger})
	if err != nil {
		t.Fatalf("new event log service: %v", err)
	}

	svc.Record(context.Background(), EventRecord{
		RequestID: "REQ-1",
		Action:    domain.EventRequestCreated,
		ToStatus:  domain.StatusNew,
	})

	if len(logger.warnings) != 1 {
		t.Fatalf("expected append failure warning got %v", logger.warnings)
	}
}

func TestEventLogServiceRecordSkipsIncompleteRecords(t *testing.T) {
	logger := &captureWarnLogger{}
	repo := &stubEventLogRepo{
		appendFn: func(context.Context, domain.Event) error {
			t.Fatal("append must not run for incomplete records")
			return nil
		},
	}

	svc, err := NewEventLogService(EventLogServiceDeps{Repository: repo, Logger: logger})
	if err != nil {
		t.Fatalf("new event log service: %v", err)
	}

	svc.Record(context.Background(), EventRecord{Action: domain.EventStatusChange})

	if len(logger.warnings) != 1 {
		t.Fatalf("expected skip warning got %v", logger.warnings)
	}
}

func TestEventLogServiceListByRequest(t *testing.T) {
	var gotFilter repositories.EventListFilter
	repo := &stubEventLogRepo{
		listFn: func(_ context.Context, filter repositories.EventListFilter) (domain.CursorPage[domain.Event], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Event]{Items: []domain.Event{{ID: "EVT-1"}}}, nil
		},
	}

	svc, err := NewEventLogService(EventLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new event log service: %v", err)
	}

	page, err := svc.ListByRequest(context.Background(), " REQ-1 ", EventListFilter{})
	if err != nil {
		t.Fatalf("list by request: %v", err)
	}
	if gotFilter.RequestID != "REQ-1" {
		t.Fatalf("expected trimmed request id got %q", gotFilter.RequestID)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 event got %d", len(page.Items))
	}

	if _, err := svc.ListByRequest(context.Background(), "REQ-1", EventListFilter{ActorID: " staff:amy ", Sort: domain.SortAsc}); err != nil {
		t.Fatalf("list by request with filter: %v", err)
	}
	if gotFilter.Actor != "staff:amy" {
		t.Fatalf("expected trimmed actor got %q", gotFilter.Actor)
	}
	if gotFilter.Sort != domain.SortAsc {
		t.Fatalf("expected ascending sort got %q", gotFilter.Sort)
	}

	if _, err := svc.ListByRequest(context.Background(), "  ", EventListFilter{}); err == nil {
		t.Fatal("expected error for blank request id")
	}
}
