package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/repositories"
)

const eventIDPrefix = "EVT-"

// EventLogger defines the logging contract used by the event log writer.
type EventLogger interface {
	Warnf(format string, args ...any)
}

type eventLogService struct {
	repo   repositories.EventLogRepository
	clock  func() time.Time
	newID  func() string
	logger EventLogger
}

var _ EventLogService = (*eventLogService)(nil)

// EventLogServiceDeps bundles constructor inputs for the event log writer.
type EventLogServiceDeps struct {
	Repository  repositories.EventLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      EventLogger
}

// NewEventLogService creates an append-only event writer backed by the supplied repository.
func NewEventLogService(deps EventLogServiceDeps) (EventLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("event log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopEventLogger{}
	}

	return &eventLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists one audit event. Append failures are logged as warnings and
// never bubble up: a request mutation that already committed must not be
// reported as failed because its audit write was lost.
func (s *eventLogService) Record(ctx context.Context, record EventRecord) {
	event := s.buildEvent(record)
	if event.RequestID == "" || event.Action == "" {
		s.logger.Warnf("event log append skipped: request id and action are required")
		return
	}
	if err := s.repo.Append(ctx, event); err != nil {
		s.logger.Warnf("event log append failed for %s: %v", event.RequestID, err)
	}
}

// ListByRequest returns the event history of one request, oldest first.
func (s *eventLogService) ListByRequest(ctx context.Context, requestID string, filter EventListFilter) (domain.CursorPage[Event], error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.CursorPage[Event]{}, fmt.Errorf("event log service: request id is required")
	}
	return s.repo.List(ctx, repositories.EventListFilter{
		RequestID:  requestID,
		Actions:    filter.Actions,
		Actor:      strings.TrimSpace(filter.ActorID),
		DateRange:  rangeFromWindow(filter.Since, filter.Until),
		Sort:       filter.Sort,
		Pagination: filter.Pagination,
	})
}

// List retrieves events across all requests for exports and audits.
func (s *eventLogService) List(ctx context.Context, filter EventListFilter) (domain.CursorPage[Event], error) {
	return s.repo.List(ctx, repositories.EventListFilter{
		Actions:    filter.Actions,
		Actor:      strings.TrimSpace(filter.ActorID),
		DateRange:  rangeFromWindow(filter.Since, filter.Until),
		Sort:       filter.Sort,
		Pagination: filter.Pagination,
	})
}

func (s *eventLogService) buildEvent(record EventRecord) domain.Event {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	event := domain.Event{
		ID:             eventIDPrefix + s.newID(),
		RequestID:      strings.TrimSpace(record.RequestID),
		RequestType:    record.RequestType,
		Action:         record.Action,
		PreviousStatus: record.FromStatus,
		NewStatus:      record.ToStatus,
		Actor:          sanitizeEventText(record.ActorID, 160),
		OccurredAt:     occurred,
	}

	metadata := map[string]any{}
	if reason := sanitizeEventText(record.Reason, 512); reason != "" {
		metadata["reason"] = reason
	}
	if len(record.Fields) > 0 {
		fields := make(map[string]string, len(record.Fields))
		for key, value := range record.Fields {
			key = sanitizeEventText(key, 80)
			if key == "" {
				continue
			}
			fields[key] = sanitizeEventText(value, 512)
		}
		if len(fields) > 0 {
			metadata["fields"] = fields
		}
	}
	if len(metadata) > 0 {
		event.Metadata = metadata
	}

	return event
}

func rangeFromWindow(since, until *time.Time) domain.RangeQuery[time.Time] {
	return domain.RangeQuery[time.Time]{From: since, To: until}
}

type noopEventLogger struct{}

func (noopEventLogger) Warnf(string, ...any) {}

// sanitizeEventText trims, strips control characters, and enforces a length cap.
func sanitizeEventText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
