package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shelfmark/intake/internal/domain"
	pfirestore "github.com/shelfmark/intake/internal/platform/firestore"
	"github.com/shelfmark/intake/internal/repositories"
)

const requestEventsCollection = "requestEvents"

// EventLogRepository persists immutable request audit events. Documents are
// only ever created, never updated or deleted.
type EventLogRepository struct {
	base *pfirestore.BaseRepository[eventDocument]
}

// NewEventLogRepository constructs a Firestore-backed event log repository.
func NewEventLogRepository(provider *pfirestore.Provider) (*EventLogRepository, error) {
	if provider == nil {
		return nil, errors.New("event log repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[eventDocument](provider, requestEventsCollection, nil, nil)
	return &EventLogRepository{base: base}, nil
}

// Append stores a new event document. Create rejects duplicate IDs, keeping
// the log append-only.
func (r *EventLogRepository) Append(ctx context.Context, event domain.Event) error {
	if r == nil || r.base == nil {
		return errors.New("event log repository not initialised")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return errors.New("event log repository: event id is required")
	}
	if strings.TrimSpace(event.RequestID) == "" {
		return errors.New("event log repository: request id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, eventID)
	if err != nil {
		return err
	}
	doc := encodeEventDocument(event)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("requestEvents.append", err)
	}
	return nil
}

// ListByRequest returns the full event history of one request, oldest first.
func (r *EventLogRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.Event, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("event log repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, errors.New("event log repository: request id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("requestId", "==", requestID).
			OrderBy("occurredAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(docs))
	for _, doc := range docs {
		events = append(events, decodeEventDocument(doc.ID, doc.Data))
	}
	return events, nil
}

// List retrieves events across requests for exports and audits. Results are
// ordered by occurrence time in the requested direction, newest first by
// default.
func (r *EventLogRepository) List(ctx context.Context, filter repositories.EventListFilter) (domain.CursorPage[domain.Event], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Event]{}, errors.New("event log repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeRequestListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Event]{}, fmt.Errorf("event log repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	actionFilters := normaliseEventActions(filter.Actions)
	requestID := strings.TrimSpace(filter.RequestID)
	actor := strings.TrimSpace(filter.Actor)

	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if requestID != "" {
			q = q.Where("requestId", "==", requestID)
		}
		if actor != "" {
			q = q.Where("actor", "==", actor)
		}
		q = applyInFilter(q, "action", actionFilters)

		if from := filter.DateRange.From; from != nil && !from.IsZero() {
			q = q.Where("occurredAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil && !to.IsZero() {
			q = q.Where("occurredAt", "<=", to.UTC())
		}

		q = q.OrderBy("occurredAt", direction).OrderBy(firestore.DocumentID, direction)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Event]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeRequestListToken(last.Data.OccurredAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Event, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeEventDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Event]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type eventDocument struct {
	RequestID      string         `firestore:"requestId"`
	RequestType    string         `firestore:"requestType,omitempty"`
	Action         string         `firestore:"action"`
	PreviousStatus string         `firestore:"previousStatus,omitempty"`
	NewStatus      string         `firestore:"newStatus,omitempty"`
	Actor          string         `firestore:"actor,omitempty"`
	OccurredAt     time.Time      `firestore:"occurredAt"`
	Metadata       map[string]any `firestore:"metadata,omitempty"`
}

func encodeEventDocument(event domain.Event) eventDocument {
	return eventDocument{
		RequestID:      strings.TrimSpace(event.RequestID),
		RequestType:    strings.TrimSpace(string(event.RequestType)),
		Action:         strings.TrimSpace(string(event.Action)),
		PreviousStatus: strings.TrimSpace(string(event.PreviousStatus)),
		NewStatus:      strings.TrimSpace(string(event.NewStatus)),
		Actor:          strings.TrimSpace(event.Actor),
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

func decodeEventDocument(id string, doc eventDocument) domain.Event {
	return domain.Event{
		ID:             id,
		RequestID:      doc.RequestID,
		RequestType:    domain.RequestType(doc.RequestType),
		Action:         domain.EventAction(doc.Action),
		PreviousStatus: domain.RequestStatus(doc.PreviousStatus),
		NewStatus:      domain.RequestStatus(doc.NewStatus),
		Actor:          doc.Actor,
		OccurredAt:     doc.OccurredAt,
		Metadata:       doc.Metadata,
	}
}

func normaliseEventActions(actions []domain.EventAction) []string {
	values := make([]string, 0, len(actions))
	for _, action := range actions {
		values = append(values, string(action))
	}
	return normaliseFilterValues(values, false)
}
