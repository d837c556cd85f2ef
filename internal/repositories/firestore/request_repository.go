package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shelfmark/intake/internal/domain"
	pfirestore "github.com/shelfmark/intake/internal/platform/firestore"
	"github.com/shelfmark/intake/internal/repositories"
)

const requestsCollection = "requests"

// RequestRepository persists intake request documents.
type RequestRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[requestDocument]
}

// NewRequestRepository constructs a Firestore-backed request repository.
func NewRequestRepository(provider *pfirestore.Provider) (*RequestRepository, error) {
	if provider == nil {
		return nil, errors.New("request repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[requestDocument](provider, requestsCollection, nil, nil)
	return &RequestRepository{provider: provider, base: base}, nil
}

// Insert stores a new request document. The ID must be unique.
func (r *RequestRepository) Insert(ctx context.Context, request domain.Request) error {
	if r == nil || r.base == nil {
		return errors.New("request repository not initialised")
	}
	requestID := strings.TrimSpace(request.ID)
	if requestID == "" {
		return errors.New("request repository: request id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, requestID)
	if err != nil {
		return err
	}
	doc := encodeRequestDocument(request)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("requests.insert", err)
	}
	return nil
}

// FindByID fetches a single request.
func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (domain.Request, error) {
	if r == nil || r.base == nil {
		return domain.Request{}, errors.New("request repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.Request{}, errors.New("request repository: request id is required")
	}
	doc, err := r.base.Get(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	return decodeRequestDocument(requestID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns requests ordered by update time, most recent first by default.
func (r *RequestRepository) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.Request], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Request]{}, errors.New("request repository not initialised")
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
			return domain.CursorPage[domain.Request]{}, fmt.Errorf("request repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	typeFilters := normaliseRequestTypes(filter.Types)
	statusFilters := normaliseRequestStatuses(filter.Statuses)
	priorityFilters := normaliseRequestPriorities(filter.Priority)

	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = applyInFilter(q, "type", typeFilters)
		q = applyInFilter(q, "status", statusFilters)
		q = applyInFilter(q, "priority", priorityFilters)

		if actor := strings.TrimSpace(filter.Actor); actor != "" {
			q = q.Where("lastActor", "==", actor)
		}

		if from := filter.DateRange.From; from != nil && !from.IsZero() {
			q = q.Where("updatedAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil && !to.IsZero() {
			q = q.Where("updatedAt", "<=", to.UTC())
		}

		q = q.OrderBy("updatedAt", direction).OrderBy(firestore.DocumentID, direction)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Request]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.UpdatedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = encodeRequestListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Request, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeRequestDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Request]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// UpdateStatusAndFields applies the status mutation only while the stored
// status still matches update.ExpectedStatus. A concurrent transition that
// won the race surfaces as a conflict.
func (r *RequestRepository) UpdateStatusAndFields(ctx context.Context, requestID string, update repositories.StatusUpdate) (domain.Request, error) {
	if r == nil || r.provider == nil {
		return domain.Request{}, errors.New("request repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.Request{}, errors.New("request repository: request id is required")
	}

	var updated domain.Request
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, requestID)
		if err != nil {
			return err
		}

		snap, err := tx.Get(docRef)
		if err != nil {
			return pfirestore.WrapError("requests.update_status", err)
		}

		var doc requestDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode request %s: %w", requestID, err)
		}

		if doc.Status != string(update.ExpectedStatus) {
			return pfirestore.WrapError("requests.update_status",
				status.Errorf(codes.FailedPrecondition, "request %s is %s, expected %s", requestID, doc.Status, update.ExpectedStatus))
		}

		doc.Status = string(update.NewStatus)
		doc.UpdatedAt = update.UpdatedAt.UTC()
		if actor := strings.TrimSpace(update.Actor); actor != "" {
			doc.LastActor = actor
		}
		if len(update.Fields) > 0 {
			if doc.Fields == nil {
				doc.Fields = map[string]string{}
			}
			for key, value := range update.Fields {
				doc.Fields[key] = value
			}
		}

		if err := tx.Set(docRef, doc); err != nil {
			return pfirestore.WrapError("requests.update_status", err)
		}

		updated = decodeRequestDocument(requestID, doc, snap.CreateTime, doc.UpdatedAt)
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	return updated, nil
}

type requestDocument struct {
	Type            string            `firestore:"type"`
	Status          string            `firestore:"status"`
	CustomerName    string            `firestore:"customerName"`
	CustomerContact string            `firestore:"customerContact"`
	ContactType     string            `firestore:"contactType,omitempty"`
	Details         string            `firestore:"details,omitempty"`
	Priority        string            `firestore:"priority"`
	Fields          map[string]string `firestore:"fields,omitempty"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
	LastActor       string            `firestore:"lastActor,omitempty"`
}

func encodeRequestDocument(request domain.Request) requestDocument {
	doc := requestDocument{
		Type:            strings.TrimSpace(string(request.Type)),
		Status:          strings.TrimSpace(string(request.Status)),
		CustomerName:    strings.TrimSpace(request.CustomerName),
		CustomerContact: strings.TrimSpace(request.CustomerContact),
		ContactType:     strings.TrimSpace(request.ContactType),
		Details:         strings.TrimSpace(request.Details),
		Priority:        strings.TrimSpace(string(request.Priority)),
		CreatedAt:       request.CreatedAt.UTC(),
		UpdatedAt:       request.UpdatedAt.UTC(),
		LastActor:       strings.TrimSpace(request.LastActor),
	}
	if len(request.Fields) > 0 {
		doc.Fields = make(map[string]string, len(request.Fields))
		for key, value := range request.Fields {
			doc.Fields[key] = value
		}
	}
	return doc
}

func decodeRequestDocument(id string, doc requestDocument, createdAt, updatedAt time.Time) domain.Request {
	request := domain.Request{
		ID:              id,
		Type:            domain.RequestType(doc.Type),
		Status:          domain.RequestStatus(doc.Status),
		CustomerName:    doc.CustomerName,
		CustomerContact: doc.CustomerContact,
		ContactType:     doc.ContactType,
		Details:         doc.Details,
		Priority:        domain.Priority(doc.Priority),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		LastActor:       doc.LastActor,
	}
	if len(doc.Fields) > 0 {
		request.Fields = make(map[string]string, len(doc.Fields))
		for key, value := range doc.Fields {
			request.Fields[key] = value
		}
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = createdAt
	}
	if request.UpdatedAt.IsZero() {
		request.UpdatedAt = updatedAt
	}
	return request
}

func applyInFilter(q firestore.Query, field string, values []string) firestore.Query {
	switch len(values) {
	case 0:
		return q
	case 1:
		return q.Where(field, "==", values[0])
	default:
		// Firestore in clause supports up to 10 values.
		if len(values) > 10 {
			values = values[:10]
		}
		return q.Where(field, "in", values)
	}
}

func encodeRequestListToken(updatedAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", updatedAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeRequestListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func normaliseRequestTypes(types []domain.RequestType) []string {
	values := make([]string, 0, len(types))
	for _, t := range types {
		values = append(values, string(t))
	}
	return normaliseFilterValues(values, true)
}

func normaliseRequestStatuses(statuses []domain.RequestStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	return normaliseFilterValues(values, false)
}

func normaliseRequestPriorities(priorities []domain.Priority) []string {
	values := make([]string, 0, len(priorities))
	for _, p := range priorities {
		values = append(values, string(p))
	}
	return normaliseFilterValues(values, true)
}

func normaliseFilterValues(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if lower {
			trimmed = strings.ToLower(trimmed)
		} else {
			trimmed = strings.ToUpper(trimmed)
		}
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
