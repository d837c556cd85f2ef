package repositories

import (
	"context"
	"time"

	domain "github.com/shelfmark/intake/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusUpdate carries a conditional status mutation for one request. The
// update must only apply while the stored status still equals ExpectedStatus;
// a mismatch fails with a conflict-classified RepositoryError so the service
// never overwrites a concurrent transition.
type StatusUpdate struct {
	ExpectedStatus domain.RequestStatus
	NewStatus      domain.RequestStatus
	// Fields is merged into the request's attribute bag.
	Fields    map[string]string
	Actor     string
	UpdatedAt time.Time
}

// RequestRepository persists request tickets. The request service is the sole
// writer of status and updatedAt; the repository enforces the
// update-where-status-equals guard on its behalf.
type RequestRepository interface {
	Insert(ctx context.Context, request domain.Request) error
	FindByID(ctx context.Context, requestID string) (domain.Request, error)
	List(ctx context.Context, filter RequestListFilter) (domain.CursorPage[domain.Request], error)
	UpdateStatusAndFields(ctx context.Context, requestID string, update StatusUpdate) (domain.Request, error)
}

// EventLogRepository persists immutable request audit events. Append-only:
// events are never updated or deleted.
type EventLogRepository interface {
	Append(ctx context.Context, event domain.Event) error
	ListByRequest(ctx context.Context, requestID string) ([]domain.Event, error)
	List(ctx context.Context, filter EventListFilter) (domain.CursorPage[domain.Event], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// RequestListFilter narrows request listings.
type RequestListFilter struct {
	Types    []domain.RequestType
	Statuses []domain.RequestStatus
	Priority []domain.Priority
	// Actor matches the request's most recent actor when set.
	Actor      string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
	// Sort orders by last update time; descending when unset.
	Sort domain.SortOrder
}

// EventListFilter narrows event-log listings for exports and audits.
type EventListFilter struct {
	RequestID  string
	Actions    []domain.EventAction
	Actor      string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
	// Sort orders by occurrence time; descending when unset.
	Sort domain.SortOrder
}
