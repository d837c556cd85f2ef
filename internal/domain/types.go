package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// RequestType identifies the kind of special request a ticket tracks. It is
// chosen at intake and never changes for the lifetime of the request.
type RequestType string

const (
	// RequestTypeSpecialOrder is a customer order for a title not kept in stock.
	RequestTypeSpecialOrder RequestType = "special_order"
	// RequestTypeBookHold holds an in-stock copy at the register for pickup.
	RequestTypeBookHold RequestType = "book_hold"
	// RequestTypeBackorder tracks a title on backorder with its publisher.
	RequestTypeBackorder RequestType = "backorder_request"
	// RequestTypeOutOfPrint is a sourcing search for an out-of-print title.
	RequestTypeOutOfPrint RequestType = "out_of_print"
	// RequestTypeBulkOrder is a high-quantity order (schools, book clubs).
	RequestTypeBulkOrder RequestType = "bulk_order"
	// RequestTypePersonalization covers in-house personalization work.
	RequestTypePersonalization RequestType = "personalization"
)

// RequestStatus describes the lifecycle state of a request ticket.
type RequestStatus string

const (
	// StatusNew is the status every request is created in.
	StatusNew RequestStatus = "NEW"
	// StatusOrdered means the order was placed with a vendor or publisher.
	StatusOrdered RequestStatus = "ORDERED"
	// StatusReceived means the stock arrived at the store.
	StatusReceived RequestStatus = "RECEIVED"
	// StatusNotified means the customer was told their item is ready.
	StatusNotified RequestStatus = "NOTIFIED"
	// StatusPaid means payment was collected.
	StatusPaid RequestStatus = "PAID"
	// StatusCompleted is the terminal success state.
	StatusCompleted RequestStatus = "COMPLETED"
	// StatusCancelled is the terminal abandonment state.
	StatusCancelled RequestStatus = "CANCELLED"
)

// Priority ranks how urgently staff should work a request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityStandard Priority = "standard"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
)

// ValidPriority reports whether the supplied value is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityStandard, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Request is one customer-service ticket tracked through its lifecycle.
// Status and UpdatedAt are mutated only through the request service; a
// request is never deleted, terminal status is the closest to deletion.
type Request struct {
	ID              string
	Type            RequestType
	Status          RequestStatus
	CustomerName    string
	CustomerContact string
	ContactType     string
	Details         string
	Priority        Priority
	// Fields carries the type-specific attribute bag (isbn, vendor,
	// order_number, pickup_date, ...). Transition field bags are merged
	// into it on successful transitions.
	Fields    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
	// LastActor records who acted on the request most recently.
	LastActor string
}

// EventAction enumerates the recorded audit actions for a request.
type EventAction string

const (
	// EventRequestCreated records the initial intake of a request.
	EventRequestCreated EventAction = "REQUEST_CREATED"
	// EventStatusChange records a successful status transition.
	EventStatusChange EventAction = "STATUS_CHANGE"
	// EventFieldsAdded records supplementary fields merged outside a transition.
	EventFieldsAdded EventAction = "FIELDS_ADDED"
)

// Event is an immutable audit record of a creation or transition. Events are
// append-only: they are never mutated or deleted once written.
type Event struct {
	ID             string
	RequestID      string
	RequestType    RequestType
	Action         EventAction
	PreviousStatus RequestStatus
	NewStatus      RequestStatus
	Actor          string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// FoldStatus replays events in timestamp order and returns the status they
// reconstruct. The stored status of a request must always equal the fold of
// its event history; an empty history yields the zero status.
func FoldStatus(events []Event) RequestStatus {
	var status RequestStatus
	var latest time.Time
	for _, event := range events {
		if event.Action != EventRequestCreated && event.Action != EventStatusChange {
			continue
		}
		if event.OccurredAt.Before(latest) {
			continue
		}
		latest = event.OccurredAt
		status = event.NewStatus
	}
	return status
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

const (
	// HealthStatusOK marks a healthy dependency.
	HealthStatusOK = "ok"
	// HealthStatusDegraded marks a dependency responding with errors.
	HealthStatusDegraded = "degraded"
	// HealthStatusError marks a dependency that timed out or was cancelled.
	HealthStatusError = "error"
)

// SystemHealthCheck captures one dependency probe result.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
