package services

import (
	"context"
	"time"

	domain "github.com/shelfmark/intake/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Request            = domain.Request
	RequestType        = domain.RequestType
	RequestStatus      = domain.RequestStatus
	Priority           = domain.Priority
	Event              = domain.Event
	EventAction        = domain.EventAction
	SystemHealthReport = domain.SystemHealthReport
)

// RequestService orchestrates the intake request lifecycle: creation with field
// validation, status transitions guarded by the type registry, and reads.
type RequestService interface {
	CreateRequest(ctx context.Context, cmd CreateRequestCommand) (Request, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	ListRequests(ctx context.Context, filter RequestListFilter) (domain.CursorPage[Request], error)
	Transition(ctx context.Context, cmd TransitionCommand) (Request, error)
	PossibleStatuses(requestType RequestType, current RequestStatus) ([]RequestStatus, error)
}

// EventLogService centralizes append-only event persistence and retrieval.
type EventLogService interface {
	Record(ctx context.Context, record EventRecord)
	ListByRequest(ctx context.Context, requestID string, filter EventListFilter) (domain.CursorPage[Event], error)
	List(ctx context.Context, filter EventListFilter) (domain.CursorPage[Event], error)
}

// SystemService exposes operational utilities backing health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher fans completed state changes out to the chat bridge topic.
type EventPublisher interface {
	Publish(ctx context.Context, event RequestEventMessage) error
}

// RequestMirror reflects request state into an external read-only surface,
// such as the staff spreadsheet.
type RequestMirror interface {
	UpsertRow(ctx context.Context, request Request) error
}

// ErrorTranslator converts repository or platform errors into domain-aware sentinel errors.
type ErrorTranslator interface {
	Translate(err error) error
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

type CreateRequestCommand struct {
	Type            RequestType
	CustomerName    string
	CustomerContact string
	Details         string
	Priority        Priority
	Fields          map[string]string
	ActorID         string
	Source          string
}

type TransitionCommand struct {
	RequestID      string
	TargetStatus   RequestStatus
	Fields         map[string]string
	ActorID        string
	Reason         string
	ExpectedStatus *RequestStatus
}

type RequestListFilter struct {
	Types      []RequestType
	Statuses   []RequestStatus
	Priorities []Priority
	ActorID    string
	Search     string
	Pagination Pagination
	Sort       SortOrder
}

type EventRecord struct {
	RequestID   string
	RequestType RequestType
	Action      EventAction
	FromStatus  RequestStatus
	ToStatus    RequestStatus
	ActorID     string
	Reason      string
	Fields      map[string]string
	OccurredAt  time.Time
}

type EventListFilter struct {
	Actions    []EventAction
	ActorID    string
	Since      *time.Time
	Until      *time.Time
	Pagination Pagination
	Sort       SortOrder
}

// RequestEventMessage is the payload published to the chat bridge topic after
// a request is created or transitioned.
type RequestEventMessage struct {
	RequestID  string            `json:"requestId"`
	Type       RequestType       `json:"type"`
	Action     EventAction       `json:"action"`
	FromStatus RequestStatus     `json:"fromStatus,omitempty"`
	ToStatus   RequestStatus     `json:"toStatus"`
	ActorID    string            `json:"actorId,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}
