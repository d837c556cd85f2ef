package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/registry"
	"github.com/shelfmark/intake/internal/repositories"
	"github.com/shelfmark/intake/internal/validation"
)

const requestIDPrefix = "REQ-"

var (
	// ErrRequestInvalidInput signals the caller provided invalid data.
	ErrRequestInvalidInput = errors.New("request: invalid input")
	// ErrRequestNotFound indicates the request could not be located.
	ErrRequestNotFound = errors.New("request: not found")
	// ErrRequestInvalidState indicates a transition not allowed by the type's lifecycle.
	ErrRequestInvalidState = errors.New("request: invalid status transition")
	// ErrRequestConflict indicates a concurrent update won the status race.
	ErrRequestConflict = errors.New("request: conflict")
	// ErrRequestUnavailable indicates a transient storage failure; the caller
	// may retry.
	ErrRequestUnavailable = errors.New("request: storage unavailable")
)

// FieldError describes one failed validation on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every field failure found in one request so the
// caller can fix the whole submission in a single round trip.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrRequestInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrRequestInvalidInput.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrRequestInvalidInput }

// RequestServiceDeps bundles collaborators required to construct the request service.
type RequestServiceDeps struct {
	Requests    repositories.RequestRepository
	Registry    *registry.Registry
	Events      EventLogService
	Publisher   EventPublisher
	Mirror      RequestMirror
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type requestService struct {
	requests   repositories.RequestRepository
	registry   *registry.Registry
	events     EventLogService
	publisher  EventPublisher
	mirror     RequestMirror
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

var _ RequestService = (*requestService)(nil)

// NewRequestService wires dependencies into a concrete RequestService implementation.
func NewRequestService(deps RequestServiceDeps) (RequestService, error) {
	if deps.Requests == nil {
		return nil, errors.New("request service: request repository is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("request service: type registry is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
		logger = func(context.Context, string, map[string]any) {}
	}

	return &requestService{
		requests:   deps.Requests,
		registry:   deps.Registry,
		events:     deps.Events,
		publisher:  deps.Publisher,
		mirror:     deps.Mirror,
		unitOfWork: unit,
		clock:      clock,
		newID:      idGen,
		logger:     logger,
		sanitizer:  bluemonday.StrictPolicy(),
	}, nil
}

func (s *requestService) CreateRequest(ctx context.Context, cmd CreateRequestCommand) (Request, error) {
	requestType := domain.RequestType(strings.TrimSpace(string(cmd.Type)))
	if requestType == "" {
		return Request{}, fmt.Errorf("%w: request type is required", ErrRequestInvalidInput)
	}
	if !s.registry.Known(requestType) {
		return Request{}, fmt.Errorf("%w: unknown request type %q", ErrRequestInvalidInput, requestType)
	}

	now := s.now()
	name := s.clean(cmd.CustomerName)
	contact := strings.TrimSpace(cmd.CustomerContact)
	details := s.clean(cmd.Details)

	fields := map[string]string{}
	for key, value := range cmd.Fields {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = s.clean(value)
	}

	// The checkable view lets required-field rules cover both struct fields
	// and the attribute bag without special-casing names.
	view := maps.Clone(fields)
	view["customer_name"] = name
	view["customer_contact"] = contact

	var fieldErrs []FieldError

	required, err := s.registry.RequiredCreationFields(requestType)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrRequestInvalidInput, err)
	}
	for _, field := range required {
		if strings.TrimSpace(view[field]) == "" {
			fieldErrs = append(fieldErrs, FieldError{Field: field, Message: "is required"})
		}
	}

	fieldErrs = append(fieldErrs, s.validateFieldValues(fields, now)...)

	contactType := ""
	if contact != "" {
		kind, err := validation.Contact(contact)
		if err != nil {
			fieldErrs = append(fieldErrs, FieldError{Field: "customer_contact", Message: err.Error()})
		} else {
			contactType = string(kind)
		}
	}

	priority := cmd.Priority
	if priority == "" {
		priority = domain.PriorityStandard
	}
	if !domain.ValidPriority(priority) {
		fieldErrs = append(fieldErrs, FieldError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", priority)})
	}

	if len(fieldErrs) > 0 {
		sortFieldErrors(fieldErrs)
		return Request{}, &ValidationError{Fields: fieldErrs}
	}

	actor := strings.TrimSpace(cmd.ActorID)
	request := domain.Request{
		ID:              s.nextRequestID(),
		Type:            requestType,
		Status:          domain.StatusNew,
		CustomerName:    name,
		CustomerContact: contact,
		ContactType:     contactType,
		Details:         details,
		Priority:        priority,
		Fields:          fields,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActor:       actor,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Insert(txCtx, request); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.recordEvent(ctx, EventRecord{
		RequestID:   request.ID,
		RequestType: request.Type,
		Action:      domain.EventRequestCreated,
		ToStatus:    request.Status,
		ActorID:     actor,
		Fields:      maps.Clone(fields),
		OccurredAt:  now,
	})

	s.publishEvent(ctx, RequestEventMessage{
		RequestID:  request.ID,
		Type:       request.Type,
		Action:     domain.EventRequestCreated,
		ToStatus:   request.Status,
		ActorID:    actor,
		Fields:     maps.Clone(fields),
		OccurredAt: now,
	})
	s.mirrorRequest(ctx, request)

	return request, nil
}

func (s *requestService) GetRequest(ctx context.Context, requestID string) (Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *requestService) ListRequests(ctx context.Context, filter RequestListFilter) (domain.CursorPage[Request], error) {
	repoFilter := repositories.RequestListFilter{
		Types:      filter.Types,
		Statuses:   filter.Statuses,
		Priority:   filter.Priorities,
		Actor:      strings.TrimSpace(filter.ActorID),
		Pagination: filter.Pagination,
		Sort:       filter.Sort,
	}
	page, err := s.requests.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Request]{}, s.mapRepositoryError(err)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		page.Items = filterBySearch(page.Items, search)
	}
	return page, nil
}

// filterBySearch narrows a fetched page to requests whose customer name,
// details, or title contain the term. Firestore has no substring queries, so
// the match runs over the page in memory; the cursor token still advances
// through the unfiltered sequence.
func filterBySearch(items []domain.Request, term string) []domain.Request {
	term = strings.ToLower(term)
	matched := make([]domain.Request, 0, len(items))
	for _, request := range items {
		if strings.Contains(strings.ToLower(request.CustomerName), term) ||
			strings.Contains(strings.ToLower(request.Details), term) ||
			strings.Contains(strings.ToLower(request.Fields["title"]), term) {
			matched = append(matched, request)
		}
	}
	return matched
}

func (s *requestService) Transition(ctx context.Context, cmd TransitionCommand) (Request, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	target := domain.RequestStatus(strings.TrimSpace(string(cmd.TargetStatus)))

	if requestID == "" {
		return Request{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}
	if target == "" {
		return Request{}, fmt.Errorf("%w: target status is required", ErrRequestInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return Request{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && request.Status != *cmd.ExpectedStatus {
		return Request{}, fmt.Errorf("%w: expected status %q but was %q", ErrRequestConflict, *cmd.ExpectedStatus, request.Status)
	}

	terminal, err := s.registry.IsTerminal(request.Type, request.Status)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrRequestInvalidInput, err)
	}
	if terminal {
		return Request{}, fmt.Errorf("%w: %s is terminal for %s", ErrRequestInvalidState, request.Status, request.Type)
	}

	ok, err := s.registry.CanTransition(request.Type, request.Status, target)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrRequestInvalidInput, err)
	}
	if !ok {
		allowed, _ := s.registry.Transitions(request.Type, request.Status)
		return Request{}, fmt.Errorf("%w: %s cannot move from %s to %s (allowed: %s)",
			ErrRequestInvalidState, request.Type, request.Status, target, joinStatuses(allowed))
	}

	now := s.now()
	supplied := map[string]string{}
	for key, value := range cmd.Fields {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		supplied[key] = s.clean(value)
	}

	var fieldErrs []FieldError

	required, err := s.registry.RequiredFieldsForStatus(request.Type, target)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrRequestInvalidInput, err)
	}
	for _, field := range required {
		if strings.TrimSpace(supplied[field]) == "" && strings.TrimSpace(request.Fields[field]) == "" {
			fieldErrs = append(fieldErrs, FieldError{Field: field, Message: fmt.Sprintf("is required to enter %s", target)})
		}
	}

	fieldErrs = append(fieldErrs, s.validateFieldValues(supplied, now)...)

	if len(fieldErrs) > 0 {
		sortFieldErrors(fieldErrs)
		return Request{}, &ValidationError{Fields: fieldErrs}
	}

	actor := strings.TrimSpace(cmd.ActorID)
	prevStatus := request.Status

	var updated domain.Request
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		updated, txErr = s.requests.UpdateStatusAndFields(txCtx, requestID, repositories.StatusUpdate{
			ExpectedStatus: prevStatus,
			NewStatus:      target,
			Fields:         supplied,
			Actor:          actor,
			UpdatedAt:      now,
		})
		if txErr != nil {
			return s.mapRepositoryError(txErr)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.recordEvent(ctx, EventRecord{
		RequestID:   updated.ID,
		RequestType: updated.Type,
		Action:      domain.EventStatusChange,
		FromStatus:  prevStatus,
		ToStatus:    updated.Status,
		ActorID:     actor,
		Reason:      strings.TrimSpace(cmd.Reason),
		Fields:      maps.Clone(supplied),
		OccurredAt:  now,
	})

	s.publishEvent(ctx, RequestEventMessage{
		RequestID:  updated.ID,
		Type:       updated.Type,
		Action:     domain.EventStatusChange,
		FromStatus: prevStatus,
		ToStatus:   updated.Status,
		ActorID:    actor,
		Fields:     maps.Clone(supplied),
		OccurredAt: now,
	})
	s.mirrorRequest(ctx, updated)

	return updated, nil
}

func (s *requestService) PossibleStatuses(requestType RequestType, current RequestStatus) ([]RequestStatus, error) {
	transitions, err := s.registry.Transitions(requestType, current)
	if err != nil {
		var unknown *registry.UnknownTypeError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", ErrRequestInvalidInput, err)
		}
		return nil, err
	}
	return transitions, nil
}

// validateFieldValues runs the per-field validators over every supplied value
// and returns one FieldError per failure. Fields without a registered
// validator pass through untouched.
func (s *requestService) validateFieldValues(fields map[string]string, now time.Time) []FieldError {
	var errs []FieldError
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		fn, ok := validation.ForField(name)
		if !ok {
			continue
		}
		if err := fn(value, now); err != nil {
			errs = append(errs, FieldError{Field: name, Message: err.Error()})
		}
	}
	return errs
}

func (s *requestService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrRequestNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrRequestConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRequestUnavailable, err)
		}
	}

	return err
}

func (s *requestService) recordEvent(ctx context.Context, record EventRecord) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, record)
}

func (s *requestService) publishEvent(ctx context.Context, event RequestEventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "request.event.publish.failed", map[string]any{
			"request": event.RequestID,
			"action":  string(event.Action),
			"status":  string(event.ToStatus),
			"error":   err.Error(),
		})
	}
}

func (s *requestService) mirrorRequest(ctx context.Context, request Request) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.UpsertRow(ctx, request); err != nil {
		s.logger(ctx, "request.mirror.failed", map[string]any{
			"request": request.ID,
			"error":   err.Error(),
		})
	}
}

// clean strips markup from an inbound value. The sanitizer entity-escapes
// whatever text survives, so the output is unescaped again: names like
// "O'Brien & Sons" must round-trip unchanged.
func (s *requestService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *requestService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *requestService) now() time.Time {
	return s.clock().UTC()
}

func (s *requestService) nextRequestID() string {
	return requestIDPrefix + s.newID()
}

func sortFieldErrors(errs []FieldError) {
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Field == errs[j].Field {
			return errs[i].Message < errs[j].Message
		}
		return errs[i].Field < errs[j].Field
	})
}

func joinStatuses(statuses []domain.RequestStatus) string {
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, string(status))
	}
	return strings.Join(parts, ", ")
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
