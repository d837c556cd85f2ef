package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/registry"
	"github.com/shelfmark/intake/internal/repositories"
)

type stubRequestRepo struct {
	insertFn func(context.Context, domain.Request) error
	findFn   func(context.Context, string) (domain.Request, error)
	listFn   func(context.Context, repositories.RequestListFilter) (domain.CursorPage[domain.Request], error)
	updateFn func(context.Context, string, repositories.StatusUpdate) (domain.Request, error)
}

func (s *stubRequestRepo) Insert(ctx context.Context, request domain.Request) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, request)
	}
	return nil
}

func (s *stubRequestRepo) FindByID(ctx context.Context, requestID string) (domain.Request, error) {
	if s.findFn != nil {
		return s.findFn(ctx, requestID)
	}
	return domain.Request{}, errors.New("not implemented")
}

func (s *stubRequestRepo) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.Request], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Request]{}, nil
}

func (s *stubRequestRepo) UpdateStatusAndFields(ctx context.Context, requestID string, update repositories.StatusUpdate) (domain.Request, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, requestID, update)
	}
	return domain.Request{}, errors.New("not implemented")
}

type captureEventLog struct {
	records []EventRecord
}

func (c *captureEventLog) Record(_ context.Context, record EventRecord) {
	c.records = append(c.records, record)
}

func (c *captureEventLog) ListByRequest(context.Context, string, EventListFilter) (domain.CursorPage[Event], error) {
	return domain.CursorPage[Event]{}, errors.New("not implemented")
}

func (c *captureEventLog) List(context.Context, EventListFilter) (domain.CursorPage[Event], error) {
	return domain.CursorPage[Event]{}, errors.New("not implemented")
}

type capturePublisher struct {
	messages []RequestEventMessage
	err      error
}

func (c *capturePublisher) Publish(_ context.Context, event RequestEventMessage) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, event)
	return nil
}

type stubRequestUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubRequestUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type conflictRepoError struct{ msg string }

func (e conflictRepoError) Error() string       { return e.msg }
func (e conflictRepoError) IsNotFound() bool    { return false }
func (e conflictRepoError) IsConflict() bool    { return true }
func (e conflictRepoError) IsUnavailable() bool { return false }

type unavailableRepoError struct{ msg string }

func (e unavailableRepoError) Error() string       { return e.msg }
func (e unavailableRepoError) IsNotFound() bool    { return false }
func (e unavailableRepoError) IsConflict() bool    { return false }
func (e unavailableRepoError) IsUnavailable() bool { return true }

func newTestRequestService(t *testing.T, repo repositories.RequestRepository, opts func(*RequestServiceDeps)) (RequestService, *captureEventLog, *capturePublisher) {
	t.Helper()
	events := &captureEventLog{}
	publisher := &capturePublisher{}
	typeRegistry, err := registry.New()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	deps := RequestServiceDeps{
		Requests:    repo,
		Registry:    typeRegistry,
		Events:      events,
		Publisher:   publisher,
		UnitOfWork:  &stubRequestUnitOfWork{},
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "000TEST" },
	}
	if opts != nil {
		opts(&deps)
	}
	svc, err := NewRequestService(deps)
	if err != nil {
		t.Fatalf("new request service: %v", err)
	}
	return svc, events, publisher
}

func TestRequestServiceCreateRequest(t *testing.T) {
	ctx := context.Background()
	var inserted []domain.Request

	repo := &stubRequestRepo{
		insertFn: func(_ context.Context, request domain.Request) error {
			inserted = append(inserted, request)
			return nil
		},
	}

	svc, events, publisher := newTestRequestService(t, repo, nil)

	request, err := svc.CreateRequest(ctx, CreateRequestCommand{
		Type:            domain.RequestTypeSpecialOrder,
		CustomerName:    "  Ada Lovelace ",
		CustomerContact: "ada@example.com",
		Details:         "First edition if possible",
		Fields: map[string]string{
			"title": "The Analytical Engine",
			"isbn":  "978-0-306-40615-7",
		},
		ActorID: "staff-1",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if request.ID != "REQ-000TEST" {
		t.Fatalf("unexpected request id %s", request.ID)
	}
	if request.Status != domain.StatusNew {
		t.Fatalf("expected status NEW got %s", request.Status)
	}
	if request.CustomerName != "Ada Lovelace" {
		t.Fatalf("expected trimmed name got %q", request.CustomerName)
	}
	if request.ContactType != "email" {
		t.Fatalf("expected contact type email got %q", request.ContactType)
	}
	if request.Priority != domain.PriorityStandard {
		t.Fatalf("expected default priority got %s", request.Priority)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 insert got %d", len(inserted))
	}
	if len(events.records) != 1 || events.records[0].Action != domain.EventRequestCreated {
		t.Fatalf("expected one REQUEST_CREATED record got %+v", events.records)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].ToStatus != domain.StatusNew {
		t.Fatalf("expected one published creation message got %+v", publisher.messages)
	}
}

func TestRequestServiceCreateRequestKeepsPlainTextVerbatim(t *testing.T) {
	repo := &stubRequestRepo{
		insertFn: func(context.Context, domain.Request) error { return nil },
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	request, err := svc.CreateRequest(context.Background(), CreateRequestCommand{
		Type:            domain.RequestTypeSpecialOrder,
		CustomerName:    "O'Brien & Sons",
		CustomerContact: "obrien@example.com",
		Details:         `asked for the "deluxe" <b>boxed</b> edition`,
		Fields: map[string]string{
			"title": "War & Peace",
			"isbn":  "978-0-306-40615-7",
		},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if request.CustomerName != "O'Brien & Sons" {
		t.Fatalf("apostrophe and ampersand must survive, got %q", request.CustomerName)
	}
	if request.Fields["title"] != "War & Peace" {
		t.Fatalf("title must survive untouched, got %q", request.Fields["title"])
	}
	if request.Details != `asked for the "deluxe" boxed edition` {
		t.Fatalf("markup stripped but text kept, got %q", request.Details)
	}
}

func TestRequestServiceCreateRequestStorageUnavailable(t *testing.T) {
	repo := &stubRequestRepo{
		insertFn: func(context.Context, domain.Request) error {
			return unavailableRepoError{msg: "firestore: deadline exceeded"}
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.CreateRequest(context.Background(), CreateRequestCommand{
		Type:            domain.RequestTypeSpecialOrder,
		CustomerName:    "Ada Lovelace",
		CustomerContact: "ada@example.com",
		Fields: map[string]string{
			"title": "The Analytical Engine",
			"isbn":  "978-0-306-40615-7",
		},
	})
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Fatalf("expected unavailable sentinel got %v", err)
	}
}

func TestRequestServiceCreateRequestCollectsAllErrors(t *testing.T) {
	ctx := context.Background()
	repo := &stubRequestRepo{
		insertFn: func(context.Context, domain.Request) error {
			t.Fatal("insert must not run when validation fails")
			return nil
		},
	}

	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.CreateRequest(ctx, CreateRequestCommand{
		Type:            domain.RequestTypeSpecialOrder,
		CustomerName:    "Ada",
		CustomerContact: "not-a-contact",
		Fields: map[string]string{
			"isbn": "9780306406158",
		},
	})
	if !errors.Is(err, ErrRequestInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError got %T", err)
	}
	// Bad contact, bad ISBN checksum, and the missing title must all be reported.
	if len(vErr.Fields) != 3 {
		t.Fatalf("expected 3 field errors got %d: %v", len(vErr.Fields), vErr.Fields)
	}
	seen := map[string]bool{}
	for _, f := range vErr.Fields {
		seen[f.Field] = true
	}
	for _, field := range []string{"customer_contact", "isbn", "title"} {
		if !seen[field] {
			t.Fatalf("expected error for %s, got %v", field, vErr.Fields)
		}
	}
}

func TestRequestServiceCreateRequestUnknownType(t *testing.T) {
	svc, _, _ := newTestRequestService(t, &stubRequestRepo{}, nil)

	_, err := svc.CreateRequest(context.Background(), CreateRequestCommand{Type: "vinyl_order"})
	if !errors.Is(err, ErrRequestInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
	if !strings.Contains(err.Error(), "vinyl_order") {
		t.Fatalf("expected type name in error got %v", err)
	}
}

func TestRequestServiceTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	stored := domain.Request{
		ID:     "REQ-1",
		Type:   domain.RequestTypeSpecialOrder,
		Status: domain.StatusNew,
		Fields: map[string]string{"title": "Dune", "isbn": "9780306406157"},
	}
	var gotUpdate repositories.StatusUpdate
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			if id != "REQ-1" {
				t.Fatalf("unexpected id %s", id)
			}
			return stored, nil
		},
		updateFn: func(_ context.Context, id string, update repositories.StatusUpdate) (domain.Request, error) {
			gotUpdate = update
			next := stored
			next.Status = update.NewStatus
			next.UpdatedAt = update.UpdatedAt
			next.LastActor = update.Actor
			return next, nil
		},
	}

	svc, events, publisher := newTestRequestService(t, repo, nil)

	updated, err := svc.Transition(ctx, TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusOrdered,
		ActorID:      "staff-2",
		Fields: map[string]string{
			"order_number":      "D123456",
			"estimated_arrival": "2025-06-15",
		},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if updated.Status != domain.StatusOrdered {
		t.Fatalf("expected ORDERED got %s", updated.Status)
	}
	if gotUpdate.ExpectedStatus != domain.StatusNew {
		t.Fatalf("expected conditional update on NEW got %s", gotUpdate.ExpectedStatus)
	}
	if !gotUpdate.UpdatedAt.Equal(now) {
		t.Fatalf("expected clock timestamp got %s", gotUpdate.UpdatedAt)
	}
	if len(events.records) != 1 {
		t.Fatalf("expected one event record got %d", len(events.records))
	}
	record := events.records[0]
	if record.Action != domain.EventStatusChange || record.FromStatus != domain.StatusNew || record.ToStatus != domain.StatusOrdered {
		t.Fatalf("unexpected event record %+v", record)
	}
	if len(publisher.messages) != 1 || publisher.messages[0].FromStatus != domain.StatusNew {
		t.Fatalf("unexpected published message %+v", publisher.messages)
	}
}

func TestRequestServiceTransitionRejectsUnknownTarget(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeSpecialOrder, Status: domain.StatusNew}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusPaid,
	})
	if !errors.Is(err, ErrRequestInvalidState) {
		t.Fatalf("expected invalid state got %v", err)
	}
	// The error names the transitions the caller could have taken.
	if !strings.Contains(err.Error(), string(domain.StatusOrdered)) {
		t.Fatalf("expected allowed statuses in error got %v", err)
	}
}

func TestRequestServiceTransitionRequiresStatusFields(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeSpecialOrder, Status: domain.StatusNew}, nil
		},
		updateFn: func(context.Context, string, repositories.StatusUpdate) (domain.Request, error) {
			t.Fatal("update must not run when required fields are missing")
			return domain.Request{}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusOrdered,
	})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError got %v", err)
	}
	if len(vErr.Fields) != 2 {
		t.Fatalf("expected order_number and estimated_arrival errors got %v", vErr.Fields)
	}
}

func TestRequestServiceTransitionAcceptsPreviouslyCapturedFields(t *testing.T) {
	// A field captured on an earlier transition satisfies the requirement later.
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{
				ID:     id,
				Type:   domain.RequestTypeSpecialOrder,
				Status: domain.StatusNew,
				Fields: map[string]string{"order_number": "12345", "estimated_arrival": "2025-06-20"},
			}, nil
		},
		updateFn: func(_ context.Context, id string, update repositories.StatusUpdate) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeSpecialOrder, Status: update.NewStatus}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	if _, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusOrdered,
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}
}

func TestRequestServiceTransitionTerminalStatus(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeBookHold, Status: domain.StatusCompleted}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusCancelled,
	})
	if !errors.Is(err, ErrRequestInvalidState) {
		t.Fatalf("expected invalid state got %v", err)
	}
}

func TestRequestServiceTransitionExpectedStatusMismatch(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeSpecialOrder, Status: domain.StatusOrdered}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	expected := domain.StatusNew
	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:      "REQ-1",
		TargetStatus:   domain.StatusReceived,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrRequestConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestRequestServiceTransitionConditionalUpdateConflict(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{
				ID:     id,
				Type:   domain.RequestTypeSpecialOrder,
				Status: domain.StatusNew,
				Fields: map[string]string{"order_number": "12345", "estimated_arrival": "2025-07-01"},
			}, nil
		},
		updateFn: func(context.Context, string, repositories.StatusUpdate) (domain.Request, error) {
			return domain.Request{}, conflictRepoError{msg: "status changed concurrently"}
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusOrdered,
	})
	if !errors.Is(err, ErrRequestConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestRequestServiceBookHoldPaymentGate(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeBookHold, Status: domain.StatusNew}, nil
		},
		updateFn: func(_ context.Context, id string, update repositories.StatusUpdate) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeBookHold, Status: update.NewStatus}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	_, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusPaid,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected missing payment fields got %v", err)
	}

	if _, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusPaid,
		Fields: map[string]string{
			"payment_method": "card",
			"order_number":   "12345",
		},
	}); err != nil {
		t.Fatalf("paid transition with fields: %v", err)
	}
}

func TestRequestServicePublishFailureDoesNotFailTransition(t *testing.T) {
	repo := &stubRequestRepo{
		findFn: func(_ context.Context, id string) (domain.Request, error) {
			return domain.Request{
				ID:     id,
				Type:   domain.RequestTypeSpecialOrder,
				Status: domain.StatusNew,
				Fields: map[string]string{"order_number": "12345", "estimated_arrival": "2025-07-01"},
			}, nil
		},
		updateFn: func(_ context.Context, id string, update repositories.StatusUpdate) (domain.Request, error) {
			return domain.Request{ID: id, Type: domain.RequestTypeSpecialOrder, Status: update.NewStatus}, nil
		},
	}

	var logged []string
	svc, _, publisher := newTestRequestService(t, repo, func(deps *RequestServiceDeps) {
		deps.Logger = func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		}
	})
	publisher.err = errors.New("topic unavailable")

	if _, err := svc.Transition(context.Background(), TransitionCommand{
		RequestID:    "REQ-1",
		TargetStatus: domain.StatusOrdered,
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	found := false
	for _, event := range logged {
		if event == "request.event.publish.failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure to be logged, got %v", logged)
	}
}

func TestRequestServicePossibleStatuses(t *testing.T) {
	svc, _, _ := newTestRequestService(t, &stubRequestRepo{}, nil)

	statuses, err := svc.PossibleStatuses(domain.RequestTypeBookHold, domain.StatusNew)
	if err != nil {
		t.Fatalf("possible statuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected PAID and CANCELLED got %v", statuses)
	}

	if _, err := svc.PossibleStatuses("vinyl_order", domain.StatusNew); !errors.Is(err, ErrRequestInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
}

func TestRequestServiceListRequests(t *testing.T) {
	var gotFilter repositories.RequestListFilter
	repo := &stubRequestRepo{
		listFn: func(_ context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.Request], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Request]{
				Items: []domain.Request{
					{ID: "REQ-1", CustomerName: "Mina Okafor", Fields: map[string]string{"title": "The Left Hand of Darkness"}},
					{ID: "REQ-2", CustomerName: "Jo Park", Details: "signed copy if possible"},
					{ID: "REQ-3", CustomerName: "Sam Reyes"},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	svc, _, _ := newTestRequestService(t, repo, nil)

	page, err := svc.ListRequests(context.Background(), RequestListFilter{ActorID: " staff:amy "})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if gotFilter.Actor != "staff:amy" {
		t.Fatalf("expected trimmed actor got %q", gotFilter.Actor)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 requests got %d", len(page.Items))
	}

	page, err = svc.ListRequests(context.Background(), RequestListFilter{Search: "darkness"})
	if err != nil {
		t.Fatalf("list requests with search: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "REQ-1" {
		t.Fatalf("expected title match got %v", page.Items)
	}

	page, err = svc.ListRequests(context.Background(), RequestListFilter{Search: "SIGNED"})
	if err != nil {
		t.Fatalf("list requests with search: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "REQ-2" {
		t.Fatalf("expected details match got %v", page.Items)
	}

	// A term matching nothing on this page still returns the cursor so the
	// caller can keep paging through the rest of the result set.
	page, err = svc.ListRequests(context.Background(), RequestListFilter{Search: "atlas of remote islands"})
	if err != nil {
		t.Fatalf("list requests with search: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty page got %v", page.Items)
	}
	if page.NextPageToken != "tok-next" {
		t.Fatalf("expected page token to survive an empty filtered page, got %q", page.NextPageToken)
	}
}
