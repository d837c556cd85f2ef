package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/services"
)

func newWebhookRouter(service services.RequestService) chi.Router {
	handler := NewWebhookHandlers(service)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersIntakeSubmission(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	var captured services.CreateRequestCommand

	service := &stubRequestService{
		createFn: func(ctx context.Context, cmd services.CreateRequestCommand) (services.Request, error) {
			captured = cmd
			return services.Request{
				ID:              "REQ-42",
				Type:            cmd.Type,
				Status:          domain.StatusNew,
				CustomerName:    cmd.CustomerName,
				CustomerContact: cmd.CustomerContact,
				CreatedAt:       now,
				UpdatedAt:       now,
			}, nil
		},
	}

	body := `{
		"kind": "intake_submission",
		"delivery_id": "dlv-1",
		"actor": {"id": "U123", "display_name": "Morgan"},
		"submission": {
			"type": "book_hold",
			"customer_name": "Grace Hopper",
			"customer_contact": "555-867-5309",
			"fields": {"title": "A Manual of Operation", "pickup_date": "2025-06-10"}
		}
	}`

	router := newWebhookRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Type != domain.RequestTypeBookHold {
		t.Fatalf("expected type book_hold, got %s", captured.Type)
	}
	if captured.ActorID != "U123" {
		t.Fatalf("expected actor U123, got %s", captured.ActorID)
	}
	if captured.Source != chatSourceName {
		t.Fatalf("expected chat source, got %s", captured.Source)
	}
	if captured.Fields["pickup_date"] != "2025-06-10" {
		t.Fatalf("expected submission fields, got %#v", captured.Fields)
	}

	var resp requestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Request.ID != "REQ-42" {
		t.Fatalf("expected request id REQ-42, got %s", resp.Request.ID)
	}
}

func TestWebhookHandlersStatusAction(t *testing.T) {
	var captured services.TransitionCommand
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			captured = cmd
			return services.Request{
				ID:     cmd.RequestID,
				Type:   domain.RequestTypeSpecialOrder,
				Status: domain.StatusReceived,
			}, nil
		},
	}

	body := `{
		"kind": "status_action",
		"actor": {"id": "U456"},
		"action": {
			"request_id": "REQ-7",
			"target_status": "received",
			"expected_status": "ordered",
			"fields": {"arrival_date": "2025-06-02"}
		}
	}`

	router := newWebhookRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RequestID != "REQ-7" {
		t.Fatalf("expected request id REQ-7, got %s", captured.RequestID)
	}
	if captured.TargetStatus != domain.StatusReceived {
		t.Fatalf("expected target RECEIVED, got %s", captured.TargetStatus)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.StatusOrdered {
		t.Fatalf("expected expected status ORDERED, got %#v", captured.ExpectedStatus)
	}
	if captured.ActorID != "U456" {
		t.Fatalf("expected actor U456, got %s", captured.ActorID)
	}
}

func TestWebhookHandlersUnknownKind(t *testing.T) {
	router := newWebhookRouter(&stubRequestService{})
	body := `{"kind":"message_text","actor":{"id":"U1"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersRequiresActor(t *testing.T) {
	router := newWebhookRouter(&stubRequestService{})
	body := `{"kind":"intake_submission","submission":{"type":"book_hold"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersActionRequiresRequestID(t *testing.T) {
	var called bool
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			called = true
			return services.Request{}, nil
		},
	}

	router := newWebhookRouter(service)
	body := `{"kind":"status_action","actor":{"id":"U1"},"action":{"target_status":"ORDERED"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if called {
		t.Fatalf("transition should not be invoked")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersSubmissionValidationError(t *testing.T) {
	service := &stubRequestService{
		createFn: func(ctx context.Context, cmd services.CreateRequestCommand) (services.Request, error) {
			return services.Request{}, &services.ValidationError{Fields: []services.FieldError{
				{Field: "pickup_date", Message: "date must be in the future"},
			}}
		},
	}

	router := newWebhookRouter(service)
	body := `{"kind":"intake_submission","actor":{"id":"U1"},"submission":{"type":"book_hold","customer_name":"G","customer_contact":"g@example.com","fields":{"pickup_date":"2020-01-01"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pickup_date") {
		t.Fatalf("expected field detail in body, got %s", rr.Body.String())
	}
}

func TestWebhookHandlersRateLimitPerActor(t *testing.T) {
	service := &stubRequestService{
		transitionFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Request, error) {
			return services.Request{ID: cmd.RequestID, Status: domain.StatusOrdered}, nil
		},
	}

	handler := NewWebhookHandlers(service, WithWebhookRateLimit(1, time.Minute))
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)

	body := `{"kind":"status_action","actor":{"id":"U9"},"action":{"request_id":"REQ-9","target_status":"ORDERED"}}`

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first delivery accepted, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body)))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
}
