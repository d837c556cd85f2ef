package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfmark/intake/internal/platform/httpx"
	"github.com/shelfmark/intake/internal/services"
)

const (
	maxWebhookBodySize = 64 * 1024

	chatSourceName = "chat"

	chatKindIntakeSubmission = "intake_submission"
	chatKindStatusAction     = "status_action"
)

// chatWebhookEnvelope is the signed delivery the chat bridge posts. The kind
// discriminator is explicit: intent is never re-derived from message text.
type chatWebhookEnvelope struct {
	Kind       string                 `json:"kind"`
	DeliveryID string                 `json:"delivery_id,omitempty"`
	Actor      chatActorPayload       `json:"actor"`
	Submission *chatSubmissionPayload `json:"submission,omitempty"`
	Action     *chatActionPayload     `json:"action,omitempty"`
}

type chatActorPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

type chatSubmissionPayload struct {
	Type            string            `json:"type"`
	CustomerName    string            `json:"customer_name"`
	CustomerContact string            `json:"customer_contact"`
	Details         string            `json:"details,omitempty"`
	Priority        string            `json:"priority,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
}

type chatActionPayload struct {
	RequestID      string            `json:"request_id"`
	TargetStatus   string            `json:"target_status"`
	ExpectedStatus string            `json:"expected_status,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// WebhookHandlers accepts deliveries from the chat platform bridge. Signature
// verification happens in the HMAC middleware mounted on the group.
type WebhookHandlers struct {
	requests services.RequestService
	limiter  rateLimiter
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimit throttles deliveries per chat actor. A non-positive
// limit or window disables throttling.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(requests services.RequestService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{requests: requests}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/chat", h.handleChat)
}

func (h *WebhookHandlers) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	var envelope chatWebhookEnvelope
	if !decodeRequestBody(ctx, w, r, &envelope, maxWebhookBodySize) {
		return
	}

	actorID := strings.TrimSpace(envelope.Actor.ID)
	if actorID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "actor.id is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(actorID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many deliveries for this actor", http.StatusTooManyRequests))
		return
	}

	switch strings.TrimSpace(envelope.Kind) {
	case chatKindIntakeSubmission:
		h.handleSubmission(w, r, envelope, actorID)
	case chatKindStatusAction:
		h.handleAction(w, r, envelope, actorID)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be intake_submission or status_action", http.StatusBadRequest))
	}
}

func (h *WebhookHandlers) handleSubmission(w http.ResponseWriter, r *http.Request, envelope chatWebhookEnvelope, actorID string) {
	ctx := r.Context()
	if envelope.Submission == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "submission payload is required", http.StatusBadRequest))
		return
	}

	submission := envelope.Submission
	cmd := services.CreateRequestCommand{
		Type:            services.RequestType(strings.TrimSpace(submission.Type)),
		CustomerName:    submission.CustomerName,
		CustomerContact: submission.CustomerContact,
		Details:         submission.Details,
		Priority:        services.Priority(strings.TrimSpace(submission.Priority)),
		Fields:          cloneStringMap(submission.Fields),
		ActorID:         actorID,
		Source:          chatSourceName,
	}

	created, err := h.requests.CreateRequest(ctx, cmd)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, requestResponse{Request: buildWebhookRequestPayload(created)})
}

func (h *WebhookHandlers) handleAction(w http.ResponseWriter, r *http.Request, envelope chatWebhookEnvelope, actorID string) {
	ctx := r.Context()
	if envelope.Action == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action payload is required", http.StatusBadRequest))
		return
	}

	action := envelope.Action
	requestID := strings.TrimSpace(action.RequestID)
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action.request_id is required", http.StatusBadRequest))
		return
	}
	target := strings.ToUpper(strings.TrimSpace(action.TargetStatus))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action.target_status is required", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionCommand{
		RequestID:    requestID,
		TargetStatus: services.RequestStatus(target),
		Fields:       cloneStringMap(action.Fields),
		ActorID:      actorID,
		Reason:       action.Reason,
	}
	if raw := strings.ToUpper(strings.TrimSpace(action.ExpectedStatus)); raw != "" {
		expected := services.RequestStatus(raw)
		cmd.ExpectedStatus = &expected
	}

	updated, err := h.requests.Transition(ctx, cmd)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: buildWebhookRequestPayload(updated)})
}

func buildWebhookRequestPayload(request services.Request) requestPayload {
	return requestPayload{
		ID:              strings.TrimSpace(request.ID),
		Type:            string(request.Type),
		Status:          string(request.Status),
		CustomerName:    request.CustomerName,
		CustomerContact: request.CustomerContact,
		ContactType:     request.ContactType,
		Details:         request.Details,
		Priority:        string(request.Priority),
		Fields:          cloneStringMap(request.Fields),
		CreatedAt:       formatTime(request.CreatedAt),
		UpdatedAt:       formatTime(request.UpdatedAt),
		LastActor:       request.LastActor,
	}
}
