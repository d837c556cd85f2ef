package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/platform/auth"
	"github.com/shelfmark/intake/internal/platform/httpx"
	"github.com/shelfmark/intake/internal/services"
)

const (
	defaultRequestPageSize = 20
	maxRequestPageSize     = 100
	maxRequestBodySize     = 32 * 1024
)

type createRequestPayload struct {
	Type            string            `json:"type"`
	CustomerName    string            `json:"customer_name"`
	CustomerContact string            `json:"customer_contact"`
	Details         string            `json:"details,omitempty"`
	Priority        string            `json:"priority,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	Source          string            `json:"source,omitempty"`
}

type transitionRequestPayload struct {
	TargetStatus   string            `json:"target_status"`
	ExpectedStatus string            `json:"expected_status,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// RequestHandlers exposes the intake request endpoints for authenticated staff.
type RequestHandlers struct {
	authn    *auth.Authenticator
	requests services.RequestService
	events   services.EventLogService
}

// NewRequestHandlers constructs a new RequestHandlers instance.
func NewRequestHandlers(authn *auth.Authenticator, requests services.RequestService, events services.EventLogService) *RequestHandlers {
	return &RequestHandlers{
		authn:    authn,
		requests: requests,
		events:   events,
	}
}

// Routes registers the /requests endpoints.
func (h *RequestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createRequest)
	r.Get("/", h.listRequests)
	r.Get("/{requestID}", h.getRequest)
	r.Post("/{requestID}:transition", h.transitionRequest)
	r.Get("/{requestID}/events", h.listRequestEvents)
}

func (h *RequestHandlers) createRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var payload createRequestPayload
	if !decodeRequestBody(ctx, w, r, &payload, maxRequestBodySize) {
		return
	}

	cmd := services.CreateRequestCommand{
		Type:            services.RequestType(strings.TrimSpace(payload.Type)),
		CustomerName:    payload.CustomerName,
		CustomerContact: payload.CustomerContact,
		Details:         payload.Details,
		Priority:        services.Priority(strings.TrimSpace(payload.Priority)),
		Fields:          cloneStringMap(payload.Fields),
		ActorID:         actorID,
		Source:          strings.TrimSpace(payload.Source),
	}

	created, err := h.requests.CreateRequest(ctx, cmd)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, requestResponse{Request: h.buildRequestPayload(created, false)})
}

// listRequests serves the staff dashboard listing. The q= search term is
// matched against each fetched page after the cursor query runs, so a page
// can come back with zero items while next_page_token is still set; clients
// keep paging until the token is empty.
func (h *RequestHandlers) listRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	filter := services.RequestListFilter{
		ActorID: strings.TrimSpace(query.Get("actor")),
		Search:  strings.TrimSpace(query.Get("q")),
	}
	for _, value := range parseFilterValues(query["type"]) {
		filter.Types = append(filter.Types, services.RequestType(value))
	}
	for _, value := range parseFilterValues(query["status"]) {
		filter.Statuses = append(filter.Statuses, services.RequestStatus(strings.ToUpper(value)))
	}
	for _, value := range parseFilterValues(query["priority"]) {
		filter.Priorities = append(filter.Priorities, services.Priority(strings.ToLower(value)))
	}

	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultRequestPageSize, maxRequestPageSize)
	if !ok {
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.requests.ListRequests(ctx, filter)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]requestPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, h.buildRequestPayload(request, false))
	}

	writeJSONResponse(w, http.StatusOK, requestListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *RequestHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.requests.GetRequest(ctx, requestID)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: h.buildRequestPayload(request, true)})
}

func (h *RequestHandlers) transitionRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var payload transitionRequestPayload
	if !decodeRequestBody(ctx, w, r, &payload, maxRequestBodySize) {
		return
	}

	target := strings.ToUpper(strings.TrimSpace(payload.TargetStatus))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status is required", http.StatusBadRequest))
		return
	}

	cmd := services.TransitionCommand{
		RequestID:    requestID,
		TargetStatus: services.RequestStatus(target),
		Fields:       cloneStringMap(payload.Fields),
		ActorID:      actorID,
		Reason:       payload.Reason,
	}
	if raw := strings.ToUpper(strings.TrimSpace(payload.ExpectedStatus)); raw != "" {
		expected := services.RequestStatus(raw)
		cmd.ExpectedStatus = &expected
	}

	updated, err := h.requests.Transition(ctx, cmd)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestResponse{Request: h.buildRequestPayload(updated, true)})
}

func (h *RequestHandlers) listRequestEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("event_service_unavailable", "event log service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()

	filter := services.EventListFilter{
		ActorID: strings.TrimSpace(query.Get("actor")),
		Sort:    domain.SortAsc,
	}
	for _, value := range parseFilterValues(query["action"]) {
		filter.Actions = append(filter.Actions, services.EventAction(strings.ToUpper(value)))
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.Since = &ts
	}
	if raw := strings.TrimSpace(query.Get("until")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.Until = &ts
	}

	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultRequestPageSize, maxRequestPageSize)
	if !ok {
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.events.ListByRequest(ctx, requestID, filter)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]eventPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, buildEventPayload(event))
	}

	writeJSONResponse(w, http.StatusOK, eventListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type requestListResponse struct {
	Items         []requestPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type requestResponse struct {
	Request requestPayload `json:"request"`
}

type requestPayload struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Status           string            `json:"status"`
	CustomerName     string            `json:"customer_name"`
	CustomerContact  string            `json:"customer_contact"`
	ContactType      string            `json:"contact_type,omitempty"`
	Details          string            `json:"details,omitempty"`
	Priority         string            `json:"priority"`
	Fields           map[string]string `json:"fields,omitempty"`
	PossibleStatuses []string          `json:"possible_statuses,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
	LastActor        string            `json:"last_actor,omitempty"`
}

type eventListResponse struct {
	Items         []eventPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type eventPayload struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id"`
	RequestType    string         `json:"request_type,omitempty"`
	Action         string         `json:"action"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	NewStatus      string         `json:"new_status,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     string         `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *RequestHandlers) buildRequestPayload(request services.Request, includePossible bool) requestPayload {
	payload := requestPayload{
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
	if includePossible && h.requests != nil {
		if statuses, err := h.requests.PossibleStatuses(request.Type, request.Status); err == nil {
			names := make([]string, 0, len(statuses))
			for _, status := range statuses {
				names = append(names, string(status))
			}
			payload.PossibleStatuses = names
		}
	}
	return payload
}

func buildEventPayload(event services.Event) eventPayload {
	return eventPayload{
		ID:             strings.TrimSpace(event.ID),
		RequestID:      strings.TrimSpace(event.RequestID),
		RequestType:    string(event.RequestType),
		Action:         string(event.Action),
		PreviousStatus: string(event.PreviousStatus),
		NewStatus:      string(event.NewStatus),
		Actor:          event.Actor,
		OccurredAt:     formatTime(event.OccurredAt),
		Metadata:       cloneMetadata(event.Metadata),
	}
}

func requireActor(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func decodeRequestBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parsePageSize(ctx context.Context, w http.ResponseWriter, raw string, fallback, ceiling int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return 0, false
	}
	switch {
	case size <= 0:
		return fallback, true
	case size > ceiling:
		return ceiling, true
	default:
		return size, true
	}
}

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "one or more fields are missing or invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, services.ErrRequestInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRequestNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRequestInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("request_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRequestConflict):
		httpx.WriteError(ctx, w, httpx.NewError("request_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRequestUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("request_unavailable", "storage temporarily unavailable, please retry", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("request_error", "failed to process request", http.StatusInternalServerError))
	}
}
