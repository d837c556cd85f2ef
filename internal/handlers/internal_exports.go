package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfmark/intake/internal/platform/archive"
	"github.com/shelfmark/intake/internal/platform/httpx"
)

const maxExportBodySize = 4 * 1024

// EventExporter archives a window of the event log to object storage.
type EventExporter interface {
	Export(ctx context.Context, since, until *time.Time) (archive.ExportResult, error)
}

type exportEventsPayload struct {
	Since string `json:"since,omitempty"`
	Until string `json:"until,omitempty"`
}

type exportEventsResponse struct {
	ObjectName string `json:"object_name"`
	EventCount int    `json:"event_count"`
	ExportedAt string `json:"exported_at"`
}

// InternalHandlers exposes operator-only endpoints mounted behind OIDC.
type InternalHandlers struct {
	exporter EventExporter
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(exporter EventExporter) *InternalHandlers {
	return &InternalHandlers{exporter: exporter}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/exports/events", h.exportEvents)
}

func (h *InternalHandlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exporter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "event export is not configured", http.StatusServiceUnavailable))
		return
	}

	var payload exportEventsPayload
	body, err := readLimitedBody(r, maxExportBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &payload); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// An empty body exports the full log.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var since, until *time.Time
	if raw := strings.TrimSpace(payload.Since); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "since must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		since = &ts
	}
	if raw := strings.TrimSpace(payload.Until); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		until = &ts
	}
	if since != nil && until != nil && until.Before(*since) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must not precede since", http.StatusBadRequest))
		return
	}

	result, err := h.exporter.Export(ctx, since, until)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_failed", "failed to archive event log", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, exportEventsResponse{
		ObjectName: result.ObjectName,
		EventCount: result.EventCount,
		ExportedAt: formatTime(result.ExportedAt),
	})
}
