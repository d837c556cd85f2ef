package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	domain "github.com/shelfmark/intake/internal/domain"
	"github.com/shelfmark/intake/internal/services"
)

const exportPageSize = 500

// Exporter streams the request event log into newline-delimited JSON objects
// in a Cloud Storage bucket, one object per export run.
type Exporter struct {
	events services.EventLogService
	bucket *storage.BucketHandle
	prefix string
	clock  func() time.Time
}

// ExporterDeps bundles constructor inputs for the event archive exporter.
type ExporterDeps struct {
	Events services.EventLogService
	Bucket *storage.BucketHandle
	Prefix string
	Clock  func() time.Time
}

// ExportResult reports where the archive landed and how many events it holds.
type ExportResult struct {
	ObjectName string    `json:"objectName"`
	EventCount int       `json:"eventCount"`
	ExportedAt time.Time `json:"exportedAt"`
}

// NewExporter constructs an event archive exporter.
func NewExporter(deps ExporterDeps) (*Exporter, error) {
	if deps.Events == nil {
		return nil, errors.New("archive exporter: event log service is required")
	}
	if deps.Bucket == nil {
		return nil, errors.New("archive exporter: storage bucket is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	prefix := strings.Trim(strings.TrimSpace(deps.Prefix), "/")
	if prefix == "" {
		prefix = "request-events"
	}

	return &Exporter{
		events: deps.Events,
		bucket: deps.Bucket,
		prefix: prefix,
		clock:  clock,
	}, nil
}

// Export writes every event in the window to a new NDJSON object and returns
// its name. A nil window bound leaves that side open.
func (e *Exporter) Export(ctx context.Context, since, until *time.Time) (ExportResult, error) {
	if e == nil || e.bucket == nil {
		return ExportResult{}, errors.New("archive exporter: not initialised")
	}

	now := e.clock().UTC()
	objectName := fmt.Sprintf("%s/%s/events-%s.ndjson",
		e.prefix, now.Format("2006/01/02"), now.Format("20060102T150405Z"))

	writer := e.bucket.Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"

	count, err := e.writeEvents(ctx, writer, since, until)
	if err != nil {
		_ = writer.Close()
		return ExportResult{}, err
	}
	if err := writer.Close(); err != nil {
		return ExportResult{}, fmt.Errorf("archive exporter: close object %s: %w", objectName, err)
	}

	return ExportResult{
		ObjectName: objectName,
		EventCount: count,
		ExportedAt: now,
	}, nil
}

func (e *Exporter) writeEvents(ctx context.Context, writer *storage.Writer, since, until *time.Time) (int, error) {
	encoder := json.NewEncoder(writer)
	count := 0
	pageToken := ""

	for {
		page, err := e.events.List(ctx, services.EventListFilter{
			Since: since,
			Until: until,
			Pagination: domain.Pagination{
				PageSize:  exportPageSize,
				PageToken: pageToken,
			},
		})
		if err != nil {
			return count, fmt.Errorf("archive exporter: list events: %w", err)
		}

		for _, event := range page.Items {
			if err := encoder.Encode(archiveLine(event)); err != nil {
				return count, fmt.Errorf("archive exporter: encode event %s: %w", event.ID, err)
			}
			count++
		}

		if page.NextPageToken == "" {
			return count, nil
		}
		pageToken = page.NextPageToken
	}
}

type archiveRecord struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"requestId"`
	RequestType    string         `json:"requestType,omitempty"`
	Action         string         `json:"action"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	NewStatus      string         `json:"newStatus,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func archiveLine(event domain.Event) archiveRecord {
	return archiveRecord{
		ID:             event.ID,
		RequestID:      event.RequestID,
		RequestType:    string(event.RequestType),
		Action:         string(event.Action),
		PreviousStatus: string(event.PreviousStatus),
		NewStatus:      string(event.NewStatus),
		Actor:          event.Actor,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}
