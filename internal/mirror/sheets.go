package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shelfmark/intake/internal/services"
)

const requestRowRange = "Requests!A:G"

// SheetsMirror reflects request state into a Google Sheet the floor staff
// keep open at the register. One row per request, keyed by request ID in
// column A. Writes are best-effort; the caller decides how failures surface.
type SheetsMirror struct {
	service       *sheets.Service
	spreadsheetID string
}

// Option customises the sheets mirror.
type Option func(*config)

type config struct {
	clientOptions []option.ClientOption
}

// WithClientOptions forwards Google API client options, such as credentials files.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, opts...)
	}
}

// NewSheetsMirror builds a mirror bound to one spreadsheet.
func NewSheetsMirror(ctx context.Context, spreadsheetID string, opts ...Option) (*SheetsMirror, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("sheets mirror: spreadsheet id is required")
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	service, err := sheets.NewService(ctx, cfg.clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("sheets mirror: create service: %w", err)
	}

	return &SheetsMirror{service: service, spreadsheetID: spreadsheetID}, nil
}

var _ services.RequestMirror = (*SheetsMirror)(nil)

// UpsertRow writes the request's current state into its row, appending a new
// row when the request has none yet.
func (m *SheetsMirror) UpsertRow(ctx context.Context, request services.Request) error {
	if m == nil || m.service == nil {
		return errors.New("sheets mirror: not initialised")
	}
	requestID := strings.TrimSpace(request.ID)
	if requestID == "" {
		return errors.New("sheets mirror: request id is required")
	}

	row := requestRow(request)

	rowIndex, err := m.findRow(ctx, requestID)
	if err != nil {
		return err
	}

	values := &sheets.ValueRange{Values: [][]any{row}}
	if rowIndex > 0 {
		target := fmt.Sprintf("Requests!A%d:G%d", rowIndex, rowIndex)
		_, err = m.service.Spreadsheets.Values.
			Update(m.spreadsheetID, target, values).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
	} else {
		_, err = m.service.Spreadsheets.Values.
			Append(m.spreadsheetID, requestRowRange, values).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	}
	if err != nil {
		return fmt.Errorf("sheets mirror: write row for %s: %w", requestID, err)
	}
	return nil
}

// findRow returns the 1-based sheet row holding the request, or 0 when absent.
func (m *SheetsMirror) findRow(ctx context.Context, requestID string) (int, error) {
	resp, err := m.service.Spreadsheets.Values.
		Get(m.spreadsheetID, "Requests!A:A").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 400 {
			// Missing sheet tab; append will create rows from the top.
			return 0, nil
		}
		return 0, fmt.Errorf("sheets mirror: scan rows: %w", err)
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if value, ok := row[0].(string); ok && strings.TrimSpace(value) == requestID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func requestRow(request services.Request) []any {
	updated := ""
	if !request.UpdatedAt.IsZero() {
		updated = request.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		request.ID,
		string(request.Type),
		string(request.Status),
		request.CustomerName,
		request.CustomerContact,
		string(request.Priority),
		updated,
	}
}
