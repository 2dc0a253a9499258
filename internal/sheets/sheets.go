// Package sheets appends health log rows to a Google spreadsheet.
//
// Rows are (date, label, notes) triples appended below the existing data.
// The spreadsheet is an external convenience log: append failures are
// reported to the caller, which surfaces them as warnings, never as fatal
// errors.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultAppendRange targets the first three columns (Date, Label, Notes) of
// the first sheet.
const DefaultAppendRange = "Sheet1!A:C"

// Opts holds configuration options for the sheet logger.
type Opts struct {
	// CredentialsFile is the path to a service account JSON key file.
	CredentialsFile string
	// CredentialsJSON holds the service account key directly. Takes
	// precedence over CredentialsFile.
	CredentialsJSON []byte
	// SpreadsheetID identifies the target spreadsheet.
	SpreadsheetID string
	// AppendRange overrides DefaultAppendRange.
	AppendRange string
}

// Option configures the sheet logger.
type Option func(*Opts)

// WithCredentialsFile sets the service account key file path.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithCredentialsJSON sets the service account key bytes directly.
func WithCredentialsJSON(b []byte) Option {
	return func(o *Opts) { o.CredentialsJSON = b }
}

// WithSpreadsheetID sets the target spreadsheet.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithAppendRange overrides the append range.
func WithAppendRange(r string) Option {
	return func(o *Opts) { o.AppendRange = r }
}

// Logger appends rows to a Google spreadsheet via the Sheets API.
type Logger struct {
	svc           *sheets.Service
	spreadsheetID string
	appendRange   string
}

// NewLogger builds a sheet logger from service account credentials. Missing
// credentials or a missing spreadsheet ID are configuration errors.
func NewLogger(ctx context.Context, opts ...Option) (*Logger, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID not set")
	}

	credsJSON := cfg.CredentialsJSON
	if len(credsJSON) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, fmt.Errorf("sheets credentials not set: provide a service account key")
		}
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheets credentials file: %w", err)
		}
		credsJSON = b
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	appendRange := cfg.AppendRange
	if appendRange == "" {
		appendRange = DefaultAppendRange
	}

	slog.Debug("Sheets.NewLogger: sheet logger initialized", "spreadsheet_id", cfg.SpreadsheetID, "range", appendRange)
	return &Logger{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		appendRange:   appendRange,
	}, nil
}

// Append adds one (date, label, notes) row below the existing data. Rows
// carry no key and no uniqueness constraint; duplicate appends are possible
// and acceptable.
func (l *Logger) Append(ctx context.Context, date, label, notes string) error {
	values := &sheets.ValueRange{
		Values: [][]interface{}{{date, label, notes}},
	}
	_, err := l.svc.Spreadsheets.Values.Append(l.spreadsheetID, l.appendRange, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheet append failed: %w", err)
	}
	slog.Debug("Sheets.Append: row appended", "spreadsheet_id", l.spreadsheetID, "label", label)
	return nil
}
