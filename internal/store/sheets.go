package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"memoria/pkg/memoria"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// DefaultWorksheet is the worksheet records are kept in.
const DefaultWorksheet = "Erinnerungen"

// SheetsConfig configures the Google Sheets backend.
type SheetsConfig struct {
	// SpreadsheetID identifies the target spreadsheet.
	SpreadsheetID string
	// CredentialsFile is a service-account key file path.
	CredentialsFile string
	// CredentialsJSON is an inline service-account key and wins over CredentialsFile.
	CredentialsJSON string
	// Worksheet overrides DefaultWorksheet.
	Worksheet string
	// RewriteHeader replaces an unrecognized header row instead of failing setup.
	RewriteHeader bool
	// Location is the civil zone stored timestamps are read in.
	Location *time.Location
}

// Configured reports whether the spreadsheet and credential material are present.
func (c SheetsConfig) Configured() bool {
	return strings.TrimSpace(c.SpreadsheetID) != "" &&
		(strings.TrimSpace(c.CredentialsJSON) != "" || strings.TrimSpace(c.CredentialsFile) != "")
}

// sheetsAPI is the subset of the Sheets service the backend uses.
type sheetsAPI interface {
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID string, title string) error
	Read(ctx context.Context, spreadsheetID string, cellRange string) ([][]any, error)
	Write(ctx context.Context, spreadsheetID string, cellRange string, rows [][]any) error
	Append(ctx context.Context, spreadsheetID string, cellRange string, rows [][]any) error
}

type googleSheetsAPI struct {
	service *sheets.Service
}

func (a googleSheetsAPI) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	spreadsheet, err := a.service.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet == nil || sheet.Properties == nil {
			continue
		}
		titles = append(titles, sheet.Properties.Title)
	}

	return titles, nil
}

func (a googleSheetsAPI) AddSheet(ctx context.Context, spreadsheetID string, title string) error {
	_, err := a.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()

	return err
}

func (a googleSheetsAPI) Read(ctx context.Context, spreadsheetID string, cellRange string) ([][]any, error) {
	values, err := a.service.Spreadsheets.Values.Get(spreadsheetID, cellRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	return values.Values, nil
}

func (a googleSheetsAPI) Write(ctx context.Context, spreadsheetID string, cellRange string, rows [][]any) error {
	_, err := a.service.Spreadsheets.Values.Update(spreadsheetID, cellRange, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()

	return err
}

func (a googleSheetsAPI) Append(ctx context.Context, spreadsheetID string, cellRange string, rows [][]any) error {
	_, err := a.service.Spreadsheets.Values.Append(spreadsheetID, cellRange, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()

	return err
}

// Sheets stores records as rows of one worksheet.
//
// Queries read the whole worksheet and filter on the key columns.
type Sheets struct {
	api       sheetsAPI
	id        string
	worksheet string
	rewrite   bool
	loc       *time.Location
	logger    *slog.Logger

	version SchemaVersion
}

// NewSheets builds the Google Sheets backend. No request is made until Setup.
//
// ctx must outlive the backend: the credential token source refreshes with it.
func NewSheets(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*Sheets, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("new sheets backend: %w", memoria.ErrNotConfigured)
	}

	options := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentials := strings.TrimSpace(cfg.CredentialsJSON); credentials != "" {
		options = append(options, option.WithCredentialsJSON([]byte(credentials)))
	} else {
		options = append(options, option.WithCredentialsFile(strings.TrimSpace(cfg.CredentialsFile)))
	}
	service, err := sheets.NewService(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("new sheets backend: %w", err)
	}

	return newSheets(googleSheetsAPI{service: service}, cfg, logger), nil
}

func newSheets(api sheetsAPI, cfg SheetsConfig, logger *slog.Logger) *Sheets {
	worksheet := strings.TrimSpace(cfg.Worksheet)
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sheets{
		api:       api,
		id:        strings.TrimSpace(cfg.SpreadsheetID),
		worksheet: worksheet,
		rewrite:   cfg.RewriteHeader,
		loc:       loc,
		logger:    logger,
	}
}

// Name identifies the backend.
func (s *Sheets) Name() string {
	return "sheets"
}

// Version returns the detected header layout after Setup.
func (s *Sheets) Version() SchemaVersion {
	return s.version
}

// Setup ensures the worksheet exists and carries a known header.
func (s *Sheets) Setup(ctx context.Context) error {
	titles, err := s.api.SheetTitles(ctx, s.id)
	if err != nil {
		return classifySheetsError("get spreadsheet", err)
	}
	if !containsTitle(titles, s.worksheet) {
		if err := s.api.AddSheet(ctx, s.id, s.worksheet); err != nil {
			return classifySheetsError("add worksheet "+s.worksheet, err)
		}
		s.logger.InfoContext(ctx, "worksheet created", "worksheet", s.worksheet)
	}

	rows, err := s.api.Read(ctx, s.id, s.headerRange())
	if err != nil {
		return classifySheetsError("read header", err)
	}
	var header []string
	if len(rows) > 0 {
		header = stringCells(rows[0])
	}

	switch version := DetectSchema(header); {
	case version != SchemaUnknown:
		s.version = version
		return nil
	case strings.TrimSpace(strings.Join(header, "")) == "":
		return s.writeHeader(ctx)
	case s.rewrite:
		s.logger.WarnContext(ctx, "rewriting unrecognized header", "worksheet", s.worksheet, "header", header)
		return s.writeHeader(ctx)
	default:
		return fmt.Errorf("verify header of %s: %w: %q", s.worksheet, memoria.ErrSchemaMismatch, header)
	}
}

func (s *Sheets) writeHeader(ctx context.Context) error {
	header := SchemaV2.Header()
	row := make([]any, 0, len(header))
	for _, column := range header {
		row = append(row, column)
	}
	if err := s.api.Write(ctx, s.id, s.quotedTitle()+"!A1", [][]any{row}); err != nil {
		return classifySheetsError("write header", err)
	}
	s.version = SchemaV2

	return nil
}

// Append adds one row after the last filled row.
func (s *Sheets) Append(ctx context.Context, record memoria.MemoryRecord) error {
	row, err := EncodeRow(s.version, record)
	if err != nil {
		return err
	}
	if err := s.api.Append(ctx, s.id, s.quotedTitle()+"!A1", [][]any{row}); err != nil {
		return classifySheetsError("append row", err)
	}

	return nil
}

// Query reads every data row and keeps the matching ones.
func (s *Sheets) Query(ctx context.Context, filter Filter) ([]memoria.MemoryRecord, error) {
	rows, err := s.api.Read(ctx, s.id, s.quotedTitle())
	if err != nil {
		return nil, classifySheetsError("read rows", err)
	}

	records := make([]memoria.MemoryRecord, 0, len(rows))
	for index, row := range rows {
		if index == 0 || blankRow(row) {
			continue
		}
		record, err := DecodeRow(s.version, row, s.loc)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable row",
				"worksheet", s.worksheet,
				"row", index+1,
				"error", err,
			)
			continue
		}
		if filter.Match(record) {
			records = append(records, record)
		}
	}

	return records, nil
}

// Close has nothing to release.
func (s *Sheets) Close(context.Context) error {
	return nil
}

func (s *Sheets) quotedTitle() string {
	return "'" + strings.ReplaceAll(s.worksheet, "'", "''") + "'"
}

func (s *Sheets) headerRange() string {
	return s.quotedTitle() + "!1:1"
}

func containsTitle(titles []string, title string) bool {
	for _, candidate := range titles {
		if candidate == title {
			return true
		}
	}

	return false
}

func stringCells(row []any) []string {
	cells := make([]string, 0, len(row))
	for _, cell := range row {
		if cell == nil {
			cells = append(cells, "")
			continue
		}
		cells = append(cells, fmt.Sprint(cell))
	}

	return cells
}

func blankRow(row []any) bool {
	for _, cell := range stringCells(row) {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}

// classifySheetsError maps API failures onto the store error taxonomy.
func classifySheetsError(operation string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound,
			apiErr.Code == http.StatusForbidden,
			apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", operation, memoria.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %w: %w", operation, memoria.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", operation, memoria.ErrTransient, err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}

var _ Backend = (*Sheets)(nil)
