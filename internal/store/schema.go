package store

import (
	"fmt"
	"strings"
	"time"

	"memoria/pkg/memoria"
)

// SchemaVersion identifies one spreadsheet column layout.
type SchemaVersion int

const (
	// SchemaUnknown marks a header that matches no known layout.
	SchemaUnknown SchemaVersion = 0
	// SchemaV1 is the layout without the author column.
	SchemaV1 SchemaVersion = 1
	// SchemaV2 is the canonical layout.
	SchemaV2 SchemaVersion = 2
)

var (
	headerV1 = []string{"Datum", "Original Text", "Aufbereiteter Text", "Monat", "Jahr"}
	headerV2 = []string{"Datum", "Autor", "Original Text", "Aufbereiteter Text", "Monat", "Jahr"}
)

// Header returns the column names of version.
func (v SchemaVersion) Header() []string {
	switch v {
	case SchemaV1:
		return append([]string(nil), headerV1...)
	case SchemaV2:
		return append([]string(nil), headerV2...)
	default:
		return nil
	}
}

// DetectSchema matches a header row against the known layouts.
//
// Cells are compared after trimming; trailing empty cells are ignored.
func DetectSchema(header []string) SchemaVersion {
	trimmed := make([]string, 0, len(header))
	for _, cell := range header {
		trimmed = append(trimmed, strings.TrimSpace(cell))
	}
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == "" {
		trimmed = trimmed[:len(trimmed)-1]
	}

	switch {
	case equalColumns(trimmed, headerV2):
		return SchemaV2
	case equalColumns(trimmed, headerV1):
		return SchemaV1
	default:
		return SchemaUnknown
	}
}

func equalColumns(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}

	return true
}

// EncodeRow lays out one record in the columns of version.
func EncodeRow(version SchemaVersion, record memoria.MemoryRecord) ([]any, error) {
	switch version {
	case SchemaV1:
		return []any{
			record.TimestampText(),
			record.OriginalText,
			record.EnhancedText,
			record.MonthKey,
			record.YearKey,
		}, nil
	case SchemaV2:
		return []any{
			record.TimestampText(),
			record.Author,
			record.OriginalText,
			record.EnhancedText,
			record.MonthKey,
			record.YearKey,
		}, nil
	default:
		return nil, fmt.Errorf("encode row: %w: version %d", memoria.ErrSchemaMismatch, version)
	}
}

// DecodeRow reads one stored row. Missing trailing cells read as empty.
//
// Keys are taken from their own columns, since queries filter on the stored
// values.
func DecodeRow(version SchemaVersion, cells []any, loc *time.Location) (memoria.MemoryRecord, error) {
	width := len(version.Header())
	if width == 0 {
		return memoria.MemoryRecord{}, fmt.Errorf("decode row: %w: version %d", memoria.ErrSchemaMismatch, version)
	}
	values := make([]string, width)
	for index := 0; index < width && index < len(cells); index++ {
		if cells[index] != nil {
			values[index] = strings.TrimSpace(fmt.Sprint(cells[index]))
		}
	}
	if version == SchemaV1 {
		values = append(values[:1], append([]string{""}, values[1:]...)...)
	}

	stamp, err := memoria.ParseRecordTimestamp(values[0], loc)
	if err != nil {
		return memoria.MemoryRecord{}, fmt.Errorf("decode row: %w", err)
	}

	if values[3] == "" {
		values[3] = values[2]
	}

	return memoria.MemoryRecord{
		Timestamp:    stamp,
		Author:       values[1],
		OriginalText: values[2],
		EnhancedText: values[3],
		MonthKey:     values[4],
		YearKey:      values[5],
	}, nil
}
