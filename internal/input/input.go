// Package input parses the operator-supplied ID lists and CSV files into
// typed rows. Problems confined to one row are attached to that row; problems
// with the file as a whole are returned as *FileError.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/deskops/requesterctl/internal/core"
)

// Check names identify which input validation failed. They double as the
// operation column of the replace-secondary-emails error log.
const (
	CheckCSVExists       = "check_csv_exists"
	CheckCSVFile         = "check_input_csv_file"
	CheckCSVHeaders      = "check_input_csv_headers"
	CheckCSVErrors       = "catch_csv_errors"
	CheckDataRowExists   = "check_data_row_exists"
	CheckRequesterFormat = "check_requester_id_format"
	CheckRowFormat       = "check_row_format"
)

// ExternalIDHeader is the exact header required by the external ID CSV.
var ExternalIDHeader = []string{"requester_id", "external_id"}

// ErrNoIDs is returned when an ID list contains no usable IDs.
var ErrNoIDs = errors.New("no valid requester ids found")

// FileError reports a problem that prevents processing any row of a file.
type FileError struct {
	Path  string
	Check string
	Err   error
}

func (e *FileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Check, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Check, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// RowError explains why a row was not processed.
type RowError struct {
	Check   string
	Message string
}

func (e *RowError) Error() string { return e.Check + ": " + e.Message }

// Row is one parsed input row. Only the fields used by the row's operation
// are set.
type Row struct {
	// Number is the 1-based record number, header included.
	Number int
	// Ref is the raw requester cell, or "Row N" when the cell is empty.
	Ref string

	RequesterID    core.RequesterID
	SecondaryID    core.RequesterID
	PrimaryEmail   string
	SecondaryEmail string
	Emails         []string
	ExternalID     string

	Err *RowError
}

// Valid reports whether the row can be sent to the API.
func (r Row) Valid() bool { return r.Err == nil }

// Open opens path for reading, mapping a missing file to a FileError.
func Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FileError{Path: path, Check: CheckCSVExists, Err: err}
		}
		return nil, err
	}
	return f, nil
}

// ReadIDs reads one requester ID per line. Lines that are not plain digits
// are skipped.
func ReadIDs(r io.Reader) ([]Row, error) {
	scanner := bufio.NewScanner(r)
	var rows []Row
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if !isDigits(text) {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			continue
		}
		rows = append(rows, Row{Number: line, Ref: text, RequesterID: core.RequesterID(id)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoIDs
	}
	return rows, nil
}

// ReadMergeRows reads "primary_id,secondary_id" rows. A leading header row is
// tolerated.
func ReadMergeRows(r io.Reader) ([]Row, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for i, record := range skipHeader(records) {
		row := newRow(i+firstDataRow(records), record)
		if len(record) < 2 {
			row.Err = &RowError{Check: CheckRowFormat, Message: fmt.Sprintf("expected primary and secondary ids, got %d columns", len(record))}
			rows = append(rows, row)
			continue
		}
		if row.RequesterID, row.Err = parseID(record[0]); row.Err == nil {
			row.SecondaryID, row.Err = parseID(record[1])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadEmailRows reads "id,primary_email,secondary_email" rows. A leading
// header row is tolerated.
func ReadEmailRows(r io.Reader) ([]Row, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for i, record := range skipHeader(records) {
		row := newRow(i+firstDataRow(records), record)
		if len(record) < 3 {
			row.Err = &RowError{Check: CheckRowFormat, Message: fmt.Sprintf("expected id, primary and secondary email, got %d columns", len(record))}
			rows = append(rows, row)
			continue
		}
		row.RequesterID, row.Err = parseID(record[0])
		row.PrimaryEmail = strings.TrimSpace(record[1])
		row.SecondaryEmail = strings.TrimSpace(record[2])
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadAddSecondaryRows reads "id,email1[,email2...]" rows after a required
// header row.
func ReadAddSecondaryRows(r io.Reader) ([]Row, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &FileError{Check: CheckCSVFile, Err: errors.New("file is empty or has no header")}
	}
	if len(records[0]) < 2 {
		return nil, &FileError{Check: CheckCSVHeaders, Err: errors.New("header needs a requester id column and at least one email column")}
	}

	var rows []Row
	for i, record := range records[1:] {
		row := newRow(i+2, record)
		row.RequesterID, row.Err = parseID(record[0])
		if row.Err == nil {
			row.Emails = cleanCells(record[1:])
			if len(row.Emails) == 0 {
				row.Err = &RowError{Check: CheckRowFormat, Message: "no secondary emails to add"}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadExternalIDRows reads "requester_id,external_id" rows. The header must
// match ExternalIDHeader exactly.
func ReadExternalIDRows(r io.Reader) ([]Row, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &FileError{Check: CheckCSVFile, Err: errors.New("file is empty or has no header")}
	}
	if !equalHeader(records[0], ExternalIDHeader) {
		return nil, &FileError{
			Check: CheckCSVHeaders,
			Err:   fmt.Errorf("header must be %q, got %q", strings.Join(ExternalIDHeader, ","), strings.Join(records[0], ",")),
		}
	}

	var rows []Row
	for i, record := range records[1:] {
		row := newRow(i+2, record)
		if len(record) < 2 {
			row.Err = &RowError{Check: CheckRowFormat, Message: "expected requester_id and external_id"}
			rows = append(rows, row)
			continue
		}
		row.RequesterID, row.Err = parseID(record[0])
		row.ExternalID = strings.TrimSpace(record[1])
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadReplaceRows reads "requester_id,email1[,email2...]" rows after a header
// whose first column is requester_id.
func ReadReplaceRows(r io.Reader) ([]Row, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &FileError{Check: CheckCSVFile, Err: errors.New("file is empty or has no header")}
	}
	if len(records[0]) < 1 || !strings.EqualFold(strings.TrimSpace(records[0][0]), "requester_id") {
		return nil, &FileError{Check: CheckCSVHeaders, Err: errors.New("first header column must be requester_id")}
	}

	var rows []Row
	for i, record := range records[1:] {
		number := i + 2
		row := newRow(number, record)
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			row.Ref = fmt.Sprintf("Row %d", number)
			row.Err = &RowError{Check: CheckDataRowExists, Message: fmt.Sprintf("skipping row %d: requester_id is missing or empty", number)}
			rows = append(rows, row)
			continue
		}
		row.RequesterID, row.Err = parseID(record[0])
		if row.Err == nil {
			row.Emails = cleanCells(record[1:])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &FileError{Check: CheckCSVErrors, Err: err}
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

// hasHeader reports whether the first record names its columns instead of
// carrying data.
func hasHeader(records [][]string) bool {
	if len(records) == 0 || len(records[0]) == 0 {
		return false
	}
	first := strings.TrimSpace(records[0][0])
	if first == "" {
		return false
	}
	_, err := strconv.ParseInt(first, 10, 64)
	return err != nil && strings.ContainsAny(strings.ToLower(first), "abcdefghijklmnopqrstuvwxyz")
}

func skipHeader(records [][]string) [][]string {
	if hasHeader(records) {
		return records[1:]
	}
	return records
}

func firstDataRow(records [][]string) int {
	if hasHeader(records) {
		return 2
	}
	return 1
}

func newRow(number int, record []string) Row {
	row := Row{Number: number}
	if len(record) > 0 {
		row.Ref = strings.TrimSpace(record[0])
	}
	return row
}

func parseID(value string) (core.RequesterID, *RowError) {
	value = strings.TrimSpace(value)
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, &RowError{Check: CheckRequesterFormat, Message: fmt.Sprintf("invalid requester id format %q", value)}
	}
	return core.RequesterID(id), nil
}

func cleanCells(cells []string) []string {
	cleaned := make([]string, 0, len(cells))
	for _, cell := range cells {
		if cell = strings.TrimSpace(cell); cell != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
