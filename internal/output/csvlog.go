package output

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deskops/requesterctl/internal/core"
)

// MaxSecondaryEmailColumns is the number of email columns in the success log.
const MaxSecondaryEmailColumns = 4

var (
	// ErrorLogHeader is the header of the replace-secondary-emails error log.
	ErrorLogHeader = []string{"requester_id", "operation", "status_code", "response_text"}
	// SuccessLogHeader is the header of the replace-secondary-emails success log.
	SuccessLogHeader = successHeader()
)

func successHeader() []string {
	header := []string{"requester_id"}
	for i := 1; i <= MaxSecondaryEmailColumns; i++ {
		header = append(header, fmt.Sprintf("secondary_email_%d", i))
	}
	return header
}

// CSVLog appends records to a CSV file, flushing after every record so a
// crash loses at most the row in flight.
type CSVLog struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// OpenCSVLog opens path in append mode, writing header only when the file
// is empty.
func OpenCSVLog(path string, header []string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	log := &CSVLog{path: path, file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 && len(header) > 0 {
		if err := log.Write(header); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return log, nil
}

// Path returns the log file location.
func (l *CSVLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Write appends one record and flushes it.
func (l *CSVLog) Write(record []string) error {
	if l == nil {
		return errors.New("csv log is not open")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Write(record); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

// Close flushes and closes the file.
func (l *CSVLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(flushErr, closeErr)
}

// ResultLogPaths returns the error and success log paths for an input file:
// <stem>_api_errors.csv and <stem>_successfully_updated.csv beside it.
func ResultLogPaths(inputPath string) (errorPath, successPath string) {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_api_errors.csv"), filepath.Join(dir, stem+"_successfully_updated.csv")
}

// ResultLogs records replace-secondary-emails outcomes in the error and
// success CSV logs.
type ResultLogs struct {
	Errors    *CSVLog
	Successes *CSVLog
}

// OpenResultLogs opens both logs for inputPath.
func OpenResultLogs(inputPath string) (*ResultLogs, error) {
	errorPath, successPath := ResultLogPaths(inputPath)
	errorLog, err := OpenCSVLog(errorPath, ErrorLogHeader)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	successLog, err := OpenCSVLog(successPath, SuccessLogHeader)
	if err != nil {
		_ = errorLog.Close()
		return nil, fmt.Errorf("open success log: %w", err)
	}
	return &ResultLogs{Errors: errorLog, Successes: successLog}, nil
}

// Report writes a success row for Success and an error row otherwise.
func (r *ResultLogs) Report(_ context.Context, outcome *core.Outcome) error {
	if r == nil || outcome == nil {
		return nil
	}
	if outcome.Status == core.StatusSuccess {
		return r.Successes.Write(SuccessRecord(outcome))
	}
	return r.Errors.Write(ErrorRecord(outcome))
}

// Close closes both logs.
func (r *ResultLogs) Close() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Errors.Close(), r.Successes.Close())
}

// ErrorRecord renders a failed outcome as an error log row.
func ErrorRecord(outcome *core.Outcome) []string {
	text := outcome.Body
	if text == "" {
		text = outcome.Message
	}
	return []string{outcome.Subject(), outcome.Step, statusCodeLabel(outcome), text}
}

// SuccessRecord renders a successful outcome as a success log row. Emails
// beyond MaxSecondaryEmailColumns are not logged.
func SuccessRecord(outcome *core.Outcome) []string {
	record := make([]string, 1+MaxSecondaryEmailColumns)
	record[0] = outcome.Subject()
	for i := 0; i < MaxSecondaryEmailColumns && i < len(outcome.Emails); i++ {
		record[i+1] = outcome.Emails[i]
	}
	return record
}
