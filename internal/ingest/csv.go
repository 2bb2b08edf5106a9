// Package ingest converts raw tabular patient-activity exports into typed
// activity records, validating at the boundary so the calculator never sees
// loosely typed data.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/domain"
)

// Options configures the expected table layout. The source tables are wide:
// one row per patient activity date, a masked patient-ID column, a date
// column, and one binary column per indicator marking whether that activity
// was performed.
type Options struct {
	PatientColumn string // default "patient_id"
	DateColumn    string // default "date"
	DateFormat    string // default "2006-01-02"

	// Indicators restricts which indicator columns are read. Empty means
	// every column other than the patient and date columns.
	Indicators []string
}

func (o Options) withDefaults() Options {
	if o.PatientColumn == "" {
		o.PatientColumn = "patient_id"
	}
	if o.DateColumn == "" {
		o.DateColumn = "date"
	}
	if o.DateFormat == "" {
		o.DateFormat = "2006-01-02"
	}
	return o
}

// Loader reads activity CSV files.
type Loader struct {
	logger *logrus.Logger
	opts   Options
}

// NewLoader creates a loader with the given layout options.
func NewLoader(logger *logrus.Logger, opts Options) *Loader {
	return &Loader{logger: logger, opts: opts.withDefaults()}
}

// LoadFile reads and parses a CSV file of patient activities.
func (l *Loader) LoadFile(path string) ([]domain.ActivityRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open activities file: %w", err)
	}
	defer f.Close()

	records, err := l.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// Parse reads activity rows from r. Rows with an empty date cell are kept
// with a zero date so the scoring layer can count and report them; malformed
// dates or indicator flags fail with a field-level validation error naming
// the offending line.
func (l *Loader) Parse(r io.Reader) ([]domain.ActivityRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("activities table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	layout, err := l.resolveLayout(header)
	if err != nil {
		return nil, err
	}

	var records []domain.ActivityRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line++

		parsed, err := l.parseRow(row, layout, line)
		if err != nil {
			return nil, err
		}
		records = append(records, parsed...)
	}

	l.logger.WithFields(logrus.Fields{
		"records":    len(records),
		"indicators": len(layout.indicators),
	}).Info("Loaded activity records")

	return records, nil
}

// tableLayout maps the configured columns onto header positions.
type tableLayout struct {
	patientIdx int
	dateIdx    int
	indicators map[string]int // indicator ID -> column index
}

func (l *Loader) resolveLayout(header []string) (*tableLayout, error) {
	layout := &tableLayout{patientIdx: -1, dateIdx: -1, indicators: make(map[string]int)}

	requested := make(map[string]bool, len(l.opts.Indicators))
	for _, ind := range l.opts.Indicators {
		requested[strings.ToLower(ind)] = false
	}

	for i, col := range header {
		name := strings.TrimSpace(col)
		switch {
		case strings.EqualFold(name, l.opts.PatientColumn):
			layout.patientIdx = i
		case strings.EqualFold(name, l.opts.DateColumn):
			layout.dateIdx = i
		default:
			if len(requested) == 0 {
				layout.indicators[name] = i
			} else if _, ok := requested[strings.ToLower(name)]; ok {
				layout.indicators[name] = i
				requested[strings.ToLower(name)] = true
			}
		}
	}

	if layout.patientIdx < 0 {
		return nil, domain.NewValidationError(l.opts.PatientColumn, "column missing from activities table", header)
	}
	if layout.dateIdx < 0 {
		return nil, domain.NewValidationError(l.opts.DateColumn, "column missing from activities table", header)
	}
	var missing []string
	for ind, found := range requested {
		if !found {
			missing = append(missing, ind)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewValidationError("indicators",
			"requested indicator columns missing from activities table", missing)
	}
	if len(layout.indicators) == 0 {
		return nil, domain.NewValidationError("indicators", "no indicator columns in activities table", header)
	}
	return layout, nil
}

// parseRow expands one wide row into zero or more activity records, one per
// indicator flagged on that row.
func (l *Loader) parseRow(row []string, layout *tableLayout, line int) ([]domain.ActivityRecord, error) {
	patientID := strings.TrimSpace(row[layout.patientIdx])
	if patientID == "" {
		return nil, domain.NewValidationError(l.opts.PatientColumn,
			fmt.Sprintf("empty patient ID on line %d", line), nil)
	}

	var date time.Time
	if raw := strings.TrimSpace(row[layout.dateIdx]); raw != "" {
		parsed, err := time.Parse(l.opts.DateFormat, raw)
		if err != nil {
			return nil, domain.NewValidationError(l.opts.DateColumn,
				fmt.Sprintf("unparseable date on line %d", line), raw)
		}
		date = domain.CivilDay(parsed)
	}

	var out []domain.ActivityRecord
	for indicator, idx := range layout.indicators {
		if idx >= len(row) {
			continue
		}
		active, err := parseFlag(row[idx])
		if err != nil {
			return nil, domain.NewValidationError(indicator,
				fmt.Sprintf("invalid indicator flag on line %d", line), row[idx])
		}
		if active {
			out = append(out, domain.ActivityRecord{
				PatientID:   patientID,
				IndicatorID: indicator,
				Date:        date,
			})
		}
	}
	return out, nil
}

// parseFlag interprets a binary indicator cell. Empty cells and zeros mean
// the activity was not performed.
func parseFlag(cell string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "", "0", "false":
		return false, nil
	case "1", "true":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0/1, got %q", cell)
	}
}
