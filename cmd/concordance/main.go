// Command concordance scores a cohort activity export against a guideline
// rules file and writes per-patient concordance scores to stdout.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/domain"
	"github.com/concordance-score-server/internal/ingest"
	"github.com/concordance-score-server/internal/rules"
	"github.com/concordance-score-server/internal/service"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		activitiesPath = flag.String("activities", "", "path to the wide-format activities CSV (required)")
		rulesPath      = flag.String("rules", "", "path to the guideline rules YAML (required)")
		startDate      = flag.String("start", "", "evaluation window start date, YYYY-MM-DD (required)")
		endDate        = flag.String("end", "", "evaluation window end date, YYYY-MM-DD (inclusive)")
		lengthDays     = flag.Int("days", 0, "evaluation window length in days, alternative to -end")
		indicatorList  = flag.String("indicators", "", "comma-separated indicators to score (default: all in the rules file)")
		policy         = flag.String("policy", string(domain.PriorStrict), "prior-event policy: strict, carry-in or grace-start")
		graceDays      = flag.Int("grace", 0, "default grace days for short-form rules files")
		format         = flag.String("format", "json", "output format: json or csv")
		patientColumn  = flag.String("patient-column", "", "patient ID column name (default patient_id)")
		dateColumn     = flag.String("date-column", "", "activity date column name (default date)")
		logLevel       = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(strings.ToLower(*logLevel)); err == nil {
		logger.SetLevel(level)
	}

	if err := run(logger, runOptions{
		activitiesPath: *activitiesPath,
		rulesPath:      *rulesPath,
		startDate:      *startDate,
		endDate:        *endDate,
		lengthDays:     *lengthDays,
		indicators:     splitIndicators(*indicatorList),
		policy:         domain.PriorPolicy(*policy),
		graceDays:      *graceDays,
		format:         *format,
		patientColumn:  *patientColumn,
		dateColumn:     *dateColumn,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "concordance: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	activitiesPath string
	rulesPath      string
	startDate      string
	endDate        string
	lengthDays     int
	indicators     []string
	policy         domain.PriorPolicy
	graceDays      int
	format         string
	patientColumn  string
	dateColumn     string
}

func run(logger *logrus.Logger, opts runOptions) error {
	if opts.activitiesPath == "" || opts.rulesPath == "" || opts.startDate == "" {
		return fmt.Errorf("-activities, -rules and -start are required")
	}

	period, err := resolvePeriod(opts)
	if err != nil {
		return err
	}

	registry, err := rules.LoadFile(opts.rulesPath, opts.graceDays)
	if err != nil {
		return err
	}

	indicators := opts.indicators
	if len(indicators) == 0 {
		indicators = registry.Indicators()
	}

	loader := ingest.NewLoader(logger, ingest.Options{
		PatientColumn: opts.patientColumn,
		DateColumn:    opts.dateColumn,
		Indicators:    indicators,
	})
	records, err := loader.LoadFile(opts.activitiesPath)
	if err != nil {
		return err
	}

	calculator := service.NewConcordanceCalculator(logger)
	scorer := service.NewScorerService(logger, registry, calculator)

	result, err := scorer.ScoreCohort(context.Background(), service.CohortParams{
		Period:     period,
		Indicators: indicators,
		Records:    records,
		Policy:     opts.policy,
	})
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		logger.Warn(warning)
	}

	switch strings.ToLower(opts.format) {
	case "json":
		return writeJSON(os.Stdout, result)
	case "csv":
		return writeCSV(os.Stdout, result)
	default:
		return fmt.Errorf("unknown output format %q", opts.format)
	}
}

// resolvePeriod builds the evaluation window from either an end date or a
// length in days.
func resolvePeriod(opts runOptions) (domain.EvaluationPeriod, error) {
	start, err := time.Parse(dateLayout, opts.startDate)
	if err != nil {
		return domain.EvaluationPeriod{}, fmt.Errorf("invalid -start date %q", opts.startDate)
	}

	switch {
	case opts.endDate != "" && opts.lengthDays > 0:
		return domain.EvaluationPeriod{}, fmt.Errorf("-end and -days are mutually exclusive")
	case opts.endDate != "":
		end, err := time.Parse(dateLayout, opts.endDate)
		if err != nil {
			return domain.EvaluationPeriod{}, fmt.Errorf("invalid -end date %q", opts.endDate)
		}
		return domain.EvaluationPeriod{Start: start, End: end}, nil
	case opts.lengthDays > 0:
		return domain.NewEvaluationPeriod(start, opts.lengthDays), nil
	default:
		return domain.EvaluationPeriod{}, fmt.Errorf("either -end or -days is required")
	}
}

func splitIndicators(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w *os.File, result *domain.CohortResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// writeCSV flattens the cohort result into one row per patient and indicator.
// The composite column repeats per row for patients with multiple indicators.
func writeCSV(w *os.File, result *domain.CohortResult) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"patient_id", "indicator_id", "score", "concordant_days", "total_days", "composite"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, patient := range result.Patients {
		composite := ""
		if patient.Composite != nil {
			composite = strconv.FormatFloat(*patient.Composite, 'f', 6, 64)
		}
		for _, score := range patient.Indicators {
			row := []string{
				patient.PatientID,
				score.IndicatorID,
				strconv.FormatFloat(score.Score, 'f', 6, 64),
				strconv.Itoa(score.ConcordantDays),
				strconv.Itoa(score.TotalDays),
				composite,
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
