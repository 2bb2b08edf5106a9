package domain

import (
	"time"
)

// Core Enums and Types

// PriorPolicy controls how days before the first observed activity are
// classified. Guideline adherence cannot be confirmed before any recorded
// activity, so the default is to count those days as non-concordant.
type PriorPolicy string

const (
	// PriorStrict ignores events before the evaluation window; days before
	// the first in-window event are non-concordant.
	PriorStrict PriorPolicy = "strict"

	// PriorCarryIn honors the most recent event before the window start, so
	// its validity coverage may extend into the window.
	PriorCarryIn PriorPolicy = "carry-in"

	// PriorGraceStart assumes the patient was due exactly at the window
	// start, covering the first grace days even with no recorded activity.
	PriorGraceStart PriorPolicy = "grace-start"
)

// Valid reports whether p is a known policy.
func (p PriorPolicy) Valid() bool {
	switch p {
	case PriorStrict, PriorCarryIn, PriorGraceStart:
		return true
	}
	return false
}

// Core Data Models

// EvaluationPeriod is the inclusive civil-day range over which concordance is
// assessed. Start and End are normalized to UTC midnight.
type EvaluationPeriod struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// NewEvaluationPeriod builds a period from a start date and a length in days,
// the shape the original cohort studies use (start + evaluation_length).
func NewEvaluationPeriod(start time.Time, lengthDays int) EvaluationPeriod {
	s := CivilDay(start)
	return EvaluationPeriod{Start: s, End: s.AddDate(0, 0, lengthDays-1)}
}

// TotalDays returns the number of calendar days in the period, inclusive.
func (p EvaluationPeriod) TotalDays() int {
	return DaysBetween(p.Start, p.End) + 1
}

// GuidelineRule defines how often an indicator should recur and the allowed
// slack beyond that interval.
type GuidelineRule struct {
	IndicatorID          string `json:"indicator_id" yaml:"indicator_id"`
	ExpectedIntervalDays int    `json:"expected_interval_days" yaml:"expected_interval_days"`
	GraceDays            int    `json:"grace_days" yaml:"grace_days"`
}

// ValidityDays is the number of days a single activity keeps the patient
// concordant, starting on the activity day.
func (r GuidelineRule) ValidityDays() int {
	return r.ExpectedIntervalDays + r.GraceDays
}

// ActivityEvent is a single recorded occurrence of an indicator. PatientID is
// only populated on the cohort path; the calculator itself scores one
// patient/indicator pair at a time.
type ActivityEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	IndicatorID string    `json:"indicator_id"`
	PatientID   string    `json:"patient_id,omitempty"`
}

// DayRecord is the derived classification of one calendar day.
type DayRecord struct {
	Date       time.Time `json:"date"`
	Concordant bool      `json:"concordant"`
}

// ConcordanceResult is the output of a single concordance computation.
// Immutable once computed.
type ConcordanceResult struct {
	IndicatorID    string      `json:"indicator_id"`
	Score          float64     `json:"score"`
	ConcordantDays int         `json:"concordant_days"`
	TotalDays      int         `json:"total_days"`
	DayRecords     []DayRecord `json:"day_records,omitempty"`
}

// Cohort Models

// ActivityRecord is one row of ingested cohort data: a patient performed the
// given indicator activity on the given day.
type ActivityRecord struct {
	PatientID   string    `json:"patient_id"`
	IndicatorID string    `json:"indicator_id"`
	Date        time.Time `json:"date"`
}

// IndicatorScore is a single per-indicator score within a patient summary.
type IndicatorScore struct {
	IndicatorID    string  `json:"indicator_id"`
	Score          float64 `json:"score"`
	ConcordantDays int     `json:"concordant_days"`
	TotalDays      int     `json:"total_days"`
}

// PatientScore aggregates one patient's scores across indicators. Composite
// is the mean of the indicator scores and is only set when more than one
// indicator was evaluated.
type PatientScore struct {
	PatientID  string           `json:"patient_id"`
	Indicators []IndicatorScore `json:"indicators"`
	Composite  *float64         `json:"composite,omitempty"`
}

// CohortResult is the output of scoring a whole cohort.
type CohortResult struct {
	RunID      string           `json:"run_id"`
	Period     EvaluationPeriod `json:"period"`
	Policy     PriorPolicy      `json:"prior_policy"`
	Patients   []PatientScore   `json:"patients"`
	Warnings   []string         `json:"warnings,omitempty"`
	ComputedAt time.Time        `json:"computed_at"`
}
