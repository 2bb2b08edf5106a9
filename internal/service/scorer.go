package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/domain"
)

// ScorerService runs the concordance calculator over whole cohorts: it groups
// activity records by patient and indicator, resolves each indicator's
// guideline rule, and aggregates per-patient scores.
type ScorerService struct {
	logger     *logrus.Logger
	ruleSource domain.RuleSource
	calculator domain.Calculator
}

// NewScorerService creates a new cohort scorer.
func NewScorerService(logger *logrus.Logger, ruleSource domain.RuleSource, calculator domain.Calculator) *ScorerService {
	return &ScorerService{
		logger:     logger,
		ruleSource: ruleSource,
		calculator: calculator,
	}
}

// CohortParams parameters for cohort scoring
type CohortParams struct {
	Period     domain.EvaluationPeriod `json:"period"`
	Indicators []string                `json:"indicators"`
	Records    []domain.ActivityRecord `json:"activities"`

	// Rules optionally supplies guideline rules inline, overriding the
	// configured registry for matching indicators.
	Rules []domain.GuidelineRule `json:"rules,omitempty"`

	Policy domain.PriorPolicy `json:"prior_policy,omitempty"`
}

// ScoreCohort computes per-patient, per-indicator concordance scores and the
// composite (mean) score per patient when more than one indicator is
// requested. Patients that appear in the input but performed none of the
// requested activities still receive scores of 0.0.
func (s *ScorerService) ScoreCohort(ctx context.Context, params CohortParams) (*domain.CohortResult, error) {
	runID := uuid.NewString()

	if len(params.Indicators) == 0 {
		return nil, domain.NewInputError(domain.ErrInvalidInput,
			"at least one indicator is required", "")
	}
	// Checked here as well as in the calculator: an empty cohort never
	// reaches Compute, and the result echoes the policy.
	if params.Policy != "" && !params.Policy.Valid() {
		return nil, domain.NewInputError(domain.ErrInvalidInput,
			"unknown prior policy",
			fmt.Sprintf("got %q, expected one of strict, carry-in, grace-start", params.Policy))
	}

	rules, err := s.resolveRules(params)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"indicators": params.Indicators,
		"records":    len(params.Records),
		"start":      params.Period.Start.Format("2006-01-02"),
		"end":        params.Period.End.Format("2006-01-02"),
	}).Info("Starting cohort concordance scoring")

	grouped, patients, warnings := s.groupRecords(params.Records, rules)

	result := &domain.CohortResult{
		RunID:      runID,
		Period:     params.Period,
		Policy:     domain.ComputeOptions{Policy: params.Policy}.EffectivePolicy(),
		Patients:   make([]domain.PatientScore, 0, len(patients)),
		Warnings:   warnings,
		ComputedAt: time.Now().UTC(),
	}

	opts := domain.ComputeOptions{Policy: params.Policy}
	for _, patientID := range patients {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cohort scoring interrupted: %w", err)
		}

		score := domain.PatientScore{PatientID: patientID}
		sum := 0.0
		for _, indicator := range params.Indicators {
			rule := rules[strings.ToLower(indicator)]
			events := grouped[groupKey(patientID, rule.IndicatorID)]

			computed, err := s.calculator.Compute(rule, params.Period, events, opts)
			if err != nil {
				return nil, fmt.Errorf("failed to score patient %s for indicator %s: %w", patientID, indicator, err)
			}

			score.Indicators = append(score.Indicators, domain.IndicatorScore{
				IndicatorID:    rule.IndicatorID,
				Score:          computed.Score,
				ConcordantDays: computed.ConcordantDays,
				TotalDays:      computed.TotalDays,
			})
			sum += computed.Score
		}

		if len(params.Indicators) > 1 {
			composite := sum / float64(len(params.Indicators))
			score.Composite = &composite
		}
		result.Patients = append(result.Patients, score)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"patients": len(result.Patients),
		"warnings": len(result.Warnings),
	}).Info("Completed cohort concordance scoring")

	return result, nil
}

// resolveRules builds the lowercase indicator -> rule map for the requested
// indicators, preferring inline rules over the configured registry.
func (s *ScorerService) resolveRules(params CohortParams) (map[string]domain.GuidelineRule, error) {
	inline := make(map[string]domain.GuidelineRule, len(params.Rules))
	for _, r := range params.Rules {
		inline[strings.ToLower(r.IndicatorID)] = r
	}

	rules := make(map[string]domain.GuidelineRule, len(params.Indicators))
	var missing []string
	for _, indicator := range params.Indicators {
		key := strings.ToLower(indicator)
		if r, ok := inline[key]; ok {
			rules[key] = r
			continue
		}
		if s.ruleSource != nil {
			r, err := s.ruleSource.Rule(indicator)
			if err == nil {
				rules[key] = r
				continue
			}
		}
		missing = append(missing, indicator)
	}
	if len(missing) > 0 {
		return nil, domain.NewInputError(domain.ErrRuleNotFound,
			"no guideline rule for requested indicators",
			strings.Join(missing, ", "))
	}
	return rules, nil
}

// groupRecords buckets records into per-(patient, indicator) event lists and
// returns the sorted patient set. Records without a date cannot contribute to
// any score; they are dropped with a warning, matching the source model's
// handling of undated activities.
func (s *ScorerService) groupRecords(records []domain.ActivityRecord, rules map[string]domain.GuidelineRule) (map[string][]domain.ActivityEvent, []string, []string) {
	grouped := make(map[string][]domain.ActivityEvent)
	patientSet := make(map[string]struct{})
	undated := make(map[string]int)

	for _, rec := range records {
		if rec.PatientID == "" {
			continue
		}
		patientSet[rec.PatientID] = struct{}{}

		rule, ok := rules[strings.ToLower(rec.IndicatorID)]
		if !ok {
			// Activity for an indicator outside this run's scope.
			continue
		}
		if rec.Date.IsZero() {
			undated[rule.IndicatorID]++
			continue
		}

		key := groupKey(rec.PatientID, rule.IndicatorID)
		grouped[key] = append(grouped[key], domain.ActivityEvent{
			Timestamp:   rec.Date,
			IndicatorID: rule.IndicatorID,
			PatientID:   rec.PatientID,
		})
	}

	patients := make([]string, 0, len(patientSet))
	for id := range patientSet {
		patients = append(patients, id)
	}
	sort.Strings(patients)

	var warnings []string
	for _, rule := range sortedRules(rules) {
		if n := undated[rule.IndicatorID]; n > 0 {
			msg := fmt.Sprintf("indicator %q has %d activities without a date; they are excluded from scoring", rule.IndicatorID, n)
			warnings = append(warnings, msg)
			s.logger.WithFields(logrus.Fields{
				"indicator": rule.IndicatorID,
				"count":     n,
			}).Warn("Dropped undated activity records")
		}
	}

	return grouped, patients, warnings
}

// sortedRules returns the rules in deterministic indicator order.
func sortedRules(rules map[string]domain.GuidelineRule) []domain.GuidelineRule {
	out := make([]domain.GuidelineRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndicatorID < out[j].IndicatorID })
	return out
}

func groupKey(patientID, indicatorID string) string {
	return patientID + "\x00" + strings.ToLower(indicatorID)
}
