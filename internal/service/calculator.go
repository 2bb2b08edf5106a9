package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/domain"
)

// ConcordanceCalculator implements the ratio model of guideline concordance:
// the score is the fraction of evaluation days on which the most recent
// qualifying activity was still within its validity window.
type ConcordanceCalculator struct {
	logger *logrus.Logger
}

// NewConcordanceCalculator creates a new calculator.
func NewConcordanceCalculator(logger *logrus.Logger) *ConcordanceCalculator {
	return &ConcordanceCalculator{logger: logger}
}

// Compute classifies every calendar day of the period and aggregates the
// classification into a concordance score.
//
// A day d is concordant when some qualifying event e with e <= d satisfies
// d - e < interval + grace, i.e. an activity covers the validity window
// starting on its own day. Days before the first qualifying event are
// handled by the prior policy (default: non-concordant).
//
// The computation is pure and deterministic: events may arrive unsorted,
// duplicated, or outside the window without affecting the outcome. The only
// failure mode is INVALID_INPUT on a malformed rule, period, or policy.
func (c *ConcordanceCalculator) Compute(rule domain.GuidelineRule, period domain.EvaluationPeriod, events []domain.ActivityEvent, opts domain.ComputeOptions) (*domain.ConcordanceResult, error) {
	if err := validateComputeInputs(rule, period, opts); err != nil {
		return nil, err
	}

	start := domain.CivilDay(period.Start)
	end := domain.CivilDay(period.End)
	totalDays := domain.DaysBetween(start, end) + 1
	validity := rule.ValidityDays()
	policy := opts.EffectivePolicy()

	offsets := c.qualifyingOffsets(rule, start, end, events, policy)

	records := make([]domain.DayRecord, totalDays)
	concordant := 0
	idx := 0
	last := -1 // offset of the most recent qualifying event, -1 = none yet
	hasLast := false
	for day := 0; day < totalDays; day++ {
		for idx < len(offsets) && offsets[idx] <= day {
			last = offsets[idx]
			hasLast = true
			idx++
		}
		covered := hasLast && day-last < validity
		if covered {
			concordant++
		}
		records[day] = domain.DayRecord{
			Date:       start.AddDate(0, 0, day),
			Concordant: covered,
		}
	}

	result := &domain.ConcordanceResult{
		IndicatorID:    rule.IndicatorID,
		Score:          float64(concordant) / float64(totalDays),
		ConcordantDays: concordant,
		TotalDays:      totalDays,
		DayRecords:     records,
	}

	c.logger.WithFields(logrus.Fields{
		"indicator":       rule.IndicatorID,
		"total_days":      totalDays,
		"concordant_days": concordant,
		"score":           result.Score,
		"prior_policy":    policy,
	}).Debug("Computed concordance score")

	return result, nil
}

// qualifyingOffsets maps events onto sorted, deduplicated day offsets
// relative to the window start. Multiple events on the same day collapse to
// one. Events after the window end never qualify; events before the start
// are admitted only as far as the prior policy allows.
func (c *ConcordanceCalculator) qualifyingOffsets(rule domain.GuidelineRule, start, end time.Time, events []domain.ActivityEvent, policy domain.PriorPolicy) []int {
	totalDays := domain.DaysBetween(start, end) + 1

	seen := make(map[int]struct{}, len(events))
	offsets := make([]int, 0, len(events))
	add := func(off int) {
		if _, dup := seen[off]; dup {
			return
		}
		seen[off] = struct{}{}
		offsets = append(offsets, off)
	}

	// The patient is assumed due at window start: a synthetic activity one
	// interval before the start covers exactly the grace days.
	if policy == domain.PriorGraceStart {
		add(-rule.ExpectedIntervalDays)
	}

	carryIn := -1 << 31
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		if !eventMatchesRule(ev, rule) {
			continue
		}
		off := domain.DaysBetween(start, domain.CivilDay(ev.Timestamp))
		switch {
		case off >= totalDays:
			// After the window; cannot cover any evaluation day.
		case off >= 0:
			add(off)
		case policy == domain.PriorCarryIn:
			// Only the most recent pre-window activity is retained; older
			// ones are strictly dominated by it.
			if off > carryIn {
				carryIn = off
			}
		}
	}
	if policy == domain.PriorCarryIn && carryIn > -1<<31 {
		add(carryIn)
	}

	sort.Ints(offsets)
	return offsets
}

// eventMatchesRule reports whether an event counts toward the rule's
// indicator. Events with no indicator set are taken at face value: the
// caller already filtered them for this rule.
func eventMatchesRule(ev domain.ActivityEvent, rule domain.GuidelineRule) bool {
	return ev.IndicatorID == "" || strings.EqualFold(ev.IndicatorID, rule.IndicatorID)
}

// validateComputeInputs fails fast with INVALID_INPUT before any day
// classification is attempted.
func validateComputeInputs(rule domain.GuidelineRule, period domain.EvaluationPeriod, opts domain.ComputeOptions) error {
	if period.Start.IsZero() || period.End.IsZero() {
		return domain.NewInputError(domain.ErrInvalidInput,
			"evaluation period requires both start_date and end_date", "")
	}
	if domain.CivilDay(period.Start).After(domain.CivilDay(period.End)) {
		return domain.NewInputError(domain.ErrInvalidInput,
			"evaluation period start_date is after end_date",
			fmt.Sprintf("start=%s end=%s",
				period.Start.Format("2006-01-02"), period.End.Format("2006-01-02")))
	}
	if rule.ExpectedIntervalDays <= 0 {
		return domain.NewInputError(domain.ErrInvalidInput,
			"guideline rule expected_interval_days must be positive",
			fmt.Sprintf("got %d", rule.ExpectedIntervalDays))
	}
	if rule.GraceDays < 0 {
		return domain.NewInputError(domain.ErrInvalidInput,
			"guideline rule grace_days must not be negative",
			fmt.Sprintf("got %d", rule.GraceDays))
	}
	if opts.Policy != "" && !opts.Policy.Valid() {
		return domain.NewInputError(domain.ErrInvalidInput,
			"unknown prior policy",
			fmt.Sprintf("got %q, expected one of strict, carry-in, grace-start", opts.Policy))
	}
	return nil
}
