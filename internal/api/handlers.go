package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/domain"
	"github.com/concordance-score-server/internal/service"
)

// dateLayout is the wire format for civil dates.
const dateLayout = "2006-01-02"

// periodRequest is the inclusive evaluation window as civil dates.
type periodRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

func (p periodRequest) toDomain() (domain.EvaluationPeriod, error) {
	start, err := parseDate(p.StartDate)
	if err != nil {
		return domain.EvaluationPeriod{}, domain.NewValidationError("period.start_date", "unparseable date", p.StartDate)
	}
	end, err := parseDate(p.EndDate)
	if err != nil {
		return domain.EvaluationPeriod{}, domain.NewValidationError("period.end_date", "unparseable date", p.EndDate)
	}
	return domain.EvaluationPeriod{Start: start, End: end}, nil
}

// parseDate accepts a plain civil date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return domain.CivilDay(t), nil
}

type eventRequest struct {
	Date        string `json:"date" binding:"required"`
	IndicatorID string `json:"indicator_id,omitempty"`
}

// concordanceRequest is the body of POST /api/v1/concordance. The rule may be
// given inline or by indicator reference against the configured registry.
type concordanceRequest struct {
	Rule        *domain.GuidelineRule `json:"rule,omitempty"`
	IndicatorID string                `json:"indicator_id,omitempty"`
	Period      periodRequest         `json:"period" binding:"required"`
	Events      []eventRequest        `json:"events"`
	PriorPolicy string                `json:"prior_policy,omitempty"`
	IncludeDays bool                  `json:"include_days,omitempty"`
}

type dayResponse struct {
	Date       string `json:"date"`
	Concordant bool   `json:"concordant"`
}

type concordanceResponse struct {
	IndicatorID    string             `json:"indicator_id"`
	Score          float64            `json:"score"`
	ConcordantDays int                `json:"concordant_days"`
	TotalDays      int                `json:"total_days"`
	PriorPolicy    domain.PriorPolicy `json:"prior_policy"`
	Days           []dayResponse      `json:"days,omitempty"`
	Cached         bool               `json:"cached"`
}

// handleConcordance scores one event sequence against one guideline rule.
func (s *Server) handleConcordance(c *gin.Context) {
	var req concordanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewInputError(domain.ErrInvalidInput, "invalid request body", err.Error()))
		return
	}

	rule, err := s.resolveRule(req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	period, err := req.Period.toDomain()
	if err != nil {
		s.respondError(c, err)
		return
	}

	events := make([]domain.ActivityEvent, 0, len(req.Events))
	for i, ev := range req.Events {
		ts, err := parseDate(ev.Date)
		if err != nil {
			s.respondError(c, domain.NewValidationError(
				fmt.Sprintf("events[%d].date", i), "unparseable date", ev.Date))
			return
		}
		events = append(events, domain.ActivityEvent{Timestamp: ts, IndicatorID: ev.IndicatorID})
	}

	opts := domain.ComputeOptions{Policy: domain.PriorPolicy(req.PriorPolicy)}

	key := s.cache.Key(rule, period, events, opts)
	result, cached := s.cache.Get(key)
	if !cached {
		result, err = s.calculator.Compute(rule, period, events, opts)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.cache.Add(key, result)
	}

	resp := concordanceResponse{
		IndicatorID:    result.IndicatorID,
		Score:          result.Score,
		ConcordantDays: result.ConcordantDays,
		TotalDays:      result.TotalDays,
		PriorPolicy:    opts.EffectivePolicy(),
		Cached:         cached,
	}
	if req.IncludeDays {
		resp.Days = make([]dayResponse, 0, len(result.DayRecords))
		for _, day := range result.DayRecords {
			resp.Days = append(resp.Days, dayResponse{
				Date:       day.Date.Format(dateLayout),
				Concordant: day.Concordant,
			})
		}
	}

	c.JSON(http.StatusOK, resp)
}

// resolveRule picks the inline rule when present, otherwise looks up the
// referenced indicator in the registry.
func (s *Server) resolveRule(req concordanceRequest) (domain.GuidelineRule, error) {
	if req.Rule != nil {
		return *req.Rule, nil
	}
	if req.IndicatorID == "" {
		return domain.GuidelineRule{}, domain.NewInputError(domain.ErrInvalidInput,
			"either rule or indicator_id is required", "")
	}
	if s.registry == nil {
		return domain.GuidelineRule{}, domain.NewInputError(domain.ErrRuleNotFound,
			"no rules file configured; supply the rule inline", req.IndicatorID)
	}
	return s.registry.Rule(req.IndicatorID)
}

type activityRequest struct {
	PatientID   string `json:"patient_id" binding:"required"`
	IndicatorID string `json:"indicator_id" binding:"required"`
	Date        string `json:"date,omitempty"`
}

// batchRequest is the body of POST /api/v1/concordance/batch.
type batchRequest struct {
	Period      periodRequest          `json:"period" binding:"required"`
	Indicators  []string               `json:"indicators" binding:"required"`
	Activities  []activityRequest      `json:"activities"`
	Rules       []domain.GuidelineRule `json:"rules,omitempty"`
	PriorPolicy string                 `json:"prior_policy,omitempty"`
}

// handleConcordanceBatch scores a whole cohort in one request.
func (s *Server) handleConcordanceBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewInputError(domain.ErrInvalidInput, "invalid request body", err.Error()))
		return
	}

	limits := s.configManager.GetLimitsConfig()
	if limits.MaxBatchEvents > 0 && len(req.Activities) > limits.MaxBatchEvents {
		s.respondError(c, domain.NewInputError(domain.ErrInvalidInput,
			"batch exceeds the maximum number of activity records",
			fmt.Sprintf("got %d, limit %d", len(req.Activities), limits.MaxBatchEvents)))
		return
	}

	period, err := req.Period.toDomain()
	if err != nil {
		s.respondError(c, err)
		return
	}

	records := make([]domain.ActivityRecord, 0, len(req.Activities))
	for i, act := range req.Activities {
		rec := domain.ActivityRecord{
			PatientID:   act.PatientID,
			IndicatorID: act.IndicatorID,
		}
		if act.Date != "" {
			date, err := parseDate(act.Date)
			if err != nil {
				s.respondError(c, domain.NewValidationError(
					fmt.Sprintf("activities[%d].date", i), "unparseable date", act.Date))
				return
			}
			rec.Date = date
		}
		records = append(records, rec)
	}

	policy := req.PriorPolicy
	if policy == "" {
		policy = s.configManager.GetRulesConfig().DefaultPolicy
	}

	result, err := s.scorer.ScoreCohort(c.Request.Context(), service.CohortParams{
		Period:     period,
		Indicators: req.Indicators,
		Records:    records,
		Rules:      req.Rules,
		Policy:     domain.PriorPolicy(policy),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleRules lists the configured guideline rules.
func (s *Server) handleRules(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"rules": []domain.GuidelineRule{}, "count": 0})
		return
	}
	ruleList := s.registry.Rules()
	c.JSON(http.StatusOK, gin.H{"rules": ruleList, "count": len(ruleList)})
}

// respondError maps domain errors onto HTTP status codes with a structured
// body carrying the request ID.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")

	var inputErr *domain.InputError
	if !errors.As(err, &inputErr) {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			inputErr = domain.NewInputError(domain.ErrInvalidInput, validationErr.Error(),
				fmt.Sprintf("%v", validationErr.Value))
		} else {
			inputErr = domain.NewInputError(domain.ErrInternalServer, "internal server error", "")
		}
	}
	inputErr.RequestID = requestID

	status := http.StatusInternalServerError
	switch inputErr.Code {
	case domain.ErrInvalidInput, domain.ErrIngestion:
		status = http.StatusBadRequest
	case domain.ErrRuleNotFound:
		status = http.StatusNotFound
	case domain.ErrRateLimit:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Request failed")
	}

	c.AbortWithStatusJSON(status, gin.H{"error": inputErr})
}
