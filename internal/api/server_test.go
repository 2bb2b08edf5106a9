package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordance-score-server/internal/domain"
	"github.com/concordance-score-server/internal/rules"
	"github.com/concordance-score-server/internal/service"
)

// staticConfig satisfies domain.ConfigManager without touching Viper state.
type staticConfig struct {
	cfg *domain.Config
}

func (s *staticConfig) GetConfig() *domain.Config             { return s.cfg }
func (s *staticConfig) GetServerConfig() *domain.ServerConfig { return &s.cfg.Server }
func (s *staticConfig) GetRulesConfig() *domain.RulesConfig   { return &s.cfg.Rules }
func (s *staticConfig) GetLimitsConfig() *domain.LimitsConfig { return &s.cfg.Limits }

func testConfig() *staticConfig {
	return &staticConfig{cfg: &domain.Config{
		Server: domain.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Rules:  domain.RulesConfig{DefaultPolicy: string(domain.PriorStrict)},
		Limits: domain.LimitsConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			ResultCacheSize:   64,
			MaxBatchEvents:    100,
		},
		Logging: domain.LoggingConfig{Level: "error", Format: "json"},
	}}
}

func newTestServer(t *testing.T, registry *rules.Registry) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	calculator := service.NewConcordanceCalculator(logger)

	var ruleSource domain.RuleSource
	if registry != nil {
		ruleSource = registry
	}
	scorer := service.NewScorerService(logger, ruleSource, calculator)
	cache, err := service.NewResultCache(64)
	require.NoError(t, err)

	return NewServer(testConfig(), logger, calculator, scorer, registry, cache)
}

func testRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	registry, err := rules.NewRegistry([]domain.GuidelineRule{
		{IndicatorID: "eGFR", ExpectedIntervalDays: 365, GraceDays: 14},
		{IndicatorID: "HbA1c", ExpectedIntervalDays: 182, GraceDays: 0},
	})
	require.NoError(t, err)
	return registry
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleConcordance_InlineRule(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	reqBody := map[string]any{
		"rule": map[string]any{
			"indicator_id":           "daily-check",
			"expected_interval_days": 1,
			"grace_days":             0,
		},
		"period": map[string]string{
			"start_date": "2023-01-01",
			"end_date":   "2023-01-05",
		},
		"events": []map[string]string{
			{"date": "2023-01-01"},
			{"date": "2023-01-02"},
			{"date": "2023-01-04"},
		},
		"include_days": true,
	}

	rec := doJSON(t, server, http.MethodPost, "/api/v1/concordance", reqBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp concordanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 0.6, resp.Score, 1e-9)
	assert.Equal(t, 3, resp.ConcordantDays)
	assert.Equal(t, 5, resp.TotalDays)
	assert.False(t, resp.Cached)
	require.Len(t, resp.Days, 5)
	assert.Equal(t, "2023-01-01", resp.Days[0].Date)
	assert.True(t, resp.Days[0].Concordant)
	assert.False(t, resp.Days[4].Concordant)

	// Same request again is served from the cache.
	rec = doJSON(t, server, http.MethodPost, "/api/v1/concordance", reqBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.InDelta(t, 0.6, resp.Score, 1e-9)
}

func TestHandleConcordance_RegistryLookup(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	rec := doJSON(t, server, http.MethodPost, "/api/v1/concordance", map[string]any{
		"indicator_id": "egfr",
		"period": map[string]string{
			"start_date": "2023-01-01",
			"end_date":   "2023-12-31",
		},
		"events": []map[string]string{{"date": "2023-01-01"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp concordanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "eGFR", resp.IndicatorID)
	assert.InDelta(t, 1.0, resp.Score, 1e-9)
	assert.Empty(t, resp.Days)
}

func TestHandleConcordance_Errors(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantErr  string
	}{
		{
			name: "Missing rule and indicator",
			body: map[string]any{
				"period": map[string]string{"start_date": "2023-01-01", "end_date": "2023-01-05"},
			},
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name: "Unknown indicator",
			body: map[string]any{
				"indicator_id": "cholesterol",
				"period":       map[string]string{"start_date": "2023-01-01", "end_date": "2023-01-05"},
			},
			wantCode: http.StatusNotFound,
			wantErr:  domain.ErrRuleNotFound,
		},
		{
			name: "Inverted period",
			body: map[string]any{
				"indicator_id": "eGFR",
				"period":       map[string]string{"start_date": "2023-01-05", "end_date": "2023-01-01"},
			},
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name: "Unparseable date",
			body: map[string]any{
				"indicator_id": "eGFR",
				"period":       map[string]string{"start_date": "Jan 1st", "end_date": "2023-01-05"},
			},
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name: "Unknown prior policy",
			body: map[string]any{
				"indicator_id": "eGFR",
				"period":       map[string]string{"start_date": "2023-01-01", "end_date": "2023-01-05"},
				"prior_policy": "lenient",
			},
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, server, http.MethodPost, "/api/v1/concordance", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			var body struct {
				Error domain.InputError `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body.Error.Code)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestHandleConcordanceBatch(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	rec := doJSON(t, server, http.MethodPost, "/api/v1/concordance/batch", map[string]any{
		"period": map[string]string{
			"start_date": "2023-01-01",
			"end_date":   "2023-01-05",
		},
		"indicators": []string{"daily-check"},
		"rules": []map[string]any{
			{"indicator_id": "daily-check", "expected_interval_days": 1, "grace_days": 0},
		},
		"activities": []map[string]string{
			{"patient_id": "p-001", "indicator_id": "daily-check", "date": "2023-01-01"},
			{"patient_id": "p-001", "indicator_id": "daily-check", "date": "2023-01-02"},
			{"patient_id": "p-001", "indicator_id": "daily-check", "date": "2023-01-04"},
			{"patient_id": "p-002", "indicator_id": "daily-check", "date": "2023-01-03"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result domain.CohortResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, domain.PriorStrict, result.Policy)
	require.Len(t, result.Patients, 2)
	assert.Equal(t, "p-001", result.Patients[0].PatientID)
	assert.InDelta(t, 0.6, result.Patients[0].Indicators[0].Score, 1e-9)
	assert.InDelta(t, 0.2, result.Patients[1].Indicators[0].Score, 1e-9)
}

func TestHandleConcordanceBatch_TooManyActivities(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	activities := make([]map[string]string, 101)
	for i := range activities {
		activities[i] = map[string]string{
			"patient_id":   fmt.Sprintf("p-%03d", i),
			"indicator_id": "eGFR",
			"date":         "2023-01-01",
		}
	}

	rec := doJSON(t, server, http.MethodPost, "/api/v1/concordance/batch", map[string]any{
		"period":     map[string]string{"start_date": "2023-01-01", "end_date": "2023-01-05"},
		"indicators": []string{"eGFR"},
		"activities": activities,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "maximum number of activity records")
}

func TestHandleRules(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	rec := doJSON(t, server, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rules []domain.GuidelineRule `json:"rules"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Rules, 2)
	assert.Equal(t, "HbA1c", body.Rules[0].IndicatorID)
	assert.Equal(t, "eGFR", body.Rules[1].IndicatorID)
}

func TestHandleRules_NoRegistry(t *testing.T) {
	server := newTestServer(t, nil)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestRateLimit(t *testing.T) {
	config := testConfig()
	config.cfg.Limits.RequestsPerSecond = 1
	config.cfg.Limits.Burst = 1

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	calculator := service.NewConcordanceCalculator(logger)
	scorer := service.NewScorerService(logger, nil, calculator)
	cache, err := service.NewResultCache(8)
	require.NoError(t, err)
	server := NewServer(config, logger, calculator, scorer, nil, cache)

	first := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), domain.ErrRateLimit)
}

func TestRequestID_Passthrough(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/concordance", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleConcordance_CacheIgnoresEventOrder(t *testing.T) {
	server := newTestServer(t, testRegistry(t))

	base := map[string]any{
		"indicator_id": "HbA1c",
		"period": map[string]string{
			"start_date": "2023-01-01",
			"end_date":   "2023-06-30",
		},
	}

	base["events"] = []map[string]string{{"date": "2023-01-10"}, {"date": "2023-03-01"}}
	first := doJSON(t, server, http.MethodPost, "/api/v1/concordance", base)
	require.Equal(t, http.StatusOK, first.Code)

	base["events"] = []map[string]string{{"date": "2023-03-01"}, {"date": "2023-01-10"}}
	second := doJSON(t, server, http.MethodPost, "/api/v1/concordance", base)
	require.Equal(t, http.StatusOK, second.Code)

	var resp concordanceResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
}
