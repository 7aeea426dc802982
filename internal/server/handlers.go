package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/stats"
	"github.com/popsplit/popsplit/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tests, err := s.store.ListTests(r.Context(), "")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		DBSizeBytes:   dbSize,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// AssignRequest asks for the sticky variant of one visitor. The visitor id is
// whatever stable identifier the embedding site already has (cookie, session).
type AssignRequest struct {
	TestID    string `json:"t"`
	VisitorID string `json:"vid"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.VisitorID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	variantID, err := s.engine.AssignVariant(r.Context(), req.TestID, req.VisitorID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"variant_id": variantID})
}

// BeaconRequest records one ledger event.
type BeaconRequest struct {
	TestID    string `json:"t"`
	VariantID string `json:"v"`
	EventType string `json:"e"`
	PageURL   string `json:"url"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.VariantID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if !store.ValidEventType(req.EventType) {
		http.Error(w, "Invalid event type", http.StatusBadRequest)
		return
	}

	err := s.engine.RecordEvent(r.Context(), req.TestID, req.VariantID,
		store.EventType(req.EventType), req.PageURL, time.Now())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type testResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	StartDate         string  `json:"start_date"`
	EndDate           *string `json:"end_date,omitempty"`
	MinimumSampleSize int     `json:"minimum_sample_size"`
	ConfidenceLevel   int     `json:"confidence_level"`
	AutoDeclareWinner bool    `json:"auto_declare_winner"`
	WinnerVariantID   *string `json:"winner_variant_id,omitempty"`
}

func toTestResponse(t *store.Test) testResponse {
	resp := testResponse{
		ID:                t.ID,
		Name:              t.Name,
		Type:              string(t.Type),
		Status:            string(t.Status),
		StartDate:         t.StartDate.Format(time.RFC3339),
		MinimumSampleSize: t.MinimumSampleSize,
		ConfidenceLevel:   t.ConfidenceLevel,
		AutoDeclareWinner: t.AutoDeclareWinner,
		WinnerVariantID:   t.WinnerVariantID,
	}
	if t.EndDate != nil {
		end := t.EndDate.Format(time.RFC3339)
		resp.EndDate = &end
	}
	return resp
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	status := store.TestStatus(r.URL.Query().Get("status"))
	tests, err := s.store.ListTests(r.Context(), status)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]testResponse, 0, len(tests))
	for _, t := range tests {
		resp = append(resp, toTestResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createTestRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Variants []struct {
		CreativeID   string `json:"creative_id"`
		TrafficSplit int    `json:"traffic_split"`
	} `json:"variants"`
	MinimumSampleSize int  `json:"minimum_sample_size"`
	ConfidenceLevel   int  `json:"confidence_level"`
	AutoDeclareWinner bool `json:"auto_declare_winner"`
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Type == "" {
		req.Type = string(store.TypeConversion)
	}
	if req.MinimumSampleSize == 0 {
		req.MinimumSampleSize = 100
	}
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = 95
	}

	specs := make([]engine.VariantSpec, len(req.Variants))
	for i, v := range req.Variants {
		specs[i] = engine.VariantSpec{CreativeID: v.CreativeID, TrafficSplit: v.TrafficSplit}
	}

	test, err := s.engine.CreateTest(r.Context(), req.Name, store.TestType(req.Type),
		specs, req.MinimumSampleSize, req.ConfidenceLevel, req.AutoDeclareWinner)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTestResponse(test))
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, err := s.store.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toTestResponse(test))
}

type variantMetricsResponse struct {
	VariantID      string  `json:"variant_id"`
	CreativeID     string  `json:"creative_id"`
	TrafficSplit   int     `json:"traffic_split"`
	Displays       int     `json:"displays"`
	Interactions   int     `json:"interactions"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
	CIValid        bool    `json:"ci_valid"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	test, metrics, err := s.testMetrics(r, testID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := make([]variantMetricsResponse, len(metrics))
	for i, m := range metrics {
		interval, ok := stats.ConfidenceInterval(m.Conversions, m.Displays, test.ConfidenceLevel)
		resp[i] = variantMetricsResponse{
			VariantID:      m.VariantID,
			CreativeID:     m.CreativeID,
			TrafficSplit:   m.TrafficSplit,
			Displays:       m.Displays,
			Interactions:   m.Interactions,
			Conversions:    m.Conversions,
			ConversionRate: m.ConversionRate,
			CILower:        interval.Lower,
			CIUpper:        interval.Upper,
			CIValid:        ok,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignificance(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.PairwiseSignificance(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	type resultResponse struct {
		VariantA      string  `json:"variant_a"`
		VariantB      string  `json:"variant_b"`
		Confidence    float64 `json:"confidence"`
		PValue        float64 `json:"p_value"`
		Improvement   float64 `json:"improvement"`
		Significant   bool    `json:"significant"`
		SampleSizeMet bool    `json:"sample_size_met"`
		Message       string  `json:"message"`
	}

	resp := make([]resultResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, resultResponse(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
			days = parsed
		}
	}

	to := time.Now()
	from := to.AddDate(0, 0, -days)
	series, err := s.engine.DailySeries(r.Context(), chi.URLParam(r, "testID"), from, to)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.Recommendations(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	type recResponse struct {
		Kind        string `json:"type"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	resp := make([]recResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, recResponse{Kind: string(rec.Kind), Title: rec.Title, Description: rec.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lifecycleHandler(op func(ctx context.Context, testID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), chi.URLParam(r, "testID")); err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeclareWinner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VariantID string `json:"variant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.VariantID == "" {
		http.Error(w, "variant_id required", http.StatusBadRequest)
		return
	}

	if err := s.engine.DeclareWinner(r.Context(), chi.URLParam(r, "testID"), req.VariantID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testMetrics(r *http.Request, testID string) (*store.Test, []store.VariantMetrics, error) {
	test, err := s.store.GetTest(r.Context(), testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, engine.ErrUnknownTest
	}
	if err != nil {
		return nil, nil, err
	}
	metrics, err := s.engine.VariantMetrics(r.Context(), testID)
	if err != nil {
		return nil, nil, err
	}
	return test, metrics, nil
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownTest), errors.Is(err, engine.ErrUnknownVariant):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrInvalidConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrInsufficientData):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
