package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/stats"
)

type HealthResponse struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	BundleID      string `json:"bundle_id,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if meta, err := s.orch.Metadata(r.Context()); err == nil {
		response.ModelLoaded = true
		response.BundleID = meta.BundleID
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.orch.Model(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.orch.History(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": history})
}

type RatesResponse struct {
	Source stats.RatesSource `json:"rates_source"`
	Rates  stats.RateTable   `json:"rates"`
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.orch.Rates(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RatesResponse{Source: rates.Source(), Rates: rates.Table()})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	meta, err := s.orch.Train(r.Context(), s.body(w, r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.referenceDate(w, r)
	if !ok {
		return
	}
	res, err := s.orch.Forecast(r.Context(), s.body(w, r), ref)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrainAndForecast(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.referenceDate(w, r)
	if !ok {
		return
	}
	report, err := s.orch.TrainAndForecast(r.Context(), s.body(w, r), ref)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.referenceDate(w, r)
	if !ok {
		return
	}
	st, err := s.orch.Inspect(s.body(w, r), ref)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxUploadMB)<<20)
}

// referenceDate parses the optional date query parameter. A missing date is
// the zero time, which the orchestrator reads as today.
func (s *Server) referenceDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return time.Time{}, true
	}
	ref, err := time.Parse("2006-01-02", v)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "BAD_REQUEST",
			Message: "date must be YYYY-MM-DD",
		}})
		return time.Time{}, false
	}
	return ref, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Row     int    `json:"row,omitempty"`
	Month   string `json:"month,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: errorBody{
			Code:    "PAYLOAD_TOO_LARGE",
			Message: "dataset exceeds the upload limit",
		}})
		return
	}

	status := apperrors.StatusCode(err)
	body := errorBody{Code: string(apperrors.CodeOf(err)), Message: "internal server error"}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field, body.Row, body.Month = appErr.Field, appErr.Row, appErr.Month
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, errorResponse{Error: body})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
