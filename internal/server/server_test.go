package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
	"github.com/funnelcast/funnelcast/internal/server"
	"github.com/funnelcast/funnelcast/internal/testutil"
)

func setupServer(t *testing.T) *server.Server {
	t.Helper()

	cfg := config.Default()
	o, err := pipeline.New(context.Background(), testutil.SetupTestStore(t), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return server.New(o, cfg.Server, zap.NewNop())
}

func do(t *testing.T, srv *server.Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field"`
		Row     int    `json:"row"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)

	w := do(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp server.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.ModelLoaded {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestForecast_NotTrained(t *testing.T) {
	srv := setupServer(t)
	data := testutil.GenerateLedger(t, testutil.DefaultLedgerOptions())

	w := do(t, srv, http.MethodPost, "/api/forecast", data)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "MODEL_NOT_TRAINED" {
		t.Errorf("expected MODEL_NOT_TRAINED, got %q", resp.Error.Code)
	}
}

func TestTrain_SchemaError(t *testing.T) {
	srv := setupServer(t)
	csv := "lead_id,inquiry_date,trip_price,current_stage,trip_date,booking_date\n" +
		"L1,2023-01-01,abc,inquiry,,\n"

	w := do(t, srv, http.MethodPost, "/api/train", []byte(csv))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "SCHEMA_ERROR" || resp.Error.Field != "trip_price" || resp.Error.Row != 1 {
		t.Errorf("unexpected error body: %+v", resp.Error)
	}
}

func TestForecast_InsufficientHistory(t *testing.T) {
	srv := setupServer(t)
	full := testutil.DefaultLedgerOptions()
	if w := do(t, srv, http.MethodPost, "/api/train", testutil.GenerateLedger(t, full)); w.Code != http.StatusOK {
		t.Fatalf("train: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	short := testutil.DefaultLedgerOptions()
	short.Months = 8
	target := "/api/forecast?date=" + short.AsOf().Format("2006-01-02")
	w := do(t, srv, http.MethodPost, target, testutil.GenerateLedger(t, short))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "INSUFFICIENT_HISTORY" {
		t.Errorf("expected INSUFFICIENT_HISTORY, got %q", resp.Error.Code)
	}
}

func TestForecast_BadDate(t *testing.T) {
	srv := setupServer(t)

	w := do(t, srv, http.MethodPost, "/api/forecast?date=June", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestTrainAndForecast(t *testing.T) {
	srv := setupServer(t)
	opts := testutil.DefaultLedgerOptions()
	data := testutil.GenerateLedger(t, opts)
	date := opts.AsOf().Format("2006-01-02")

	w := do(t, srv, http.MethodPost, "/api/train-and-forecast?date="+date, data)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var report struct {
		Training struct {
			BundleID string `json:"bundle_id"`
		} `json:"training"`
		Forecast struct {
			Points []struct {
				Date     string  `json:"date"`
				Forecast float64 `json:"forecast"`
				Lower    float64 `json:"lower"`
				Upper    float64 `json:"upper"`
				Method   string  `json:"method"`
			} `json:"forecast"`
			RatesSource   string `json:"rates_source"`
			ReferenceDate string `json:"reference_date"`
		} `json:"forecast"`
	}
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(report.Forecast.Points) != 12 {
		t.Fatalf("expected 12 points, got %d", len(report.Forecast.Points))
	}
	for _, p := range report.Forecast.Points {
		if p.Method != "ensemble" || !strings.HasSuffix(p.Date, "-01") {
			t.Errorf("unexpected point %+v", p)
		}
		if p.Lower > p.Forecast || p.Forecast > p.Upper {
			t.Errorf("bounds out of order for %s: %f <= %f <= %f", p.Date, p.Lower, p.Forecast, p.Upper)
		}
	}
	if report.Forecast.ReferenceDate != date {
		t.Errorf("expected reference date %s, got %s", date, report.Forecast.ReferenceDate)
	}

	// The model endpoint now reports the bundle.
	w = do(t, srv, http.MethodGet, "/api/model", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var info struct {
		ID      string `json:"id"`
		Current bool   `json:"current"`
	}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if info.ID != report.Training.BundleID || !info.Current {
		t.Errorf("unexpected model info %+v", info)
	}
}

func TestRates_FallbackBeforeTraining(t *testing.T) {
	srv := setupServer(t)

	w := do(t, srv, http.MethodGet, "/api/rates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp struct {
		Source string `json:"rates_source"`
		Rates  []struct {
			Stage string  `json:"stage"`
			Rate  float64 `json:"rate"`
		} `json:"rates"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "fallback" || len(resp.Rates) != 4 {
		t.Errorf("unexpected rates response %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := setupServer(t)

	w := do(t, srv, http.MethodGet, "/api/train", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "funnelcast_bundle_loaded") {
		t.Error("expected funnelcast metrics to be exported")
	}
}
