package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/repository"
	"FinCast/internal/services/features"
	"FinCast/internal/services/forecast"
	"FinCast/internal/usecase"
	"FinCast/pkg/cache"
	xhttp "FinCast/pkg/http"
	xlogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatModel forecasts the last close it was fitted on.
type flatModel struct {
	Last float64 `json:"last"`
}

func (m *flatModel) Type() models.ModelType { return models.ModelTypeLSTM }

func (m *flatModel) Fit(_ context.Context, data *models.Table) error {
	closes, ok := data.Column(models.ColClose)
	if !ok || len(closes) == 0 {
		return fmt.Errorf("no closes")
	}
	m.Last = closes[len(closes)-1]
	return nil
}

func (m *flatModel) Update(ctx context.Context, data *models.Table) error { return m.Fit(ctx, data) }

func (m *flatModel) Predict(_ context.Context, _ *models.Table, horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = m.Last
	}
	return out, nil
}

type fakeRetrain struct {
	ids    []string
	accept bool
}

func (f *fakeRetrain) Submit(_ context.Context, id string) (bool, error) {
	f.ids = append(f.ids, id)
	return f.accept, nil
}

type testAPI struct {
	echo     *echo.Echo
	registry *usecase.ModelRegistry
	engine   *usecase.PredictionEngine
	retrain  *fakeRetrain
}

func writeCandles(t *testing.T, dir, symbol string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	day := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := 100 + float64(i%20)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n", day.AddDate(0, 0, i).Format(time.DateOnly), c, c+1, c-1, c, 1000+i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644))
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "candles")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	writeCandles(t, dataDir, "AAPL", 400)
	writeCandles(t, dataDir, "TINY", 30)

	meta, err := repository.NewFileMetadataStore(filepath.Join(dir, "models.json"))
	require.NoError(t, err)
	artifacts, err := repository.NewFSArtifactStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	factory := forecast.NewFactory(forecast.WithConstructor(models.ModelTypeLSTM, func(map[string]any) (domsvc.Model, error) {
		return &flatModel{}, nil
	}))
	registry := usecase.NewModelRegistry(usecase.NewModelStore(meta, artifacts, nil), factory, nil)

	data := repository.NewCSVCandleStore(dataDir)
	engineer := features.NewEngineer()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	history := usecase.NewHistoryCache(repository.NewCacheHistoryStore(mc), nil)
	engine := usecase.NewPredictionEngine(registry, data, engineer, history, nil)
	t.Cleanup(engine.Wait)
	training := usecase.NewTrainingService(registry, data, engineer, 756, 2520, nil)
	retrain := &fakeRetrain{accept: true}

	e := echo.New()
	xhttp.Handlers{
		NewPredictionHandler(xlogger.Nop(), engine),
		NewModelHandler(xlogger.Nop(), registry, training, retrain),
		NewHealthHandler(engine, nil),
	}.RegisterRoutes(e)
	return &testAPI{echo: e, registry: registry, engine: engine, retrain: retrain}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (a *testAPI) trainAAPL(t *testing.T) models.ModelRecord {
	t.Helper()
	code, env := a.do(t, http.MethodPost, "/api/v1/models/train", `{"symbol":"aapl","model_type":"lstm","days_back":300}`)
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var rec models.ModelRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	return rec
}

func TestTrainListGetDelete(t *testing.T) {
	a := newTestAPI(t)
	rec := a.trainAAPL(t)
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, models.StatusTrained, rec.Status)

	code, env := a.do(t, http.MethodGet, "/api/v1/models?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.ModelSummary `json:"rows"`
		Total int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, rec.ID, list.Rows[0].ID)

	code, _ = a.do(t, http.MethodGet, "/api/v1/models/"+rec.ID, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = a.do(t, http.MethodDelete, "/api/v1/models/"+rec.ID, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = a.do(t, http.MethodDelete, "/api/v1/models/"+rec.ID, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodGet, "/api/v1/models/"+rec.ID, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTrainErrors(t *testing.T) {
	a := newTestAPI(t)

	code, _ := a.do(t, http.MethodPost, "/api/v1/models/train", `{"symbol":"AAPL","model_type":"prophet"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/models/train", `{"model_type":"lstm"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := a.do(t, http.MethodPost, "/api/v1/models/train", `{"symbol":"TINY","model_type":"lstm"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(env.Data), "insufficient data")
}

func TestCreatePrediction(t *testing.T) {
	a := newTestAPI(t)
	a.trainAAPL(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":3}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var resp models.PredictionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Len(t, resp.Values, 3)
	assert.Len(t, resp.ModelPredictions, 1)
	assert.Equal(t, models.EnsembleWeightedAverage, resp.Metadata.EnsembleMethod)
	assert.Nil(t, resp.Metadata.Error)

	code, _ = a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":0}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":1,"ensemble_method":"bagging"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"MSFT","horizon":1}`)
	require.Equal(t, http.StatusOK, code)
	resp = models.PredictionResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp.ModelPredictions, "no models for MSFT")
}

func TestCreatePredictionZeroThreshold(t *testing.T) {
	a := newTestAPI(t)
	a.trainAAPL(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":1,"confidence_threshold":0}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var resp models.PredictionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.False(t, resp.Metadata.LowConfidence, "no score is below a zero threshold")

	code, env = a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":1,"confidence_threshold":1}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	resp = models.PredictionResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, resp.Metadata.ConfidenceScore < 1, resp.Metadata.LowConfidence)

	code, _ = a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":1,"confidence_threshold":-0.1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBatchPrediction(t *testing.T) {
	a := newTestAPI(t)
	a.trainAAPL(t)

	body := `{"requests":[{"symbol":"AAPL","horizon":2},{"symbol":"AAPL","horizon":0},{"symbol":"MSFT","horizon":1}]}`
	code, env := a.do(t, http.MethodPost, "/api/v1/predictions/batch", body)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var list struct {
		Rows []models.PredictionResponse `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 3)
	assert.Nil(t, list.Rows[0].Metadata.Error)
	require.NotNil(t, list.Rows[1].Metadata.Error)
	assert.Contains(t, *list.Rows[1].Metadata.Error, "horizon")
	assert.Nil(t, list.Rows[2].Metadata.Error)

	code, _ = a.do(t, http.MethodPost, "/api/v1/predictions/batch", `{"requests":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistoryAndPerformance(t *testing.T) {
	a := newTestAPI(t)
	a.trainAAPL(t)
	for i := 0; i < 2; i++ {
		code, _ := a.do(t, http.MethodPost, "/api/v1/predictions", `{"symbol":"AAPL","horizon":1}`)
		require.Equal(t, http.StatusOK, code)
	}
	a.engine.Wait()

	code, env := a.do(t, http.MethodGet, "/api/v1/predictions/history/aapl?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.HistoryEntry `json:"rows"`
		Total int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 2, list.Total)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	code, env = a.do(t, http.MethodGet, "/api/v1/predictions/history/AAPL?since="+future, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 0, list.Total)

	code, _ = a.do(t, http.MethodGet, "/api/v1/predictions/history/AAPL?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodGet, "/api/v1/predictions/history/AAPL?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodGet, "/api/v1/predictions/performance/AAPL", "")
	require.Equal(t, http.StatusOK, code)
	var perf models.PerformanceSummary
	require.NoError(t, json.Unmarshal(env.Data, &perf))
	assert.Equal(t, 7, perf.AnalysisPeriodDays)
	assert.Equal(t, 2, perf.TotalPredictions)
	assert.Equal(t, 1.0, perf.SuccessRate)
}

func TestRetrainEndpoints(t *testing.T) {
	a := newTestAPI(t)
	rec := a.trainAAPL(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/models/"+rec.ID+"/retrain", `{"days_back":350}`)
	require.Equal(t, http.StatusOK, code, string(env.Data))
	var updated models.ModelRecord
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, models.StatusUpdated, updated.Status)

	code, _ = a.do(t, http.MethodPost, "/api/v1/models/"+rec.ID+"/retrain", `{"async":true}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{rec.ID}, a.retrain.ids)

	a.retrain.accept = false
	code, _ = a.do(t, http.MethodPost, "/api/v1/models/"+rec.ID+"/retrain", `{"async":true}`)
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/models/missing/retrain", `{"async":true}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/models/missing/retrain", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCleanupAndHealth(t *testing.T) {
	a := newTestAPI(t)
	a.trainAAPL(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/models/cleanup", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deleted":0,"days_old":30}`, string(env.Data))

	code, _ = a.do(t, http.MethodPost, "/api/v1/models/cleanup", `{"days_old":0}`)
	assert.Equal(t, http.StatusOK, code, "zero is replaced by the default")

	code, env = a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	var h struct {
		Status   string `json:"status"`
		Registry struct {
			Models int `json:"models"`
		} `json:"registry"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Registry.Models)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{models.NewValidationError("horizon", "bad"), http.StatusBadRequest},
		{&models.ModelNotFoundError{ModelID: "x"}, http.StatusNotFound},
		{&models.InsufficientDataError{Got: 1, Required: 2}, http.StatusUnprocessableEntity},
		{&models.EmptyEnsembleError{Failed: 2}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", &models.ModelNotFoundError{ModelID: "y"}), http.StatusNotFound},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, toAppError(tc.err).Status, tc.err.Error())
	}
	assert.Equal(t, "horizon", toAppError(models.NewValidationError("horizon", "bad")).Field)
}
