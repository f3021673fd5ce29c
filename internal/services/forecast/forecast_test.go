package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	"FinCast/internal/services/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticTable is a trending, noisy price series run through the feature engineer.
func syntheticTable(t *testing.T, n int, seed uint64) *models.Table {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	candles := make([]models.Candle, n)
	price := 100.0
	for i := range candles {
		price *= math.Exp(0.0005 + 0.01*rng.NormFloat64())
		candles[i] = models.Candle{
			Open:   price * 0.998,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price,
			Volume: 1e6 + 1e5*rng.Float64(),
		}
	}
	tbl, err := features.NewEngineer().GenerateFeatures(models.CandlesToTable(candles), nil)
	require.NoError(t, err)
	return features.FillNaN(tbl)
}

func TestFamiliesFitPredictRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	data := syntheticTable(t, 300, 1)
	lastClose, _ := data.Column(models.ColClose)

	for _, typ := range []models.ModelType{
		models.ModelTypeLinear,
		models.ModelTypeARIMA,
		models.ModelTypeGARCH,
		models.ModelTypeRandomForest,
		models.ModelTypeXGBoost,
		models.ModelTypeLSTM,
	} {
		t.Run(string(typ), func(t *testing.T) {
			m, err := f.Create(typ, nil)
			require.NoError(t, err)
			assert.Equal(t, typ, m.Type())

			_, err = m.Predict(ctx, data, 3)
			require.Error(t, err, "unfitted model must not predict")

			require.NoError(t, m.Fit(ctx, data))

			values, err := m.Predict(ctx, data, 10)
			require.NoError(t, err)
			require.Len(t, values, 10)
			for _, v := range values {
				require.True(t, finite(v))
				// a ten day forecast should stay in the neighbourhood of the last price
				assert.InDelta(t, lastClose[len(lastClose)-1], v, lastClose[len(lastClose)-1]*0.5)
			}

			if cf, ok := m.(domsvc.ConfidenceForecaster); ok {
				_, conf, err := cf.PredictConfidence(ctx, data, 10)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, conf, 0.0)
				assert.LessOrEqual(t, conf, 1.0)
			}

			artifact, err := f.Marshal(m)
			require.NoError(t, err)
			restored, err := f.Unmarshal(artifact)
			require.NoError(t, err)
			again, err := restored.Predict(ctx, data, 10)
			require.NoError(t, err)
			assert.InDeltaSlice(t, values, again, 1e-9)

			clone, err := f.Clone(m)
			require.NoError(t, err)
			require.NoError(t, clone.Update(ctx, syntheticTable(t, 120, 2)))
			after, err := m.Predict(ctx, data, 10)
			require.NoError(t, err)
			assert.InDeltaSlice(t, values, after, 1e-9, "updating a clone leaves the original untouched")

			updated, err := clone.Predict(ctx, data, 10)
			require.NoError(t, err)
			assert.Len(t, updated, 10)
		})
	}
}

func TestPredictRejectsBadHorizon(t *testing.T) {
	ctx := context.Background()
	data := syntheticTable(t, 150, 3)
	m := NewLinear(nil)
	require.NoError(t, m.Fit(ctx, data))
	_, err := m.Predict(ctx, data, 0)
	assert.Error(t, err)
}

func TestLinearHandlesConstantColumns(t *testing.T) {
	ctx := context.Background()
	data := syntheticTable(t, 150, 4)
	flat := make([]float64, data.Len())
	data, err := data.With("flat", flat)
	require.NoError(t, err)

	m := NewLinear(nil)
	require.NoError(t, m.Fit(ctx, data))
	assert.NotContains(t, m.Columns, "flat")
}

func TestAutoregressiveRecoversDrift(t *testing.T) {
	ctx := context.Background()
	n := 200
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 50 + 0.5*float64(i)
	}
	data := &models.Table{Columns: []string{models.ColClose}, Data: [][]float64{closes}}

	m := NewAutoregressive(nil)
	require.NoError(t, m.Fit(ctx, data))
	values, conf, err := m.PredictConfidence(ctx, data, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{150, 150.5, 151}, values, 1e-6)
	assert.InDelta(t, 1.0, conf, 1e-6)
}

func TestTargetMustBePresent(t *testing.T) {
	ctx := context.Background()
	m := NewGARCH(map[string]any{"target": "adj_close"})
	err := m.Fit(ctx, syntheticTable(t, 100, 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adj_close")
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	assert.False(t, f.Supports(models.ModelTypeRemote))
	_, err := f.Create(models.ModelTypeRemote, nil)
	assert.True(t, errors.Is(err, models.ErrValidation))

	f = NewFactory(WithRemoteService("http://inference.local", time.Second, ""))
	assert.True(t, f.Supports(models.ModelTypeRemote))
	assert.Len(t, f.Types(), 7)
}

func TestUnmarshalRejectsUnknownFormat(t *testing.T) {
	f := NewFactory()
	_, err := f.Unmarshal([]byte(`{"format":99,"type":"linear","state":{}}`))
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	_, err = f.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestRemoteModel(t *testing.T) {
	ctx := context.Background()
	var calls []string
	var predictAttempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/models/train":
			_, _ = w.Write([]byte(`{"handle":"h-1"}`))
		case "/v1/models/update":
			_, _ = w.Write([]byte(`{"handle":"h-2"}`))
		case "/v1/models/predict":
			predictAttempts++
			if predictAttempts == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			var req remotePredictReq
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.LessOrEqual(t, len(req.Table.Data[0]), 60)
			_, _ = w.Write([]byte(`{"values":[1,2],"confidence":0.8}`))
		}
	}))
	defer srv.Close()

	f := NewFactory(WithRemoteService(srv.URL, time.Second, "k"))
	m, err := f.Create(models.ModelTypeRemote, nil)
	require.NoError(t, err)
	data := syntheticTable(t, 100, 6)

	require.NoError(t, m.Fit(ctx, data))
	values, conf, err := m.(domsvc.ConfidenceForecaster).PredictConfidence(ctx, data, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, values)
	assert.Equal(t, 0.8, conf)
	assert.Equal(t, 2, predictAttempts, "503 is retried")

	artifact, err := f.Marshal(m)
	require.NoError(t, err)
	restored, err := f.Unmarshal(artifact)
	require.NoError(t, err)
	require.NoError(t, restored.Update(ctx, data))
	assert.Equal(t, "h-2", restored.(*Remote).Handle)
	assert.Equal(t, "h-1", m.(*Remote).Handle)
}

func TestRemoteClientDoesNotRetryClientErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second, "")
	err := c.PostJSONWithRetry(context.Background(), "/v1/models/train", map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, hits)
}
