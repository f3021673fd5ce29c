package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinCast/internal/domain/models"
	domsvc "FinCast/internal/domain/service"
	xhttp "FinCast/pkg/http"
)

// RemoteClient posts JSON to an external inference service.
type RemoteClient struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
}

// NewRemoteClient builds a client with timeout and optional bearer key.
func NewRemoteClient(baseURL string, timeout time.Duration, apiKey string, opts ...xhttp.ClientOption) *RemoteClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	copts := []xhttp.ClientOption{xhttp.WithTimeout(timeout)}
	if apiKey != "" {
		copts = append(copts, xhttp.WithHeader("Authorization", "Bearer "+apiKey))
	}
	copts = append(copts, opts...)
	return &RemoteClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(copts...),
		attempts: 3,
	}
}

// PostJSON posts the given payload to path under baseURL and decodes JSON into dest.
func (c *RemoteClient) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("remote model service not configured")
	}
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + path,
		Body:   payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with linear backoff.
func (c *RemoteClient) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	var err error
	for i := 1; i <= max(c.attempts, 1); i++ {
		err = c.PostJSON(ctx, path, payload, dest)
		if err == nil || !xhttp.IsTemporary(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}

type remoteTable struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

type remoteFitReq struct {
	Handle string         `json:"handle,omitempty"`
	Kind   string         `json:"kind"`
	Target string         `json:"target"`
	Config map[string]any `json:"config,omitempty"`
	Table  remoteTable    `json:"table"`
}

type remoteFitResp struct {
	Handle string `json:"handle"`
}

type remotePredictReq struct {
	Handle  string      `json:"handle"`
	Horizon int         `json:"horizon"`
	Table   remoteTable `json:"table"`
}

type remotePredictResp struct {
	Values     []float64 `json:"values"`
	Confidence *float64  `json:"confidence"`
}

// Remote delegates training and inference to an external service. Only the service-side
// handle is persisted.
type Remote struct {
	Handle  string         `json:"handle"`
	Kind    string         `json:"kind"`
	Target  string         `json:"target"`
	Window  int            `json:"window"`
	Config  map[string]any `json:"config,omitempty"`
	Trained bool           `json:"trained"`

	client *RemoteClient
}

func NewRemote(client *RemoteClient, cfg map[string]any) *Remote {
	return &Remote{
		Kind:   models.ConfigString(cfg, "remote_kind", "lstm"),
		Target: targetOf(cfg),
		Window: models.ConfigInt(cfg, "window", 60),
		Config: cfg,
		client: client,
	}
}

func (m *Remote) Type() models.ModelType { return models.ModelTypeRemote }

func (m *Remote) Fit(ctx context.Context, data *models.Table) error {
	var resp remoteFitResp
	req := remoteFitReq{Kind: m.Kind, Target: m.Target, Config: m.Config, Table: toRemote(data)}
	if err := m.client.PostJSONWithRetry(ctx, "/v1/models/train", req, &resp); err != nil {
		return fmt.Errorf("remote train: %w", err)
	}
	if resp.Handle == "" {
		return fmt.Errorf("remote train: empty handle")
	}
	m.Handle = resp.Handle
	m.Trained = true
	return nil
}

func (m *Remote) Update(ctx context.Context, data *models.Table) error {
	if !m.Trained {
		return m.Fit(ctx, data)
	}
	var resp remoteFitResp
	req := remoteFitReq{Handle: m.Handle, Kind: m.Kind, Target: m.Target, Table: toRemote(data)}
	if err := m.client.PostJSONWithRetry(ctx, "/v1/models/update", req, &resp); err != nil {
		return fmt.Errorf("remote update: %w", err)
	}
	if resp.Handle != "" {
		m.Handle = resp.Handle
	}
	return nil
}

func (m *Remote) Predict(ctx context.Context, features *models.Table, horizon int) ([]float64, error) {
	values, _, err := m.PredictConfidence(ctx, features, horizon)
	return values, err
}

// PredictConfidence sends the trailing window; a missing service confidence maps to 0.5.
func (m *Remote) PredictConfidence(ctx context.Context, features *models.Table, horizon int) ([]float64, float64, error) {
	if !m.Trained {
		return nil, 0, errNotFitted
	}
	if err := checkHorizon(horizon); err != nil {
		return nil, 0, err
	}
	window := features
	if m.Window > 0 && features.Len() > m.Window {
		window = features.Tail(m.Window)
	}
	var resp remotePredictResp
	req := remotePredictReq{Handle: m.Handle, Horizon: horizon, Table: toRemote(window)}
	if err := m.client.PostJSONWithRetry(ctx, "/v1/models/predict", req, &resp); err != nil {
		return nil, 0, fmt.Errorf("remote predict: %w", err)
	}
	conf := 0.5
	if resp.Confidence != nil {
		conf = clamp01(*resp.Confidence)
	}
	return resp.Values, conf, nil
}

func toRemote(t *models.Table) remoteTable {
	if t == nil {
		return remoteTable{}
	}
	return remoteTable{Columns: t.Columns, Data: t.Data}
}

var (
	_ domsvc.Model                = (*Remote)(nil)
	_ domsvc.ConfidenceForecaster = (*Remote)(nil)
)
