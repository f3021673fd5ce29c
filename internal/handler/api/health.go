package api

import (
	"context"
	"net/http"

	"FinCast/internal/usecase"
	xhttp "FinCast/pkg/http"
	"FinCast/pkg/queue"

	"github.com/labstack/echo/v4"
)

// QueueStatter reports work queue depth. *queue.RedisQueue implements it.
type QueueStatter interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type healthBody struct {
	usecase.EngineHealth
	Queue *queue.Stats `json:"queue,omitempty"`
}

type HealthHandler struct {
	engine *usecase.PredictionEngine
	queue  QueueStatter
}

// NewHealthHandler builds the handler. q may be nil when the retrain queue is disabled.
func NewHealthHandler(engine *usecase.PredictionEngine, q QueueStatter) *HealthHandler {
	return &HealthHandler{engine: engine, queue: q}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", h.Health)
	e.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	body := healthBody{EngineHealth: h.engine.Health(ctx)}
	if h.queue != nil {
		if stats, err := h.queue.Stats(ctx); err == nil {
			body.Queue = &stats
		} else {
			body.Status = "degraded"
		}
	}
	status := http.StatusOK
	if body.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, body)
}
