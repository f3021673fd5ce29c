package api

import (
	"FinCast/internal/domain/models"
	"FinCast/internal/usecase"
	xhttp "FinCast/pkg/http"
	xlogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PredictionHandler serves forecasts and the stored prediction history.
type PredictionHandler struct {
	logger *xlogger.Logger
	engine *usecase.PredictionEngine
}

func NewPredictionHandler(logger *xlogger.Logger, engine *usecase.PredictionEngine) *PredictionHandler {
	return &PredictionHandler{logger: logger, engine: engine}
}

func (h *PredictionHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/predictions")
	g.POST("", h.Create)
	g.POST("/batch", h.Batch)
	g.GET("/history/:symbol", h.History)
	g.GET("/performance/:symbol", h.Performance)
}

// Create serves one prediction. Failures after validation are reported in the
// response metadata with a 200, like the batch endpoint.
func (h *PredictionHandler) Create(c echo.Context) error {
	req := &models.CreatePredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.engine.Predict(c.Request().Context(), req.ToDomain())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *PredictionHandler) Batch(c echo.Context) error {
	req := &models.BatchPredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	reqs := make([]models.PredictionRequest, len(req.Requests))
	for i, r := range req.Requests {
		reqs[i] = r.ToDomain()
	}
	out, err := h.engine.PredictBatch(c.Request().Context(), reqs)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *PredictionHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.engine.History(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		h.logger.Error("prediction history error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if c.QueryParam("since") != "" {
		since, ok := xhttp.QueryTime(c, "since")
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("since %q must be RFC3339, a date or unix seconds", c.QueryParam("since")).WithField("since"))
		}
		kept := entries[:0]
		for _, e := range entries {
			if !e.RecordedAt.Before(since) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *PredictionHandler) Performance(c echo.Context) error {
	req := &models.PerformanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	perf, err := h.engine.Performance(c.Request().Context(), req.Symbol, req.Days)
	if err != nil {
		h.logger.Error("prediction performance error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, perf)
}
