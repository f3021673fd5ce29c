package api

import (
	"net/http"

	"FinCast/internal/domain/models"
	"FinCast/internal/usecase"
	xhttp "FinCast/pkg/http"
	xlogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ModelHandler manages the model lifecycle: listing, training, retraining and removal.
type ModelHandler struct {
	logger   *xlogger.Logger
	registry *usecase.ModelRegistry
	training *usecase.TrainingService
	retrain  usecase.RetrainSubmitter
}

// NewModelHandler builds the handler. retrain may be nil, in which case async retrains
// are rejected.
func NewModelHandler(logger *xlogger.Logger, registry *usecase.ModelRegistry, training *usecase.TrainingService, retrain usecase.RetrainSubmitter) *ModelHandler {
	return &ModelHandler{logger: logger, registry: registry, training: training, retrain: retrain}
}

func (h *ModelHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/models")
	g.GET("", h.List)
	g.POST("/train", h.Train)
	g.POST("/cleanup", h.Cleanup)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/retrain", h.Retrain)
}

func (h *ModelHandler) List(c echo.Context) error {
	req := &models.ListModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.registry.ListAvailable(req.Symbol, models.ModelType(req.ModelType))
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ModelHandler) Get(c echo.Context) error {
	rec, err := h.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *ModelHandler) Train(c echo.Context) error {
	req := &models.TrainModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.training.Train(c.Request().Context(), req.Symbol, models.ModelType(req.ModelType), req.DaysBack, req.Config)
	if err != nil {
		h.logger.Error("train model error",
			xlogger.String("symbol", req.Symbol),
			xlogger.String("model_type", req.ModelType),
			xlogger.Error(err),
		)
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.CreatedResponse(c, rec)
}

func (h *ModelHandler) Retrain(c echo.Context) error {
	req := &models.RetrainModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	if req.Async {
		if h.retrain == nil {
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("retrain queue is disabled"))
		}
		if _, err := h.registry.Get(ctx, req.ID); err != nil {
			return xhttp.AppErrorResponse(c, toAppError(err))
		}
		queued, err := h.retrain.Submit(ctx, req.ID)
		if err != nil {
			h.logger.Error("queue retrain error", xlogger.String("model_id", req.ID), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, toAppError(err))
		}
		if !queued {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("retrain already requested recently").WithParam("model_id", req.ID))
		}
		return xhttp.AcceptedResponse(c, map[string]any{"model_id": req.ID, "queued": true})
	}

	rec, err := h.training.Retrain(ctx, req.ID, req.DaysBack, req.Config)
	if err != nil {
		h.logger.Error("retrain model error", xlogger.String("model_id", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *ModelHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	ok, err := h.registry.Delete(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("delete model error", xlogger.String("model_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("model %s not found", id))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ModelHandler) Cleanup(c echo.Context) error {
	req := &models.CleanupModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	n, err := h.registry.CleanupOldModels(c.Request().Context(), req.DaysOld)
	if err != nil {
		h.logger.Error("cleanup models error", xlogger.Int("deleted", n), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, map[string]int{"deleted": n, "days_old": req.DaysOld})
}
