package api

import (
	"errors"

	"FinCast/internal/domain/models"
	xhttp "FinCast/pkg/http"
)

// toAppError maps domain errors onto HTTP statuses. Unknown errors become a 500.
func toAppError(err error) *xhttp.AppError {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return xhttp.BadRequestError(ve.Message).WithField(ve.Field).WithError(err)
	case errors.Is(err, models.ErrValidation):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrModelNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInsufficientData), errors.Is(err, models.ErrEmptyEnsemble):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
