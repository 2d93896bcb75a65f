package server

import (
	"errors"
	"net/http"

	nativecommon "lendcore/native/common"
	"lendcore/native/lending"
)

// statusFromError maps engine sentinel errors onto HTTP status codes. Unknown
// errors surface as 500 without leaking internals to the client.
func statusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lending.ErrReserveNotFound),
		errors.Is(err, lending.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrReserveExists):
		return http.StatusConflict
	case errors.Is(err, lending.ErrNotPositionOwner),
		errors.Is(err, lending.ErrSelfLiquidation):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidConfig),
		errors.Is(err, lending.ErrInvalidUtilization),
		errors.Is(err, lending.ErrExcessRepayment):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrUtilizationExceeded),
		errors.Is(err, lending.ErrNotLiquidatable),
		errors.Is(err, lending.ErrNoDebt),
		errors.Is(err, lending.ErrPositionNotEmpty),
		errors.Is(err, lending.ErrInsufficientCollateralToSeize):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrStalePrice),
		errors.Is(err, lending.ErrInvalidPrice),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFromError returns the client-facing error string. Internal errors
// are collapsed to a generic message.
func messageFromError(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
