package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
)

// Error codes returned in the response envelope
const (
	CodeValidation            = -1100
	CodeAccountNotFound       = -1201
	CodePositionNotFound      = -1202
	CodeInsufficientFunds     = -2010
	CodeShortCapacity         = -2011
	CodeMarginLimit           = -2012
	CodePositionClosed        = -2020
	CodeSettlementConflict    = -2021
	CodePriceUnavailable      = -3001
	CodePersistenceFailure    = -5001
	CodeInternalServerFailure = -1
)

// handleError maps service errors to an HTTP status and a stable code.
// The message always carries the specific reason.
func handleError(c *gin.Context, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(c, http.StatusBadRequest, CodeValidation, msg)
	case errors.Is(err, service.ErrAccountNotFound):
		response.Error(c, http.StatusNotFound, CodeAccountNotFound, msg)
	case errors.Is(err, service.ErrPositionNotFound):
		response.Error(c, http.StatusNotFound, CodePositionNotFound, msg)
	case errors.Is(err, service.ErrInsufficientFunds):
		response.Error(c, http.StatusUnprocessableEntity, CodeInsufficientFunds, msg)
	case errors.Is(err, service.ErrInsufficientShortCapacity):
		response.Error(c, http.StatusUnprocessableEntity, CodeShortCapacity, msg)
	case errors.Is(err, service.ErrMarginLimitExceeded):
		response.Error(c, http.StatusUnprocessableEntity, CodeMarginLimit, msg)
	case errors.Is(err, service.ErrPositionAlreadyClosed):
		response.Error(c, http.StatusConflict, CodePositionClosed, msg)
	case errors.Is(err, service.ErrSettlementConflict):
		response.Error(c, http.StatusConflict, CodeSettlementConflict, msg)
	case errors.Is(err, service.ErrPriceUnavailable):
		response.Error(c, http.StatusServiceUnavailable, CodePriceUnavailable, msg)
	case errors.Is(err, service.ErrPersistenceFailure):
		response.Error(c, http.StatusServiceUnavailable, CodePersistenceFailure, msg)
	default:
		response.Error(c, http.StatusInternalServerError, CodeInternalServerFailure, msg)
	}
}

// pagination reads page and page_size, clamped the same way everywhere
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
