package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/handloom-fulfillment/internal/checkout"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/fulfillment"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/lifecycle"
	"github.com/safar/handloom-fulfillment/internal/logger"
	"github.com/safar/handloom-fulfillment/internal/validate"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message, Code: code})
}

// respondErr maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without its message.
func respondErr(c *gin.Context, base *zap.Logger, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), base).Error("Request failed", zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		verr    *validate.Error
		stock   *ledger.InsufficientStockError
		dup     *ledger.DuplicateProductError
		invalid *lifecycle.InvalidTransitionError
		stale   *lifecycle.StaleStatusError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: verr.Code(), Details: verr.Fields}
	case errors.Is(err, checkout.ErrPostCreateDecrement):
		// stock moved after the order row was written
		resp := errorResponse{Error: err.Error(), Code: "RECONCILIATION_ERROR"}
		if errors.As(err, &stock) {
			resp.Details = stock
		}
		return http.StatusConflict, resp
	case errors.As(err, &stock):
		return http.StatusConflict, errorResponse{Error: stock.Error(), Code: stock.Code(), Details: stock}
	case errors.As(err, &dup):
		return http.StatusConflict, errorResponse{Error: dup.Error(), Code: dup.Code(), Details: dup.Duplicate}
	case errors.As(err, &invalid):
		return http.StatusConflict, errorResponse{Error: invalid.Error(), Code: invalid.Code(), Details: gin.H{
			"from":    invalid.From,
			"to":      invalid.To,
			"allowed": lifecycle.Allowed(invalid.From),
		}}
	case errors.As(err, &stale):
		return http.StatusConflict, errorResponse{Error: stale.Error(), Code: stale.Code(), Details: stale}
	case errors.Is(err, lifecycle.ErrPackingNotVerified):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "PACKING_INCOMPLETE"}
	case errors.Is(err, fulfillment.ErrNotInPacking):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "NOT_IN_PACKING"}
	case errors.Is(err, database.ErrSessionConflict):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "SESSION_CONFLICT"}
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrSessionNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"}
	}
}
