package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/san-kum/medassist/server/models"
)

const apiVersion = "1.0"

func respond(c *gin.Context, status int, data any, start time.Time) {
	c.JSON(status, models.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta(c, start),
	})
}

func fail(c *gin.Context, status int, code, message string, start time.Time) {
	c.AbortWithStatusJSON(status, models.APIResponse{
		Success: false,
		Error:   models.NewAPIError(code, message),
		Meta:    meta(c, start),
	})
}

// failWith maps a pipeline error onto its code and HTTP status.
func failWith(c *gin.Context, err error, start time.Time) {
	code := models.ErrorCode(err)
	if errors.Is(err, context.Canceled) {
		code = models.CodeTimeout
	}
	fail(c, statusFor(code), code, err.Error(), start)
}

func statusFor(code string) int {
	switch code {
	case models.CodeEmptyInput, models.CodeInvalidInput:
		return http.StatusBadRequest
	case models.CodeNoUsableInput, models.CodeDataQuality, models.CodeInvalidMetric:
		return http.StatusUnprocessableEntity
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeQueueFull:
		return http.StatusServiceUnavailable
	case models.CodeTimeout:
		return http.StatusGatewayTimeout
	case models.CodeUnauthorized:
		return http.StatusUnauthorized
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func meta(c *gin.Context, start time.Time) *models.ResponseMeta {
	return &models.ResponseMeta{
		RequestID:      c.GetString("request_id"),
		Timestamp:      time.Now(),
		ProcessingTime: float64(time.Since(start).Milliseconds()),
		Version:        apiVersion,
	}
}
