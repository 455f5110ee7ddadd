package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a domain error to its HTTP status. Zero means the error is
// not a domain error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrCapacityExceeded),
		errors.Is(err, models.ErrSoldOut),
		errors.Is(err, models.ErrInsufficient),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrLimitExceeded),
		errors.Is(err, models.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrNoVerifiedMethod),
		errors.Is(err, models.ErrRoundClosed),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

// respondError writes err as an ErrorResponse. Errors that are not domain
// errors are logged and reported as "failed to <action>".
func respondError(c *gin.Context, logger zerolog.Logger, err error, action string) {
	if status := statusFor(err); status != 0 {
		if status == http.StatusServiceUnavailable {
			logger.Warn().Err(err).Msg(action + " unavailable")
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: models.ErrorCode(err)})
		return
	}
	logger.Error().Err(err).Str("path", c.FullPath()).Msg("failed to " + action)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to " + action})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: models.ErrorCode(models.ErrInvalidInput)})
}

// parseID reads the :id path parameter.
func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads the page and limit query parameters.
func parsePage(c *gin.Context) (models.Page, bool) {
	page, limit := 0, 0
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "invalid page")
			return models.Page{}, false
		}
		page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "invalid limit")
			return models.Page{}, false
		}
		limit = n
	}
	return models.NewPage(page, limit), true
}
