package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/insurance"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InsuranceTracker defines the insurance operations used by InsuranceHandler.
type InsuranceTracker interface {
	ListRecords(ctx context.Context, q insurance.Query) (*models.InsuranceRecords, error)
	TriggerResale(ctx context.Context, licenseID uuid.UUID) (*models.InsuranceRecord, error)
	NotifyOwner(ctx context.Context, licenseID uuid.UUID) (*models.InsuranceRecord, error)
	Sweep(ctx context.Context, notify bool) (*insurance.SweepResult, error)
}

// InsuranceHandler handles insurance tracker HTTP endpoints.
type InsuranceHandler struct {
	tracker InsuranceTracker
	logger  zerolog.Logger
}

// NewInsuranceHandler creates a new InsuranceHandler.
func NewInsuranceHandler(tracker InsuranceTracker, logger zerolog.Logger) *InsuranceHandler {
	return &InsuranceHandler{
		tracker: tracker,
		logger:  logger.With().Str("component", "insurance_handler").Logger(),
	}
}

// RegisterRoutes registers insurance routes on the given router group.
func (h *InsuranceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/insurance", h.ListOwn)
}

// RegisterAdminRoutes registers administrative insurance routes.
func (h *InsuranceHandler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	ins := admin.Group("/insurance")
	{
		ins.GET("", h.ListAll)
		ins.POST("/sweep", h.Sweep)
		ins.POST("/:id/trigger-resale", h.TriggerResale)
		ins.POST("/:id/notify", h.Notify)
	}
}

// parseQuery reads the filter and paging parameters shared by both lists.
func parseQuery(c *gin.Context) (insurance.Query, bool) {
	q := insurance.Query{Status: models.InsuranceStatusFilter(c.Query("status"))}
	if v := c.Query("includeResold"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid includeResold")
			return q, false
		}
		q.IncludeResold = b
	}
	if v := c.Query("productId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "invalid productId")
			return q, false
		}
		q.ProductID = &id
	}
	page, ok := parsePage(c)
	if !ok {
		return q, false
	}
	q.Page = page
	return q, true
}

// ListOwn returns the caller's insured licenses.
//
//	@Summary		Insurance tracker
//	@Description	Returns the caller's insured licenses with derived status and a summary over every matching record
//	@Tags			Insurance
//	@Produce		json
//	@Param			status			query		string	false	"all, active or expired"
//	@Param			includeResold	query		bool	false	"Include resold records"
//	@Param			page			query		int		false	"Page number"
//	@Param			limit			query		int		false	"Page size (max 100)"
//	@Success		200				{object}	models.InsuranceRecords
//	@Failure		400				{object}	ErrorResponse
//	@Router			/insurance [get]
func (h *InsuranceHandler) ListOwn(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	q, ok := parseQuery(c)
	if !ok {
		return
	}
	q.OwnerID = &user.UserID

	res, err := h.tracker.ListRecords(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, "list insurance records")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListAll returns insured licenses across owners.
// GET /api/v1/admin/insurance
func (h *InsuranceHandler) ListAll(c *gin.Context) {
	q, ok := parseQuery(c)
	if !ok {
		return
	}
	if v := c.Query("ownerId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "invalid ownerId")
			return
		}
		q.OwnerID = &id
	}

	res, err := h.tracker.ListRecords(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, "list insurance records")
		return
	}
	c.JSON(http.StatusOK, res)
}

// TriggerResale lists an overdue license on the owner's behalf.
// POST /api/v1/admin/insurance/:id/trigger-resale
func (h *InsuranceHandler) TriggerResale(c *gin.Context) {
	id, ok := parseID(c, "license")
	if !ok {
		return
	}

	rec, err := h.tracker.TriggerResale(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "trigger resale")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Notify sends an overdue notice to the license owner.
// POST /api/v1/admin/insurance/:id/notify
func (h *InsuranceHandler) Notify(c *gin.Context) {
	id, ok := parseID(c, "license")
	if !ok {
		return
	}

	rec, err := h.tracker.NotifyOwner(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "notify owner")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Sweep runs an insurance sweep immediately.
// POST /api/v1/admin/insurance/sweep?notify=true
func (h *InsuranceHandler) Sweep(c *gin.Context) {
	notify := false
	if v := c.Query("notify"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid notify")
			return
		}
		notify = b
	}

	res, err := h.tracker.Sweep(c.Request.Context(), notify)
	if err != nil {
		respondError(c, h.logger, err, "sweep insurance")
		return
	}
	c.JSON(http.StatusOK, res)
}
