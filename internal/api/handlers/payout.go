package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PayoutService defines the payout operations used by PayoutHandler.
type PayoutService interface {
	GetPayoutInfo(ctx context.Context, userID uuid.UUID) (*models.PayoutInfo, error)
	AddPayoutMethod(ctx context.Context, userID uuid.UUID, req models.AddPayoutMethodRequest) (*models.PayoutMethod, error)
	DeactivatePayoutMethod(ctx context.Context, userID, methodID uuid.UUID) (*models.PayoutMethod, error)
	VerifyPayoutMethod(ctx context.Context, methodID uuid.UUID) (*models.PayoutMethod, error)
	RequestPayout(ctx context.Context, userID uuid.UUID, req models.RequestPayoutRequest) (*models.Payout, error)
	ListPayouts(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.Payout], error)
	MarkProcessing(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	CompletePayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	FailPayout(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error)
	CreditEarnings(ctx context.Context, req models.CreditEarningsRequest) (*models.UserEarnings, error)
}

// PayoutHandler handles payout HTTP endpoints.
type PayoutHandler struct {
	payouts PayoutService
	logger  zerolog.Logger
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(svc PayoutService, logger zerolog.Logger) *PayoutHandler {
	return &PayoutHandler{
		payouts: svc,
		logger:  logger.With().Str("component", "payout_handler").Logger(),
	}
}

// RegisterRoutes registers payout routes on the given router group.
func (h *PayoutHandler) RegisterRoutes(r *gin.RouterGroup) {
	payout := r.Group("/payout")
	{
		payout.GET("/info", h.Info)
		payout.POST("/methods", h.AddMethod)
		payout.DELETE("/methods/:id", h.DeactivateMethod)
		payout.POST("/request", h.Request)
		payout.GET("/history", h.History)
	}
}

// RegisterAdminRoutes registers payout settlement routes.
func (h *PayoutHandler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	admin.POST("/payout/methods/:id/verify", h.VerifyMethod)
	admin.POST("/earnings/credit", h.Credit)

	payouts := admin.Group("/payouts")
	{
		payouts.POST("/:id/processing", h.Processing)
		payouts.POST("/:id/complete", h.Complete)
		payouts.POST("/:id/fail", h.Fail)
	}
}

// Info returns the caller's payout methods, summary and balances.
//
//	@Summary		Payout info
//	@Tags			Payouts
//	@Produce		json
//	@Success		200	{object}	models.PayoutInfo
//	@Router			/payout/info [get]
func (h *PayoutHandler) Info(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	info, err := h.payouts.GetPayoutInfo(c.Request.Context(), user.UserID)
	if err != nil {
		respondError(c, h.logger, err, "get payout info")
		return
	}
	c.JSON(http.StatusOK, info)
}

// AddMethod registers a payout destination for the caller.
// POST /api/v1/payout/methods
func (h *PayoutHandler) AddMethod(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req models.AddPayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	m, err := h.payouts.AddPayoutMethod(c.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(c, h.logger, err, "add payout method")
		return
	}
	c.JSON(http.StatusCreated, m)
}

// DeactivateMethod deactivates one of the caller's payout methods.
// DELETE /api/v1/payout/methods/:id
func (h *PayoutHandler) DeactivateMethod(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := parseID(c, "payout method")
	if !ok {
		return
	}

	m, err := h.payouts.DeactivatePayoutMethod(c.Request.Context(), user.UserID, id)
	if err != nil {
		respondError(c, h.logger, err, "deactivate payout method")
		return
	}
	c.JSON(http.StatusOK, m)
}

// Request asks for a withdrawal from the caller's available balance.
//
//	@Summary		Request payout
//	@Description	Moves the amount from available to reserved and creates a pending payout
//	@Tags			Payouts
//	@Accept			json
//	@Produce		json
//	@Param			request	body		models.RequestPayoutRequest	true	"Payout request"
//	@Success		201		{object}	models.Payout
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/payout/request [post]
func (h *PayoutHandler) Request(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req models.RequestPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	p, err := h.payouts.RequestPayout(c.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(c, h.logger, err, "request payout")
		return
	}
	c.JSON(http.StatusCreated, p)
}

// History returns the caller's payouts.
// GET /api/v1/payout/history
func (h *PayoutHandler) History(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	res, err := h.payouts.ListPayouts(c.Request.Context(), user.UserID, page)
	if err != nil {
		respondError(c, h.logger, err, "list payouts")
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyMethod marks a payout method verified.
// POST /api/v1/admin/payout/methods/:id/verify
func (h *PayoutHandler) VerifyMethod(c *gin.Context) {
	id, ok := parseID(c, "payout method")
	if !ok {
		return
	}

	m, err := h.payouts.VerifyPayoutMethod(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "verify payout method")
		return
	}
	c.JSON(http.StatusOK, m)
}

// Processing moves a pending payout to processing.
// POST /api/v1/admin/payouts/:id/processing
func (h *PayoutHandler) Processing(c *gin.Context) {
	h.settle(c, "mark payout processing", h.payouts.MarkProcessing)
}

// Complete settles a payout.
// POST /api/v1/admin/payouts/:id/complete
func (h *PayoutHandler) Complete(c *gin.Context) {
	h.settle(c, "complete payout", h.payouts.CompletePayout)
}

// Fail fails a payout and returns the reserved amount to available.
// POST /api/v1/admin/payouts/:id/fail
func (h *PayoutHandler) Fail(c *gin.Context) {
	var req models.FailPayoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	h.settle(c, "fail payout", func(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
		return h.payouts.FailPayout(ctx, id, req.Reason)
	})
}

func (h *PayoutHandler) settle(c *gin.Context, action string, fn func(context.Context, uuid.UUID) (*models.Payout, error)) {
	id, ok := parseID(c, "payout")
	if !ok {
		return
	}

	p, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, action)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Credit adds earnings to a user's available balance.
// POST /api/v1/admin/earnings/credit
func (h *PayoutHandler) Credit(c *gin.Context) {
	var req models.CreditEarningsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	e, err := h.payouts.CreditEarnings(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "credit earnings")
		return
	}
	c.JSON(http.StatusOK, e)
}
