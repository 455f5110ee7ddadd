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

// RoyaltyService defines the royalty operations used by RoyaltyHandler.
type RoyaltyService interface {
	CheckEligibility(ctx context.Context, licenseID, userID uuid.UUID) (*models.Eligibility, error)
	SubmitClaim(ctx context.Context, userID uuid.UUID, req models.SubmitClaimRequest) (*models.RoyaltyClaim, error)
	CancelClaim(ctx context.Context, claimID, userID uuid.UUID) (*models.RoyaltyClaim, error)
	ListPlatformProducts(ctx context.Context) ([]*models.PlatformProduct, error)
	CreatePlatformProduct(ctx context.Context, req models.CreatePlatformProductRequest) (*models.PlatformProduct, error)
	History(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.RoyaltyClaim], error)
	Acquired(ctx context.Context, userID uuid.UUID, page models.Page) (*models.PageResult[*models.RoyaltyLicense], error)
}

// RoyaltyHandler handles royalty claim HTTP endpoints.
type RoyaltyHandler struct {
	royalty RoyaltyService
	logger  zerolog.Logger
}

// NewRoyaltyHandler creates a new RoyaltyHandler.
func NewRoyaltyHandler(svc RoyaltyService, logger zerolog.Logger) *RoyaltyHandler {
	return &RoyaltyHandler{
		royalty: svc,
		logger:  logger.With().Str("component", "royalty_handler").Logger(),
	}
}

// RegisterRoutes registers royalty routes on the given router group.
func (h *RoyaltyHandler) RegisterRoutes(r *gin.RouterGroup) {
	royalty := r.Group("/royalty")
	{
		royalty.GET("/eligibility", h.Eligibility)
		royalty.GET("/platform-products", h.PlatformProducts)
		royalty.POST("/claim", h.Claim)
		royalty.POST("/claims/:id/cancel", h.Cancel)
		royalty.GET("/history", h.History)
		royalty.GET("/acquired", h.Acquired)
	}
}

// RegisterAdminRoutes registers administrative royalty routes.
func (h *RoyaltyHandler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	admin.POST("/platform-products", h.CreatePlatformProduct)
}

// Eligibility reports whether a license may be exchanged for a royalty license.
//
//	@Summary		Check royalty eligibility
//	@Tags			Royalty
//	@Produce		json
//	@Param			licenseId	query		string	true	"License ID"
//	@Success		200			{object}	models.Eligibility
//	@Failure		404			{object}	ErrorResponse
//	@Router			/royalty/eligibility [get]
func (h *RoyaltyHandler) Eligibility(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	licenseID, err := uuid.Parse(c.Query("licenseId"))
	if err != nil {
		badRequest(c, "invalid licenseId")
		return
	}

	e, err := h.royalty.CheckEligibility(c.Request.Context(), licenseID, user.UserID)
	if err != nil {
		respondError(c, h.logger, err, "check eligibility")
		return
	}
	c.JSON(http.StatusOK, e)
}

// PlatformProducts lists royalty inventories.
// GET /api/v1/royalty/platform-products
func (h *RoyaltyHandler) PlatformProducts(c *gin.Context) {
	items, err := h.royalty.ListPlatformProducts(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "list platform products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform_products": items})
}

// Claim exchanges an exit-round license for a royalty license.
//
//	@Summary		Submit royalty claim
//	@Description	Claims one royalty license. A claim that finds the inventory empty is recorded as failed.
//	@Tags			Royalty
//	@Accept			json
//	@Produce		json
//	@Param			request	body		models.SubmitClaimRequest	true	"Claim"
//	@Success		201		{object}	models.RoyaltyClaim
//	@Failure		403		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/royalty/claim [post]
func (h *RoyaltyHandler) Claim(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}

	var req models.SubmitClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	claim, err := h.royalty.SubmitClaim(c.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(c, h.logger, err, "submit royalty claim")
		return
	}
	c.JSON(http.StatusCreated, claim)
}

// Cancel cancels a pending claim.
// POST /api/v1/royalty/claims/:id/cancel
func (h *RoyaltyHandler) Cancel(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := parseID(c, "claim")
	if !ok {
		return
	}

	claim, err := h.royalty.CancelClaim(c.Request.Context(), id, user.UserID)
	if err != nil {
		respondError(c, h.logger, err, "cancel royalty claim")
		return
	}
	c.JSON(http.StatusOK, claim)
}

// History returns the caller's claims.
// GET /api/v1/royalty/history
func (h *RoyaltyHandler) History(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	res, err := h.royalty.History(c.Request.Context(), user.UserID, page)
	if err != nil {
		respondError(c, h.logger, err, "list royalty history")
		return
	}
	c.JSON(http.StatusOK, res)
}

// Acquired returns the caller's royalty licenses.
// GET /api/v1/royalty/acquired
func (h *RoyaltyHandler) Acquired(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	res, err := h.royalty.Acquired(c.Request.Context(), user.UserID, page)
	if err != nil {
		respondError(c, h.logger, err, "list royalty licenses")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreatePlatformProduct registers a royalty inventory.
// POST /api/v1/admin/platform-products
func (h *RoyaltyHandler) CreatePlatformProduct(c *gin.Context) {
	var req models.CreatePlatformProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	pp, err := h.royalty.CreatePlatformProduct(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "create platform product")
		return
	}
	c.JSON(http.StatusCreated, pp)
}
