package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LicenseService defines the license operations used by LicensesHandler.
type LicenseService interface {
	GetLicense(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error)
	ListLicenses(ctx context.Context, ownerID uuid.UUID, page models.Page) (*models.PageResult[*models.ProductLicenses], error)
	EnableResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error)
	ListForResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error)
	UnlistFromResale(ctx context.Context, licenseID, ownerID uuid.UUID) (*models.License, error)
	PurchaseResale(ctx context.Context, licenseID, buyerID uuid.UUID, purchaseType models.PurchaseType) (*ledger.PurchaseResult, error)
}

// LicensesHandler handles license-related HTTP endpoints.
type LicensesHandler struct {
	ledger LicenseService
	logger zerolog.Logger
}

// NewLicensesHandler creates a new LicensesHandler.
func NewLicensesHandler(l LicenseService, logger zerolog.Logger) *LicensesHandler {
	return &LicensesHandler{
		ledger: l,
		logger: logger.With().Str("component", "licenses_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
func (h *LicensesHandler) RegisterRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.GET("", h.List)
		licenses.GET("/:id", h.Get)
		licenses.POST("/:id/enable-resale", h.EnableResale)
		licenses.POST("/:id/list", h.ListForResale)
		licenses.DELETE("/:id/list", h.Unlist)
		licenses.POST("/:id/buy", h.Buy)
	}
}

// List returns the caller's licenses grouped by product.
//
//	@Summary		List licenses
//	@Description	Returns the caller's licenses grouped by product, with stage and saleability
//	@Tags			Licenses
//	@Produce		json
//	@Param			page	query		int	false	"Page number"
//	@Param			limit	query		int	false	"Page size (max 100)"
//	@Success		200		{object}	models.PageResult[models.ProductLicenses]
//	@Failure		400		{object}	ErrorResponse
//	@Router			/licenses [get]
func (h *LicensesHandler) List(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}

	res, err := h.ledger.ListLicenses(c.Request.Context(), user.UserID, page)
	if err != nil {
		respondError(c, h.logger, err, "list licenses")
		return
	}
	c.JSON(http.StatusOK, res)
}

// Get returns one of the caller's licenses.
// GET /api/v1/licenses/:id
func (h *LicensesHandler) Get(c *gin.Context) {
	h.ownerAction(c, "get license", h.ledger.GetLicense)
}

// EnableResale flips a resale license to enabled once its round has closed.
//
//	@Summary		Enable resale
//	@Tags			Licenses
//	@Produce		json
//	@Param			id	path		string	true	"License ID"
//	@Success		200	{object}	models.License
//	@Failure		403	{object}	ErrorResponse
//	@Failure		422	{object}	ErrorResponse
//	@Router			/licenses/{id}/enable-resale [post]
func (h *LicensesHandler) EnableResale(c *gin.Context) {
	h.ownerAction(c, "enable resale", h.ledger.EnableResale)
}

// ListForResale lists an enabled license on the market.
// POST /api/v1/licenses/:id/list
func (h *LicensesHandler) ListForResale(c *gin.Context) {
	h.ownerAction(c, "list license", h.ledger.ListForResale)
}

// Unlist takes a license off the market.
// DELETE /api/v1/licenses/:id/list
func (h *LicensesHandler) Unlist(c *gin.Context) {
	h.ownerAction(c, "unlist license", h.ledger.UnlistFromResale)
}

func (h *LicensesHandler) ownerAction(c *gin.Context, action string, fn func(context.Context, uuid.UUID, uuid.UUID) (*models.License, error)) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := parseID(c, "license")
	if !ok {
		return
	}

	l, err := fn(c.Request.Context(), id, user.UserID)
	if err != nil {
		respondError(c, h.logger, err, action)
		return
	}
	c.JSON(http.StatusOK, l)
}

// Buy purchases a listed license from its current owner.
//
//	@Summary		Buy a resale listing
//	@Tags			Licenses
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string							true	"License ID"
//	@Param			request	body		models.PurchaseLicenseRequest	true	"Purchase type"
//	@Success		201		{object}	ledger.PurchaseResult
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/licenses/{id}/buy [post]
func (h *LicensesHandler) Buy(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := parseID(c, "license")
	if !ok {
		return
	}

	var req models.PurchaseLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.ledger.PurchaseResale(c.Request.Context(), id, user.UserID, req.PurchaseType)
	if err != nil {
		respondError(c, h.logger, err, "purchase resale license")
		return
	}
	c.JSON(http.StatusCreated, res)
}
