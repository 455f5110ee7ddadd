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

// ProductCatalog defines the product lifecycle operations.
type ProductCatalog interface {
	ApproveProduct(ctx context.Context, req models.ApproveProductRequest) (*models.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListTransitions(ctx context.Context, productID uuid.UUID) ([]*models.RoundTransition, error)
	ArchiveProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	Advance(ctx context.Context, productID uuid.UUID) (*models.RoundTransition, error)
}

// ProductSales defines the primary sale operations.
type ProductSales interface {
	PurchaseLicense(ctx context.Context, productID, buyerID uuid.UUID, purchaseType models.PurchaseType) (*ledger.PurchaseResult, error)
	IssueLicenses(ctx context.Context, productID uuid.UUID, req models.IssueLicensesRequest) (*ledger.IssueResult, error)
}

// ProductsHandler handles product-related HTTP endpoints.
type ProductsHandler struct {
	catalog ProductCatalog
	sales   ProductSales
	logger  zerolog.Logger
}

// NewProductsHandler creates a new ProductsHandler.
func NewProductsHandler(catalog ProductCatalog, sales ProductSales, logger zerolog.Logger) *ProductsHandler {
	return &ProductsHandler{
		catalog: catalog,
		sales:   sales,
		logger:  logger.With().Str("component", "products_handler").Logger(),
	}
}

// RegisterRoutes registers product routes on the given router group.
func (h *ProductsHandler) RegisterRoutes(r *gin.RouterGroup) {
	products := r.Group("/products")
	{
		products.GET("/:id", h.Get)
		products.GET("/:id/transitions", h.Transitions)
		products.POST("/:id/purchase", h.Purchase)
	}
}

// RegisterAdminRoutes registers administrative product routes.
func (h *ProductsHandler) RegisterAdminRoutes(admin *gin.RouterGroup) {
	products := admin.Group("/products")
	{
		products.POST("", h.Approve)
		products.POST("/:id/issue", h.Issue)
		products.POST("/:id/archive", h.Archive)
		products.POST("/:id/advance", h.Advance)
	}
}

// Get returns a product with its stage presentation.
//
//	@Summary		Get product
//	@Tags			Products
//	@Produce		json
//	@Param			id	path		string	true	"Product ID"
//	@Success		200	{object}	models.ProductView
//	@Failure		404	{object}	ErrorResponse
//	@Router			/products/{id} [get]
func (h *ProductsHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	p, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "get product")
		return
	}
	c.JSON(http.StatusOK, models.NewProductView(p))
}

// Transitions returns the stage history of a product.
// GET /api/v1/products/:id/transitions
func (h *ProductsHandler) Transitions(c *gin.Context) {
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	transitions, err := h.catalog.ListTransitions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "list transitions")
		return
	}
	if transitions == nil {
		transitions = []*models.RoundTransition{}
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

// Purchase buys a license in the product's current round.
//
//	@Summary		Purchase license
//	@Description	Buys one license at the current round price. Selling the last license of a round advances the product.
//	@Tags			Products
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string							true	"Product ID"
//	@Param			request	body		models.PurchaseLicenseRequest	true	"Purchase type"
//	@Success		201		{object}	ledger.PurchaseResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/products/{id}/purchase [post]
func (h *ProductsHandler) Purchase(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	var req models.PurchaseLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.sales.PurchaseLicense(c.Request.Context(), id, user.UserID, req.PurchaseType)
	if err != nil {
		respondError(c, h.logger, err, "purchase license")
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Approve creates a product.
// POST /api/v1/admin/products
func (h *ProductsHandler) Approve(c *gin.Context) {
	var req models.ApproveProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	p, err := h.catalog.ApproveProduct(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "approve product")
		return
	}
	c.JSON(http.StatusCreated, models.NewProductView(p))
}

// Issue mints licenses in the product's current round without payment.
// POST /api/v1/admin/products/:id/issue
func (h *ProductsHandler) Issue(c *gin.Context) {
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	var req models.IssueLicensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.sales.IssueLicenses(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err, "issue licenses")
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Archive soft-archives a product whose exit round has closed.
// POST /api/v1/admin/products/:id/archive
func (h *ProductsHandler) Archive(c *gin.Context) {
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	p, err := h.catalog.ArchiveProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "archive product")
		return
	}
	c.JSON(http.StatusOK, models.NewProductView(p))
}

// Advance re-runs the sold-out check for a product.
// POST /api/v1/admin/products/:id/advance
func (h *ProductsHandler) Advance(c *gin.Context) {
	id, ok := parseID(c, "product")
	if !ok {
		return
	}

	t, err := h.catalog.Advance(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "advance product")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": t})
}
