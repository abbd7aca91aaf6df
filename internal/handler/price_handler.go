package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/market"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
)

// PriceHandler handles price-related API requests
type PriceHandler struct {
	priceService *service.PriceService
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(priceService *service.PriceService) *PriceHandler {
	return &PriceHandler{
		priceService: priceService,
	}
}

// IngestPrices stores a batch of price observations from a replay or live source
// POST /api/v1/prices
func (h *PriceHandler) IngestPrices(c *gin.Context) {
	var req struct {
		Prices []market.PriceUpdate `json:"prices" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.priceService.Ingest(req.Prices...); err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"accepted": len(req.Prices)})
}

// GetPrice returns the latest price for a symbol
// GET /api/v1/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	update, err := h.priceService.GetPriceUpdate(c.Param("symbol"))
	if err != nil {
		// Another instance may have written it to the shared cache
		price, feedErr := h.priceService.LatestPrice(c.Request.Context(), c.Param("symbol"))
		if feedErr != nil {
			response.NotFound(c, err.Error())
			return
		}
		response.Success(c, gin.H{
			"symbol": market.NormalizeSymbol(c.Param("symbol")),
			"price":  price,
		})
		return
	}

	response.Success(c, update)
}

// GetPrices returns the latest price of every known symbol
// GET /api/v1/prices
func (h *PriceHandler) GetPrices(c *gin.Context) {
	response.Success(c, h.priceService.GetAllPrices())
}

// RegisterRoutes registers price routes. Reads are public; ingestion needs an admin token.
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	prices := rg.Group("/prices")
	{
		prices.GET("", h.GetPrices)
		prices.GET("/:symbol", h.GetPrice)
		prices.POST("", authMiddleware, middleware.RequireAdmin(), h.IngestPrices)
	}
}
