package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/market"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/models"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
	"github.com/shopspring/decimal"
)

// TradingHandler handles trading API requests
type TradingHandler struct {
	settlementService *service.SettlementService
	accountService    *service.AccountService
	prices            market.PriceFeed
}

// NewTradingHandler creates a new TradingHandler
func NewTradingHandler(
	settlementService *service.SettlementService,
	accountService *service.AccountService,
	prices market.PriceFeed,
) *TradingHandler {
	return &TradingHandler{
		settlementService: settlementService,
		accountService:    accountService,
		prices:            prices,
	}
}

type openTradeRequest struct {
	Symbol    string              `json:"symbol" binding:"required"`
	Shares    decimal.Decimal     `json:"shares"`
	Price     *decimal.Decimal    `json:"price"`
	Direction models.PositionType `json:"direction" binding:"required"`
	Notes     string              `json:"notes"`
}

type closeTradeRequest struct {
	CurrentPrice *decimal.Decimal `json:"current_price"`
	Notes        string           `json:"notes"`
}

// getPosition loads the position named in the path and checks that it
// belongs to the account in the path
func (h *TradingHandler) getPosition(c *gin.Context) (*models.Position, bool) {
	position, err := h.accountService.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	if position.AccountID != c.Param("account_id") {
		response.Error(c, 404, CodePositionNotFound, "position not found")
		return nil, false
	}
	return position, true
}

// OpenTrade opens a position. Without a price the latest feed price is used.
// POST /api/v1/trading/:account_id/trades
func (h *TradingHandler) OpenTrade(c *gin.Context) {
	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	} else {
		latest, err := h.prices.LatestPrice(c.Request.Context(), req.Symbol)
		if err != nil {
			handleError(c, err)
			return
		}
		price = latest
	}

	result, err := h.settlementService.OpenTrade(c.Request.Context(), &service.OpenTradeRequest{
		AccountID: c.Param("account_id"),
		Symbol:    req.Symbol,
		Shares:    req.Shares,
		Price:     price,
		Direction: req.Direction,
		Notes:     req.Notes,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, result)
}

// GetPositions returns positions of the account
// GET /api/v1/trading/:account_id/positions?status=open|closed
func (h *TradingHandler) GetPositions(c *gin.Context) {
	status := models.PositionStatus(c.Query("status"))

	positions, err := h.accountService.ListPositions(c.Request.Context(), c.Param("account_id"), status)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, positions)
}

// ClosePosition closes a whole position. Without current_price the latest
// feed price is used.
// POST /api/v1/trading/:account_id/positions/:id/close
func (h *TradingHandler) ClosePosition(c *gin.Context) {
	position, ok := h.getPosition(c)
	if !ok {
		return
	}

	var req closeTradeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	var (
		result *service.TradeResult
		err    error
	)
	if req.CurrentPrice != nil {
		result, err = h.settlementService.CloseTrade(c.Request.Context(), &service.CloseTradeRequest{
			PositionID:   position.ID,
			CurrentPrice: *req.CurrentPrice,
			Notes:        req.Notes,
		})
	} else {
		result, err = h.settlementService.CloseAtMarket(c.Request.Context(), position.ID, req.Notes)
	}
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// PowerUp abandons a position for a fee
// POST /api/v1/trading/:account_id/positions/:id/power-up
func (h *TradingHandler) PowerUp(c *gin.Context) {
	position, ok := h.getPosition(c)
	if !ok {
		return
	}

	account, err := h.settlementService.PowerUp(c.Request.Context(), position.ID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// DeletePosition removes a position without settling it
// DELETE /api/v1/trading/:account_id/positions/:id
func (h *TradingHandler) DeletePosition(c *gin.Context) {
	position, ok := h.getPosition(c)
	if !ok {
		return
	}

	if err := h.settlementService.DeletePosition(c.Request.Context(), position.ID); err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"deleted": position.ID})
}

// Flatten closes every open position at the latest price
// POST /api/v1/trading/:account_id/flatten
func (h *TradingHandler) Flatten(c *gin.Context) {
	result, err := h.settlementService.FlattenAll(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// GetTransactions returns the trade journal, newest first
// GET /api/v1/trading/:account_id/transactions
func (h *TradingHandler) GetTransactions(c *gin.Context) {
	page, pageSize := pagination(c)

	txns, total, err := h.accountService.ListTransactions(c.Request.Context(), c.Param("account_id"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPaginated(c, txns, total, page, pageSize)
}

// GetLogs returns the activity log, newest first
// GET /api/v1/trading/:account_id/logs
func (h *TradingHandler) GetLogs(c *gin.Context) {
	page, pageSize := pagination(c)

	entries, total, err := h.accountService.ListActivity(c.Request.Context(), c.Param("account_id"), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPaginated(c, entries, total, page, pageSize)
}

// RegisterRoutes registers trading routes
func (h *TradingHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	trading := rg.Group("/trading")
	trading.Use(authMiddleware, middleware.SettlementLoggerMiddleware())
	{
		// Open / close
		trading.POST("/:account_id/trades", h.OpenTrade)
		trading.POST("/:account_id/positions/:id/close", h.ClosePosition)
		trading.POST("/:account_id/positions/:id/power-up", h.PowerUp)
		trading.DELETE("/:account_id/positions/:id", middleware.RequireAdmin(), h.DeletePosition)
		trading.POST("/:account_id/flatten", h.Flatten)

		// History
		trading.GET("/:account_id/positions", h.GetPositions)
		trading.GET("/:account_id/transactions", h.GetTransactions)
		trading.GET("/:account_id/logs", h.GetLogs)
	}
}
