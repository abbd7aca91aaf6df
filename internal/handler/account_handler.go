package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/papersim/internal/middleware"
	"github.com/papersim/internal/service"
	"github.com/papersim/pkg/response"
	"github.com/shopspring/decimal"
)

// AccountHandler handles account, settings and margin API requests
type AccountHandler struct {
	accountService *service.AccountService
	marginService  *service.MarginService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accountService *service.AccountService, marginService *service.MarginService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		marginService:  marginService,
	}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type leverageRequest struct {
	Multiplier decimal.Decimal `json:"multiplier"`
}

// CreateAccount handles account creation
// POST /api/v1/accounts
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req service.CreateAccountRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	account, err := h.accountService.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Created(c, account)
}

// ListAccounts returns every account
// GET /api/v1/accounts
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.ListAccounts(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, accounts)
}

// GetAccount returns an account with its settings and threshold snapshot
// GET /api/v1/accounts/:account_id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	view, err := h.accountService.GetAccount(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, view)
}

// UpdateSettings applies a settings patch
// PATCH /api/v1/accounts/:account_id/settings
func (h *AccountHandler) UpdateSettings(c *gin.Context) {
	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	settings, err := h.accountService.UpdateSettings(c.Request.Context(), c.Param("account_id"), &patch)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, settings)
}

// ResetAccount restores the account to a fresh start. The body is an
// optional settings patch applied as part of the reset.
// POST /api/v1/accounts/:account_id/reset
func (h *AccountHandler) ResetAccount(c *gin.Context) {
	var patch *service.SettingsPatch
	if c.Request.ContentLength != 0 {
		patch = &service.SettingsPatch{}
		if err := c.ShouldBindJSON(patch); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	account, err := h.accountService.ResetAccount(c.Request.Context(), c.Param("account_id"), patch)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// Borrow draws margin into the simulated balance
// POST /api/v1/accounts/:account_id/margin/borrow
func (h *AccountHandler) Borrow(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	account, err := h.marginService.Borrow(c.Request.Context(), c.Param("account_id"), req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// Payback returns borrowed margin from the simulated balance
// POST /api/v1/accounts/:account_id/margin/payback
func (h *AccountHandler) Payback(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	account, err := h.marginService.Payback(c.Request.Context(), c.Param("account_id"), req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// SetLeverage moves borrowed margin to match a leverage multiplier
// POST /api/v1/accounts/:account_id/margin/leverage
func (h *AccountHandler) SetLeverage(c *gin.Context) {
	var req leverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	account, err := h.marginService.SetLeverage(c.Request.Context(), c.Param("account_id"), req.Multiplier)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, account)
}

// RegisterRoutes registers account routes
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	accounts := rg.Group("/accounts")
	accounts.Use(authMiddleware)
	{
		admin := middleware.RequireAdmin()

		accounts.POST("", admin, h.CreateAccount)
		accounts.GET("", admin, h.ListAccounts)
		accounts.GET("/:account_id", h.GetAccount)
		accounts.PATCH("/:account_id/settings", admin, h.UpdateSettings)
		accounts.POST("/:account_id/reset", admin, h.ResetAccount)

		// Margin
		accounts.POST("/:account_id/margin/borrow", h.Borrow)
		accounts.POST("/:account_id/margin/payback", h.Payback)
		accounts.POST("/:account_id/margin/leverage", h.SetLeverage)
	}
}
