package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/auth"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/payment"
)

// FaucetHandler serves the development-only payment token routes. The
// caller mints to and approves for its own address.
type FaucetHandler struct {
	Faucet payment.Faucet
	Logger *slog.Logger
}

type tokenResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

func NewFaucet(faucet payment.Faucet, logger *slog.Logger) *FaucetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FaucetHandler{Faucet: faucet, Logger: logger}
}

func (h *FaucetHandler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/dev/token", auth.Middleware(jwtSecret))
	group.GET("", h.Get)
	group.POST("/mint", h.Mint)
	group.POST("/approve", h.Approve)
}

func (h *FaucetHandler) Get(c *gin.Context) {
	account, ok := h.account(c)
	if !ok {
		return
	}
	h.writeToken(c, account)
}

func (h *FaucetHandler) Mint(c *gin.Context) {
	h.update(c, h.Faucet.Mint)
}

// Approve sets the caller's allowance for the exchange, replacing any
// previous value.
func (h *FaucetHandler) Approve(c *gin.Context) {
	h.update(c, h.Faucet.Approve)
}

func (h *FaucetHandler) update(c *gin.Context, fn func(ctx context.Context, account engine.Address, amount decimal.Decimal) error) {
	account, ok := h.account(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	amount, err := safe.ParseAmount(req.Amount)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount")
		return
	}
	if err := fn(c.Request.Context(), account, amount); err != nil {
		h.Logger.Error("faucet update failed", "account", account, "error", err)
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	h.writeToken(c, account)
}

func (h *FaucetHandler) account(c *gin.Context) (engine.Address, bool) {
	subject, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return "", false
	}
	account, err := engine.ParseAddress(subject)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid address")
		return "", false
	}
	return account, true
}

func (h *FaucetHandler) writeToken(c *gin.Context, account engine.Address) {
	ctx := c.Request.Context()
	bal, err := h.Faucet.BalanceOf(ctx, account)
	if err != nil {
		h.Logger.Error("faucet balance failed", "account", account, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	allowance, err := h.Faucet.Allowance(ctx, account)
	if err != nil {
		h.Logger.Error("faucet allowance failed", "account", account, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		Token:     h.Faucet.Address().String(),
		Address:   account.String(),
		Balance:   safe.Format(bal),
		Allowance: safe.Format(allowance),
	})
}
