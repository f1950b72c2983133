package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vvmafra/EnerTradeZK/libs/auth"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/service"
)

const requestIDKey = "X-Request-ID"

type ExchangeService interface {
	Deposit(ctx context.Context, account, amount string) (engine.Balance, error)
	Withdraw(ctx context.Context, account, amount string) (engine.Balance, error)
	CreateListing(ctx context.Context, seller, amount, price string) (engine.Listing, error)
	BuyListing(ctx context.Context, buyer string, listingID uint64) (engine.Listing, error)
	CancelListing(ctx context.Context, caller string, listingID uint64) (engine.Listing, error)
	ActiveListings() []engine.Listing
	Listing(id uint64) (engine.Listing, error)
	Balance(account string) (engine.Balance, error)
	Trades(account string) ([]engine.Event, error)
	Stats() service.Stats
	Contracts() service.Contracts
}

type Handler struct {
	Service ExchangeService
	Logger  *slog.Logger
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type createListingRequest struct {
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

type balanceResponse struct {
	Address  string `json:"address"`
	Free     string `json:"free"`
	Escrowed string `json:"escrowed"`
	Total    string `json:"total"`
}

type listingResponse struct {
	ID        string `json:"id"`
	Seller    string `json:"seller"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	IsActive  bool   `json:"is_active"`
	Buyer     string `json:"buyer,omitempty"`
	CreatedAt string `json:"created_at"`
	ClosedAt  string `json:"closed_at,omitempty"`
}

type listListingsResponse struct {
	IDs      []string          `json:"ids"`
	Listings []listingResponse `json:"listings"`
}

type tradeResponse struct {
	ListingID string `json:"listing_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	At        string `json:"at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(svc ExchangeService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

// Register mounts public reads on r and authenticated routes behind the JWT
// middleware. mutate runs after authentication on state-changing routes.
func (h *Handler) Register(r *gin.Engine, jwtSecret []byte, mutate ...gin.HandlerFunc) {
	r.GET("/listings", h.ListListings)
	r.GET("/listings/:id", h.GetListing)
	r.GET("/balances/:address", h.GetBalance)
	r.GET("/contracts", h.GetContracts)
	r.GET("/stats", h.GetStats)

	group := r.Group("/", auth.Middleware(jwtSecret))
	group.GET("/me/balance", h.MyBalance)
	group.GET("/me/trades", h.MyTrades)

	writes := group.Group("/", mutate...)
	writes.POST("/deposits", h.Deposit)
	writes.POST("/withdrawals", h.Withdraw)
	writes.POST("/listings", h.CreateListing)
	writes.POST("/listings/:id/buy", h.BuyListing)
	writes.DELETE("/listings/:id", h.CancelListing)
}

func (h *Handler) Deposit(c *gin.Context) {
	h.moveFunds(c, h.Service.Deposit)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.moveFunds(c, h.Service.Withdraw)
}

func (h *Handler) moveFunds(c *gin.Context, fn func(ctx context.Context, account, amount string) (engine.Balance, error)) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	bal, err := fn(requestContext(c), account, req.Amount)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceToResponse(bal))
}

func (h *Handler) CreateListing(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	listing, err := h.Service.CreateListing(requestContext(c), account, req.Amount, req.Price)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listingToResponse(listing))
}

func (h *Handler) BuyListing(c *gin.Context) {
	h.closeListing(c, h.Service.BuyListing)
}

func (h *Handler) CancelListing(c *gin.Context) {
	h.closeListing(c, h.Service.CancelListing)
}

func (h *Handler) closeListing(c *gin.Context, fn func(ctx context.Context, account string, id uint64) (engine.Listing, error)) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}
	id, err := parseListingID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid listing id")
		return
	}

	listing, err := fn(requestContext(c), account, id)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, listingToResponse(listing))
}

func (h *Handler) ListListings(c *gin.Context) {
	listings := h.Service.ActiveListings()
	resp := listListingsResponse{
		IDs:      make([]string, 0, len(listings)),
		Listings: make([]listingResponse, 0, len(listings)),
	}
	for _, l := range listings {
		resp.IDs = append(resp.IDs, strconv.FormatUint(l.ID, 10))
		resp.Listings = append(resp.Listings, listingToResponse(l))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetListing(c *gin.Context) {
	id, err := parseListingID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid listing id")
		return
	}
	listing, err := h.Service.Listing(id)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, listingToResponse(listing))
}

func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.Service.Balance(c.Param("address"))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceToResponse(bal))
}

func (h *Handler) MyBalance(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}
	bal, err := h.Service.Balance(account)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceToResponse(bal))
}

func (h *Handler) MyTrades(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}
	trades, err := h.Service.Trades(account)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	items := make([]tradeResponse, 0, len(trades))
	for _, ev := range trades {
		items = append(items, tradeResponse{
			ListingID: strconv.FormatUint(ev.ListingID, 10),
			Seller:    ev.Seller.String(),
			Buyer:     ev.Buyer.String(),
			Amount:    safe.Format(ev.Amount),
			Price:     safe.Format(ev.Price),
			At:        ev.At.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

func (h *Handler) GetContracts(c *gin.Context) {
	contracts := h.Service.Contracts()
	c.JSON(http.StatusOK, gin.H{
		"payment_token": contracts.PaymentToken.String(),
		"verifier":      contracts.Verifier.String(),
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := h.Service.Stats()
	c.JSON(http.StatusOK, gin.H{
		"deposited":       safe.Format(stats.Supply.Deposited),
		"withdrawn":       safe.Format(stats.Supply.Withdrawn),
		"free":            safe.Format(stats.Supply.Free),
		"escrowed":        safe.Format(stats.Supply.Escrowed),
		"active_listings": stats.ActiveListings,
		"trades":          stats.Trades,
	})
}

func (h *Handler) writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrZeroAmount), errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrAmountOverflow), errors.Is(err, engine.ErrInvalidAddress):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", invalidMessage(err))
	case errors.Is(err, engine.ErrListingNotFound):
		writeError(c, http.StatusNotFound, "LISTING_NOT_FOUND", "listing not found")
	case errors.Is(err, engine.ErrListingNotActive):
		writeError(c, http.StatusConflict, "LISTING_NOT_ACTIVE", "listing not active")
	case errors.Is(err, engine.ErrNotSeller):
		writeError(c, http.StatusForbidden, "NOT_SELLER", "only the seller can cancel")
	case errors.Is(err, engine.ErrSelfTrade):
		writeError(c, http.StatusForbidden, "SELF_TRADE", "cannot buy own listing")
	case errors.Is(err, engine.ErrInsufficientFreeBalance), errors.Is(err, engine.ErrInsufficientBalance):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, engine.ErrPaymentTransferFailed):
		writeError(c, http.StatusPaymentRequired, "PAYMENT_FAILED", "payment transfer failed")
	default:
		h.Logger.Error("exchange request failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func invalidMessage(err error) string {
	switch {
	case errors.Is(err, engine.ErrZeroAmount):
		return "amount must be greater than zero"
	case errors.Is(err, engine.ErrAmountOverflow):
		return "amount too large"
	case errors.Is(err, engine.ErrInvalidAddress):
		return "invalid address"
	default:
		return "invalid amount"
	}
}

func balanceToResponse(b engine.Balance) balanceResponse {
	return balanceResponse{
		Address:  b.Account.String(),
		Free:     safe.Format(b.Free),
		Escrowed: safe.Format(b.Escrowed),
		Total:    safe.Format(b.Total()),
	}
}

func listingToResponse(l engine.Listing) listingResponse {
	resp := listingResponse{
		ID:        strconv.FormatUint(l.ID, 10),
		Seller:    l.Seller.String(),
		Amount:    safe.Format(l.Amount),
		Price:     safe.Format(l.Price),
		Status:    l.Status.String(),
		IsActive:  l.IsActive(),
		Buyer:     l.Buyer.String(),
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !l.ClosedAt.IsZero() {
		resp.ClosedAt = l.ClosedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func accountFromContext(c *gin.Context) (string, bool) {
	return auth.Subject(c)
}

func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if reqID, ok := c.Get(requestIDKey); ok {
		if id, ok := reqID.(string); ok {
			ctx = service.WithCorrelationID(ctx, id)
		}
	}
	return ctx
}

func parseListingID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("missing id")
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
