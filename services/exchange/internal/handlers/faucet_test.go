package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/payment"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/service"
	"github.com/vvmafra/EnerTradeZK/services/testutil"
)

func setupWithFaucet(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	token := payment.NewMemoryToken(
		engine.MustAddress("0x00000000000000000000000000000000000000aa"),
		engine.MustAddress("0x00000000000000000000000000000000000000ee"),
	)
	svc := service.NewExchangeService(engine.New(token), nil, nil, nil)
	router := gin.New()
	New(svc, nil).Register(router, secret)
	NewFaucet(token, nil).Register(router, secret)
	return router
}

func TestFaucetRequiresAuth(t *testing.T) {
	router := setupWithFaucet(t)

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/dev/token/mint", amountRequest{Amount: "1"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestFaucetRejectsBadAmount(t *testing.T) {
	router := setupWithFaucet(t)
	buyer := tokenFor(t, testutil.BuyerAddress)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/dev/token/mint", amountRequest{Amount: "-5"}, buyer)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestBuyThroughHTTPOnly(t *testing.T) {
	router := setupWithFaucet(t)
	seller := tokenFor(t, testutil.SellerAddress)
	buyer := tokenFor(t, testutil.BuyerAddress)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/deposits", amountRequest{Amount: "100"}, seller)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/listings", createListingRequest{Amount: "100", Price: "50"}, seller)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)

	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/dev/token/mint", amountRequest{Amount: "50"}, buyer)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	minted := testutil.DecodeJSON[tokenResponse](t, resp)
	if minted.Balance != "50" || minted.Allowance != "0" {
		t.Fatalf("unexpected token state after mint %+v", minted)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/dev/token/approve", amountRequest{Amount: "50"}, buyer)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	approved := testutil.DecodeJSON[tokenResponse](t, resp)
	if approved.Allowance != "50" {
		t.Fatalf("unexpected allowance %+v", approved)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/listings/1/buy", nil, buyer)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	resp = testutil.MakeAuthRequest(router, http.MethodGet, "/dev/token", nil, buyer)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	after := testutil.DecodeJSON[tokenResponse](t, resp)
	if after.Balance != "0" || after.Allowance != "0" {
		t.Fatalf("unexpected buyer token state %+v", after)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodGet, "/dev/token", nil, seller)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	paid := testutil.DecodeJSON[tokenResponse](t, resp)
	if paid.Balance != "50" {
		t.Fatalf("seller was not paid %+v", paid)
	}
}
