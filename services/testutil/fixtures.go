package testutil

import (
	"time"

	"github.com/vvmafra/EnerTradeZK/libs/auth"
)

const (
	SellerAddress = "0x1111111111111111111111111111111111111111"
	BuyerAddress  = "0x2222222222222222222222222222222222222222"
	OtherAddress  = "0x3333333333333333333333333333333333333333"
)

// GenerateJWT signs a token whose subject is the wallet address.
func GenerateJWT(address string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.SignJWT(address, "enertradezk", secret, ttl, now)
}
