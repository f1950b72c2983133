// Package verifier holds proof verifiers the exchange can advertise.
package verifier

import (
	"context"
	"errors"
	"math/big"

	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

var ErrEmptyProof = errors.New("empty proof")

// Static answers every well-formed request with a fixed verdict. It stands
// in for an on-chain verifier in development and tests.
type Static struct {
	address engine.Address
	accept  bool
}

func NewStatic(address engine.Address, accept bool) *Static {
	return &Static{address: address, accept: accept}
}

func (v *Static) Address() engine.Address {
	return v.address
}

func (v *Static) Verify(ctx context.Context, proof []byte, publicInputs []*big.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(proof) == 0 {
		return false, ErrEmptyProof
	}
	for _, in := range publicInputs {
		if in == nil || in.Sign() < 0 {
			return false, nil
		}
	}
	return v.accept, nil
}
