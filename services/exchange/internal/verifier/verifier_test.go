package verifier

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

func TestStaticVerifier(t *testing.T) {
	addr := engine.MustAddress("0x00000000000000000000000000000000000000bb")
	v := NewStatic(addr, true)
	ctx := context.Background()

	if _, err := v.Verify(ctx, nil, nil); !errors.Is(err, ErrEmptyProof) {
		t.Fatalf("expected empty proof error, got %v", err)
	}
	ok, err := v.Verify(ctx, []byte{1}, []*big.Int{big.NewInt(7)})
	if err != nil || !ok {
		t.Fatalf("expected accept, got %v %v", ok, err)
	}
	ok, _ = v.Verify(ctx, []byte{1}, []*big.Int{big.NewInt(-1)})
	if ok {
		t.Fatalf("expected reject for negative input")
	}
	if NewStatic(addr, false).Address() != addr {
		t.Fatalf("unexpected address")
	}
}
