package safe

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// FuzzAddSub checks that Sub undoes Add whenever Add succeeds.
func FuzzAddSub(f *testing.F) {
	f.Add(int64(0), int64(0))
	f.Add(int64(500), int64(100))
	f.Add(int64(9223372036854775807), int64(9223372036854775807))

	f.Fuzz(func(t *testing.T, a, b int64) {
		if a < 0 || b < 0 {
			return
		}
		x := decimal.NewFromInt(a)
		y := decimal.NewFromInt(b)
		sum, err := Add(x, y)
		if err != nil {
			t.Fatalf("add %d+%d: %v", a, b, err)
		}
		back, err := Sub(sum, y)
		if err != nil {
			t.Fatalf("sub: %v", err)
		}
		if !back.Equal(x) {
			t.Fatalf("expected %s, got %s", x, back)
		}
	})
}

// FuzzParseAmount checks that any accepted string round-trips.
func FuzzParseAmount(f *testing.F) {
	f.Add("0")
	f.Add("100000000000000000000")
	f.Add("1.0")
	f.Add("-7")

	f.Fuzz(func(t *testing.T, s string) {
		amount, err := ParseAmount(s)
		if err != nil {
			return
		}
		if checkErr := Check(amount); checkErr != nil && !errors.Is(checkErr, ErrOverflow) {
			t.Fatalf("parsed amount failed check: %v", checkErr)
		}
		again, err := ParseAmount(Format(amount))
		if err != nil || !again.Equal(amount) {
			t.Fatalf("round trip failed for %q", s)
		}
	})
}
