package engine

// AssetKind tags which of the two assets a balance or ledger holds.
type AssetKind uint8

const (
	AssetTradable AssetKind = iota + 1
	AssetPayment
)

func (k AssetKind) String() string {
	switch k {
	case AssetTradable:
		return "tradable"
	case AssetPayment:
		return "payment"
	default:
		return "unknown"
	}
}
