package credit

// CreditPack is a purchasable bundle of credits at a fixed price, used for
// manual top-ups and for auto-refill pack selection.
type CreditPack struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	PriceCents int64  `json:"price_cents"`
	Credits    int64  `json:"credits"`
}

// Packs is the static credit pack catalog. Larger packs carry a volume
// bonus over the base 1,000 credits per dollar.
var Packs = []CreditPack{
	{ID: "starter", Label: "Starter Pack", PriceCents: 500, Credits: 5_000},
	{ID: "standard", Label: "Standard Pack", PriceCents: 1_000, Credits: 10_500},
	{ID: "plus", Label: "Plus Pack", PriceCents: 2_500, Credits: 27_500},
	{ID: "pro", Label: "Pro Pack", PriceCents: 5_000, Credits: 57_500},
}

// PackByID looks up a catalog pack by its identifier
func PackByID(id string) (CreditPack, bool) {
	for _, p := range Packs {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPack{}, false
}

// ClosestPack returns the catalog pack whose price is numerically closest
// to the target amount. Ties resolve to the earlier pack in catalog order.
func ClosestPack(targetCents int64) CreditPack {
	best := Packs[0]
	bestDiff := absInt64(best.PriceCents - targetCents)
	for _, p := range Packs[1:] {
		if d := absInt64(p.PriceCents - targetCents); d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return best
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
