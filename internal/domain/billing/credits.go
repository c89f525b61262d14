package billing

// MicroPerCredit is the fixed exchange rate between microdollar cost and
// credits: 1 credit = 100 microdollars = $0.0001.
const MicroPerCredit = 100

// ToCredits converts a microdollar cost to credits using ceiling division,
// so any nonzero cost bills at least one credit and a free event bills zero.
// The function is pure and monotonic non-decreasing.
func ToCredits(costMicro int64) int64 {
	if costMicro <= 0 {
		return 0
	}
	return (costMicro + MicroPerCredit - 1) / MicroPerCredit
}
