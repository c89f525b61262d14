package identity

// PlanTier represents the subscription tier of a tenant
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanLite     PlanTier = "lite"
	PlanStarter  PlanTier = "starter"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// String returns the string representation of PlanTier
func (p PlanTier) String() string {
	return string(p)
}

// IsValid returns true if the plan tier is a known tier
func (p PlanTier) IsValid() bool {
	switch p {
	case PlanFree, PlanLite, PlanStarter, PlanPro, PlanBusiness:
		return true
	}
	return false
}

// PlanLimits defines the static quota limits attached to a plan tier.
// TokensPerMinute is advisory and not enforced by the rate limiter.
type PlanLimits struct {
	MonthlyCredits     int64 // Hard monthly spend allowance, in credits
	RequestsPerMinute  int64 // Per-minute throughput cap
	TokensPerMinute    int64 // Advisory token throughput, unused by rate logic
	MonthlyCallMinutes int64 // Voice call minutes included per month
}

// planLimits is the static tier -> limits table. Unknown tiers fall back
// to the free tier rather than failing open.
var planLimits = map[PlanTier]PlanLimits{
	PlanFree:     {MonthlyCredits: 10_000, RequestsPerMinute: 5, TokensPerMinute: 10_000, MonthlyCallMinutes: 0},
	PlanLite:     {MonthlyCredits: 50_000, RequestsPerMinute: 10, TokensPerMinute: 25_000, MonthlyCallMinutes: 30},
	PlanStarter:  {MonthlyCredits: 200_000, RequestsPerMinute: 20, TokensPerMinute: 50_000, MonthlyCallMinutes: 30},
	PlanPro:      {MonthlyCredits: 1_000_000, RequestsPerMinute: 60, TokensPerMinute: 150_000, MonthlyCallMinutes: 60},
	PlanBusiness: {MonthlyCredits: 5_000_000, RequestsPerMinute: 120, TokensPerMinute: 300_000, MonthlyCallMinutes: 300},
}

// Limits returns the limits for the tier, defaulting to free for unknown tiers
func (p PlanTier) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}
