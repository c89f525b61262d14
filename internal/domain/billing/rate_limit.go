package billing

// LimitUsage pairs a used amount with its configured limit
type LimitUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// LimitsSnapshot is the point-in-time view of both quota gates, returned
// with every rate-limit decision (allowed or not).
type LimitsSnapshot struct {
	MonthlyCredits    LimitUsage `json:"monthlyCredits"`
	RequestsPerMinute LimitUsage `json:"requestsPerMinute"`
}

// RateLimitResult is the uniform outcome of a quota check. RetryAfter is
// set only when the per-minute gate rejected the request; the monthly gate
// has no natural retry window within the session.
type RateLimitResult struct {
	Allowed    bool
	Reason     string
	Limits     LimitsSnapshot
	RetryAfter int64 // Seconds until the minute window resets, 0 if not applicable
}
