package billing

import (
	"time"

	"github.com/google/uuid"
)

// RateWindow is the single live per-minute counter row for a tenant.
// Unlike usage events it is overwritten in place: when the minute rolls
// over the counter is reset lazily on the next read, there is no sweeper.
type RateWindow struct {
	TenantID           uuid.UUID // One row per tenant
	CurrentMinute      int64     // floor(unix seconds / 60) of the window
	RequestsThisMinute int64     // Requests counted in the current window
	LastReset          time.Time // When the window last rolled over
}

// MinuteOf returns the minute bucket id for a point in time
func MinuteOf(t time.Time) int64 {
	return t.Unix() / 60
}

// SecondsUntilNextMinute returns how long until the current minute window
// rolls over, always in the range [1, 60].
func SecondsUntilNextMinute(t time.Time) int64 {
	s := 60 - t.Unix()%60
	if s <= 0 {
		return 60
	}
	return s
}

// IsStale reports whether the window belongs to an earlier minute than now
func (w *RateWindow) IsStale(now time.Time) bool {
	return w.CurrentMinute != MinuteOf(now)
}
