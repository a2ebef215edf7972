package room

import (
	"fmt"
	"math"
	"time"
)

// ExpirationStatus buckets a room's expiration date relative to now.
type ExpirationStatus int

const (
	Active ExpirationStatus = iota
	ExpiringSoon
	Expired
)

// ExpiringWindow is how far ahead of expiration a room is reported as expiring soon.
const ExpiringWindow = 2 * time.Hour

func (s ExpirationStatus) String() string {
	switch s {
	case Active:
		return "active"
	case ExpiringSoon:
		return "expiring_soon"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("ExpirationStatus(%d)", int(s))
	}
}

// Expiration computes the status for exp. A nil exp never expires.
func Expiration(exp *time.Time, now time.Time) ExpirationStatus {
	if exp == nil {
		return Active
	}
	diff := exp.Sub(now)
	switch {
	case diff < 0:
		return Expired
	case diff <= ExpiringWindow:
		return ExpiringSoon
	default:
		return Active
	}
}

// ReduceAuthenticated applies the sticky authentication rule to a refreshed room record.
//
// A room without a password is always accessible; otherwise the previous result is kept.
func ReduceAuthenticated(prev, requiresPassword bool) bool {
	return !requiresPassword || prev
}

// HoursLeft rounds the time until exp up to whole hours.
func HoursLeft(exp time.Time, now time.Time) int {
	return int(math.Ceil(exp.Sub(now).Hours()))
}

const (
	MsgExpired          = "Room has expired. Please check in with MESA."
	MsgPasswordRequired = "This room requires a password to access."
	MsgIncorrectPass    = "Incorrect password"
	MsgFetchFailed      = "Failed to fetch room data"
)

// expiringMessage formats the advisory for a room expiring within [ExpiringWindow].
func expiringMessage(hours int) string {
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("Room expires in %d %s. Consider extending the session.", hours, unit)
}

// DeriveError picks the user-visible message with priority expired, expiring soon, then password required.
func DeriveError(status ExpirationStatus, exp *time.Time, now time.Time, requiresPassword, authenticated bool) string {
	switch {
	case status == Expired:
		return MsgExpired
	case status == ExpiringSoon && exp != nil:
		return expiringMessage(HoursLeft(*exp, now))
	case requiresPassword && !authenticated:
		return MsgPasswordRequired
	default:
		return ""
	}
}
