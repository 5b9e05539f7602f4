package entitlements

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMonthlyGrantTTL is how long each recurring grant stays spendable.
const DefaultMonthlyGrantTTL = 30 * 24 * time.Hour

// MonthsElapsed counts whole calendar months between the anchor and now.
// Month boundaries follow the anchor's day-of-month, not fixed 30-day
// windows; an anchor on Jan 15 rolls over on Feb 15, Mar 15, and so on.
func MonthsElapsed(anchor, now time.Time) int {
	if now.Before(anchor) {
		return 0
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	// AddDate normalizes short months (Jan 31 + 1 month lands in early
	// March), so walk back until the rollover really happened.
	for months > 0 && anchor.AddDate(0, months, 0).After(now) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// GrantKey encodes the (entitlement, month ordinal) pair used as the grant
// idempotency key. Month 0 is the grant due at the anchor itself.
func GrantKey(entitlementID uuid.UUID, month int) string {
	return fmt.Sprintf("entitlement:%s:month:%d", entitlementID, month)
}

// ParseGrantKeyMonth recovers the month ordinal from a grant key produced by
// GrantKey. Returns -1 for keys in any other shape.
func ParseGrantKeyMonth(key string) int {
	idx := strings.LastIndex(key, ":month:")
	if idx < 0 {
		return -1
	}
	month, err := strconv.Atoi(key[idx+len(":month:"):])
	if err != nil || month < 0 {
		return -1
	}
	return month
}
