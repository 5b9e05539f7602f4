package enums

import "fmt"

// EntitlementStatus tracks whether a recurring credit entitlement is live.
type EntitlementStatus string

const (
	EntitlementStatusActive   EntitlementStatus = "active"
	EntitlementStatusCanceled EntitlementStatus = "canceled"
)

var validEntitlementStatuses = []EntitlementStatus{
	EntitlementStatusActive,
	EntitlementStatusCanceled,
}

// String implements fmt.Stringer.
func (e EntitlementStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e EntitlementStatus) IsValid() bool {
	for _, candidate := range validEntitlementStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEntitlementStatus converts raw input into an EntitlementStatus.
func ParseEntitlementStatus(value string) (EntitlementStatus, error) {
	for _, candidate := range validEntitlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entitlement status %q", value)
}
