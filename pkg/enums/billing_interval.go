package enums

import "fmt"

// BillingInterval is the cadence a package bills at.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalYearly  BillingInterval = "yearly"
)

var validBillingIntervals = []BillingInterval{
	BillingIntervalMonthly,
	BillingIntervalYearly,
}

// String implements fmt.Stringer.
func (b BillingInterval) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BillingInterval) IsValid() bool {
	for _, candidate := range validBillingIntervals {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingInterval converts raw input into a BillingInterval.
func ParseBillingInterval(value string) (BillingInterval, error) {
	for _, candidate := range validBillingIntervals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing interval %q", value)
}
