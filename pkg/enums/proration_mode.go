package enums

import "fmt"

// ProrationMode selects how a provider bills a mid-cycle plan change.
type ProrationMode string

const (
	ProrationImmediate  ProrationMode = "immediate"
	ProrationNextPeriod ProrationMode = "next_period"
	ProrationNone       ProrationMode = "none"
)

var validProrationModes = []ProrationMode{
	ProrationImmediate,
	ProrationNextPeriod,
	ProrationNone,
}

// String implements fmt.Stringer.
func (p ProrationMode) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProrationMode) IsValid() bool {
	for _, candidate := range validProrationModes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProrationMode converts raw input into a ProrationMode.
func ParseProrationMode(value string) (ProrationMode, error) {
	for _, candidate := range validProrationModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid proration mode %q", value)
}
