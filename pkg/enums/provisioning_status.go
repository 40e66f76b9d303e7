package enums

import "fmt"

// ProvisioningStatus tracks the first-activation tenant/license flow.
// A subscription stays usable while provisioning is pending; the marker
// only gates the async retry worker.
type ProvisioningStatus string

const (
	ProvisioningStatusNone      ProvisioningStatus = "none"
	ProvisioningStatusPending   ProvisioningStatus = "pending"
	ProvisioningStatusCompleted ProvisioningStatus = "completed"
)

var validProvisioningStatuses = []ProvisioningStatus{
	ProvisioningStatusNone,
	ProvisioningStatusPending,
	ProvisioningStatusCompleted,
}

// String implements fmt.Stringer.
func (p ProvisioningStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProvisioningStatus) IsValid() bool {
	for _, candidate := range validProvisioningStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProvisioningStatus converts raw input into a ProvisioningStatus.
func ParseProvisioningStatus(value string) (ProvisioningStatus, error) {
	for _, candidate := range validProvisioningStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provisioning status %q", value)
}
