package enums

import "fmt"

// GatewayName identifies a supported payment provider.
type GatewayName string

const (
	GatewayFastSpring   GatewayName = "fastspring"
	GatewayPaddle       GatewayName = "paddle"
	GatewayPayProGlobal GatewayName = "payproglobal"
)

var validGatewayNames = []GatewayName{
	GatewayFastSpring,
	GatewayPaddle,
	GatewayPayProGlobal,
}

// GatewayNames returns every supported provider in declaration order.
func GatewayNames() []GatewayName {
	out := make([]GatewayName, len(validGatewayNames))
	copy(out, validGatewayNames)
	return out
}

// String implements fmt.Stringer.
func (g GatewayName) String() string {
	return string(g)
}

// IsValid reports whether the value is a supported provider.
func (g GatewayName) IsValid() bool {
	for _, candidate := range validGatewayNames {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGatewayName converts raw input into a GatewayName.
func ParseGatewayName(value string) (GatewayName, error) {
	for _, candidate := range validGatewayNames {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway name %q", value)
}
