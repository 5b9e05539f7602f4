package enums

import "fmt"

// Provider identifies an external image-generation vendor. The value is
// recorded on every task explicitly, never inferred from the external id.
type Provider string

const (
	ProviderStability Provider = "stability"
	ProviderFal       Provider = "fal"
	ProviderReplicate Provider = "replicate"
)

var validProviders = []Provider{
	ProviderStability,
	ProviderFal,
	ProviderReplicate,
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProvider converts raw input into a Provider.
func ParseProvider(value string) (Provider, error) {
	for _, candidate := range validProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}
