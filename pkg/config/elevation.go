package config

import "strings"

// Elevation selects how commands marked as elevated are run
type Elevation string

const (
	// ElevationSudo wraps elevated commands in sudo and feeds it the secret
	ElevationSudo Elevation = "sudo"

	// ElevationDirect runs elevated commands as the bootstrap's own root
	// identity, for images that ship without sudo
	ElevationDirect Elevation = "direct"

	DefaultElevation = ElevationSudo
)

// ResolveElevation reads the elevation mode, defaulting to sudo
func ResolveElevation(r *Resolver) (Elevation, error) {
	raw := r.Optional(KeyElevation, string(DefaultElevation))
	switch e := Elevation(strings.ToLower(strings.TrimSpace(raw))); e {
	case ElevationSudo, ElevationDirect:
		return e, nil
	}
	return "", &InvalidConfigurationError{Key: KeyElevation, Value: raw, Reason: "must be sudo or direct"}
}
