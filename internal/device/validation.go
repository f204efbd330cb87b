package device

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxMACLength  = 64
	maxPort       = 65535
)

// Identities are reported as bare hex, sometimes with separators.
var macRegex = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z:._-]*$`)

var validKinds = map[Kind]struct{}{
	KindPlug:   {},
	KindSensor: {},
}

// ValidateDevice checks every field of d.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateMAC(d.MAC); err != nil {
		return err
	}
	if err := ValidateKind(d.Kind); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Port < 0 || d.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, d.Port)
	}
	if d.Kind == KindPlug && (d.Host == "" || d.Port == 0) {
		return fmt.Errorf("%w: plug requires host and port", ErrInvalidDevice)
	}
	return nil
}

// ValidateMAC checks a device identity.
func ValidateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMAC)
	}
	if len(mac) > maxMACLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidMAC, maxMACLength)
	}
	if !macRegex.MatchString(mac) {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return nil
}

// ValidateKind checks that k is a known kind.
func ValidateKind(k Kind) error {
	if _, ok := validKinds[k]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, k)
	}
	return nil
}

// ValidateName checks a display name. Empty names are allowed; the API
// falls back to the MAC.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// GenerateID returns a new device ID.
func GenerateID() string {
	return uuid.NewString()
}
