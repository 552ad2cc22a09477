package models

import "fmt"

// AuthorizationStatus is the location permission state reported by the OS.
type AuthorizationStatus int

const (
	StatusNotDetermined AuthorizationStatus = iota
	StatusAuthorized
	StatusDenied
	StatusRestricted
	// StatusDisabled means location services are off system-wide.
	StatusDisabled
	// StatusUnsupported means this build has no native location capability.
	StatusUnsupported
)

var statusNames = map[AuthorizationStatus]string{
	StatusNotDetermined: "not_determined",
	StatusAuthorized:    "authorized",
	StatusDenied:        "denied",
	StatusRestricted:    "restricted",
	StatusDisabled:      "disabled",
	StatusUnsupported:   "unsupported",
}

func (s AuthorizationStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s AuthorizationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusFromCode maps the native bridge codes
// (0 authorized, 1 denied, 2 not determined, 3 restricted, 4 disabled).
func StatusFromCode(code int) AuthorizationStatus {
	switch code {
	case 0:
		return StatusAuthorized
	case 1:
		return StatusDenied
	case 2:
		return StatusNotDetermined
	case 3:
		return StatusRestricted
	case 4:
		return StatusDisabled
	default:
		return StatusUnsupported
	}
}
