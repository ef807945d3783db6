// Package fault defines the error kinds shared across subsystems.
// Command methods surface NotFound / InvalidArgument / Denied to callers;
// tick handlers log device and persistence faults and continue.
package fault

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDenied            = errors.New("denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrPersistence       = errors.New("persistence failure")
	ErrCancelled         = errors.New("cancelled")
	ErrOverload          = errors.New("overload")
)

// NotFound reports a missing entity, e.g. NotFound("zone", zoneID).
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// InvalidArgument reports an out-of-range or enum-violating input.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// DeniedError carries the machine-readable reason tag surfaced to callers
// (e.g. "schedule_restricted", "code_disabled", "max_uses_reached").
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "denied: " + e.Reason }

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Denied constructs a DeniedError with the given reason tag.
func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// DeniedReason extracts the reason tag from an error chain.
// Returns "" if the error is not a Denied fault.
func DeniedReason(err error) string {
	var de *DeniedError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// DeviceUnavailable wraps a failed capability read or write.
func DeviceUnavailable(deviceID string, err error) error {
	return fmt.Errorf("device %q: %v: %w", deviceID, err, ErrDeviceUnavailable)
}

// Persistence wraps a failed settings read or write.
func Persistence(key string, err error) error {
	return fmt.Errorf("settings %q: %v: %w", key, err, ErrPersistence)
}
