package repositories

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateMacAddress is returned when a device with the same MAC
	// address is already registered.
	ErrDuplicateMacAddress = errors.New("mac address already registered")

	// ErrDuplicateSerialNumber is returned when a generated serial number
	// collides with an existing device. Callers may retry with a new one.
	ErrDuplicateSerialNumber = errors.New("serial number already in use")

	// ErrConfigurationUpdateFailed wraps every failure of a configuration
	// batch. The batch has been rolled back when it is returned.
	ErrConfigurationUpdateFailed = errors.New("configuration update failed")
)
