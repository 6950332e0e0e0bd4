package services

import (
	"errors"

	"github.com/prudhvinik1/moonbattery/internal/repositories"
	"github.com/prudhvinik1/moonbattery/internal/utils"
)

var (
	// Validation errors. Returned before any store access.
	ErrInvalidMacAddress    = utils.ErrInvalidMacAddress
	ErrInvalidConfiguration = errors.New("invalid configuration")

	ErrInvalidCredential = errors.New("invalid credential")

	ErrDuplicateMacAddress = repositories.ErrDuplicateMacAddress
	ErrDeviceNotFound      = errors.New("device not found")

	// ErrConfigurationUpdateFailed means the batch was rolled back.
	ErrConfigurationUpdateFailed = repositories.ErrConfigurationUpdateFailed
)
