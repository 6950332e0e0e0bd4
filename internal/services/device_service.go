package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/events"
	"github.com/prudhvinik1/moonbattery/internal/models"
	"github.com/prudhvinik1/moonbattery/internal/repositories"
	"github.com/prudhvinik1/moonbattery/internal/utils"
	"go.uber.org/zap"
)

// maxSerialAttempts bounds retries when a generated serial number is taken.
const maxSerialAttempts = 5

type DeviceService struct {
	devices        repositories.DeviceRepository
	configurations repositories.ConfigurationRepository
	presence       repositories.PresenceRepository
	credentials    *CredentialService
	events         events.Sink
	logger         *zap.Logger

	newSerial func() (string, error)
}

type RegisterResult struct {
	SerialNumber string
	Token        string
	ExpiresAt    time.Time
}

type PingResult struct {
	Status      string
	LastContact time.Time
}

type ConfigurationResult struct {
	Status      string
	UpdatedKeys []string
}

func NewDeviceService(
	devices repositories.DeviceRepository,
	configurations repositories.ConfigurationRepository,
	presence repositories.PresenceRepository,
	credentials *CredentialService,
	sink events.Sink,
	logger *zap.Logger,
) *DeviceService {
	if sink == nil {
		sink = events.Nop{}
	}
	return &DeviceService{
		devices:        devices,
		configurations: configurations,
		presence:       presence,
		credentials:    credentials,
		events:         sink,
		logger:         logger.Named("device_service"),
		newSerial:      utils.GenerateSerialNumber,
	}
}

// Register creates a device for macAddress and issues its credential.
func (s *DeviceService) Register(ctx context.Context, macAddress string) (*RegisterResult, error) {
	mac, err := utils.NormalizeMacAddress(macAddress)
	if err != nil {
		return nil, err
	}

	device, err := s.createDevice(ctx, mac)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.credentials.Issue(device.SerialNumber, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue credential: %w", err)
	}

	s.logger.Info("device registered",
		zap.String("serial_number", device.SerialNumber),
		zap.Int64("device_id", device.ID),
	)
	s.emit(ctx, events.New(events.TypeRegistered, device.SerialNumber, device.ID))

	return &RegisterResult{
		SerialNumber: device.SerialNumber,
		Token:        token,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *DeviceService) createDevice(ctx context.Context, mac string) (*models.Device, error) {
	for attempt := 1; attempt <= maxSerialAttempts; attempt++ {
		serial, err := s.newSerial()
		if err != nil {
			return nil, err
		}

		device := &models.Device{MacAddress: mac, SerialNumber: serial}
		err = s.devices.Create(ctx, device)
		if err == nil {
			return device, nil
		}
		if errors.Is(err, repositories.ErrDuplicateMacAddress) {
			return nil, ErrDuplicateMacAddress
		}
		if !errors.Is(err, repositories.ErrDuplicateSerialNumber) {
			return nil, fmt.Errorf("failed to create device: %w", err)
		}

		s.logger.Warn("serial number collision, retrying",
			zap.String("serial_number", serial),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("failed to allocate serial number after %d attempts", maxSerialAttempts)
}

// Ping records contact from an authenticated device. deviceID comes from the
// verified credential and is carried on the emitted event.
func (s *DeviceService) Ping(ctx context.Context, serialNumber string, deviceID int64) (*PingResult, error) {
	lastContact, err := s.devices.TouchLastContact(ctx, serialNumber)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update last contact: %w", err)
	}

	presence := &models.Presence{SerialNumber: serialNumber, DeviceID: deviceID, LastSeen: lastContact}
	if err := s.presence.SetPresence(ctx, presence); err != nil {
		s.logger.Warn("failed to record presence", zap.String("serial_number", serialNumber), zap.Error(err))
	}

	s.emit(ctx, events.New(events.TypePinged, serialNumber, deviceID))

	return &PingResult{Status: "ok", LastContact: lastContact}, nil
}

// SetConfigurations applies entries as a single batch.
func (s *DeviceService) SetConfigurations(ctx context.Context, serialNumber string, entries models.ConfigurationSet) (*ConfigurationResult, error) {
	if err := validateConfigurations(entries); err != nil {
		return nil, err
	}

	deviceID, err := s.devices.GetIDBySerial(ctx, serialNumber)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	if len(entries) == 0 {
		return &ConfigurationResult{Status: "ok", UpdatedKeys: []string{}}, nil
	}

	keys, err := s.configurations.UpsertMany(ctx, deviceID, entries)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		s.logger.Error("configuration batch rolled back",
			zap.String("serial_number", serialNumber),
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		if !errors.Is(err, ErrConfigurationUpdateFailed) {
			err = fmt.Errorf("%w: %w", ErrConfigurationUpdateFailed, err)
		}
		return nil, err
	}

	event := events.New(events.TypeConfigurationsUpdated, serialNumber, deviceID)
	event.Keys = keys
	s.emit(ctx, event)

	return &ConfigurationResult{Status: "ok", UpdatedKeys: keys}, nil
}

// GetConfigurations returns the stored key/value pairs for the device.
func (s *DeviceService) GetConfigurations(ctx context.Context, serialNumber string) (map[string]string, error) {
	deviceID, err := s.devices.GetIDBySerial(ctx, serialNumber)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	stored, err := s.configurations.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	out := make(map[string]string, len(stored))
	for _, c := range stored {
		out[c.Key] = c.Value
	}
	return out, nil
}

func (s *DeviceService) GetPresence(ctx context.Context, serialNumber string) (*models.Presence, error) {
	if _, err := s.devices.GetIDBySerial(ctx, serialNumber); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}

	presence, err := s.presence.GetPresence(ctx, serialNumber)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return presence, nil
}

// emit is best effort. A sink failure never fails the request.
func (s *DeviceService) emit(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("serial_number", event.SerialNumber),
			zap.Error(err),
		)
	}
}

func validateConfigurations(entries models.ConfigurationSet) error {
	if entries == nil {
		return fmt.Errorf("%w: configurations must be an object", ErrInvalidConfiguration)
	}
	for _, e := range entries {
		if e.Key == "" {
			return fmt.Errorf("%w: configuration keys must not be empty", ErrInvalidConfiguration)
		}
	}
	return nil
}
