package repositories

import (
	"context"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/models"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetBySerial(ctx context.Context, serialNumber string) (*models.Device, error)
	GetIDBySerial(ctx context.Context, serialNumber string) (int64, error)
	TouchLastContact(ctx context.Context, serialNumber string) (time.Time, error)
}

type ConfigurationRepository interface {
	// UpsertMany writes every entry in one transaction, updating existing
	// keys and inserting new ones, and returns the keys in input order.
	UpsertMany(ctx context.Context, deviceID int64, entries []models.ConfigurationEntry) ([]string, error)
	ListByDevice(ctx context.Context, deviceID int64) ([]*models.Configuration, error)
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, serialNumber string) (*models.Presence, error)
}
