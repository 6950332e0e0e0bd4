package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"

	// DefaultPresenceTTL is how long a device stays online after its last ping.
	DefaultPresenceTTL = 5 * time.Minute
)

type RedisPresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceRepository(client *redis.Client, ttl time.Duration) *RedisPresenceRepository {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresenceRepository{client: client, ttl: ttl}
}

// SetPresence marks the device online. The key expires after the TTL, at
// which point the device reads back as offline.
func (r *RedisPresenceRepository) SetPresence(ctx context.Context, presence *models.Presence) error {
	if presence.LastSeen.IsZero() {
		presence.LastSeen = time.Now().UTC()
	}
	presence.Status = string(models.StatusOnline)

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	err = r.client.Set(ctx, presenceKey(presence.SerialNumber), data, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	return nil
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, serialNumber string) (*models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(serialNumber)).Result()
	if err == redis.Nil {
		return offlinePresence(serialNumber), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}

	return &presence, nil
}

// ContactPresenceRepository derives presence from the devices table. Used
// when no Redis URL is configured; last_contact is already written by ping.
type ContactPresenceRepository struct {
	devices DeviceRepository
	ttl     time.Duration
	now     func() time.Time
}

func NewContactPresenceRepository(devices DeviceRepository, ttl time.Duration) *ContactPresenceRepository {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &ContactPresenceRepository{devices: devices, ttl: ttl, now: time.Now}
}

func (r *ContactPresenceRepository) SetPresence(_ context.Context, presence *models.Presence) error {
	presence.Status = string(models.StatusOnline)
	return nil
}

func (r *ContactPresenceRepository) GetPresence(ctx context.Context, serialNumber string) (*models.Presence, error) {
	device, err := r.devices.GetBySerial(ctx, serialNumber)
	if err != nil {
		return nil, err
	}

	presence := offlinePresence(serialNumber)
	presence.DeviceID = device.ID
	if device.LastContact == nil {
		return presence, nil
	}

	presence.LastSeen = *device.LastContact
	if r.now().Sub(*device.LastContact) <= r.ttl {
		presence.Status = string(models.StatusOnline)
	}
	return presence, nil
}

func offlinePresence(serialNumber string) *models.Presence {
	return &models.Presence{
		SerialNumber: serialNumber,
		Status:       string(models.StatusOffline),
	}
}

func presenceKey(serialNumber string) string {
	return presenceKeyPrefix + serialNumber
}
