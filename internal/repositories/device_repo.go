package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/moonbattery/internal/models"
)

const (
	pgUniqueViolation = "23505"

	pgMacAddressConstraint   = "devices_mac_address_key"
	pgSerialNumberConstraint = "devices_serial_number_key"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (mac_address, serial_number)
	          VALUES ($1, $2)
	          RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		device.MacAddress,
		device.SerialNumber,
	).Scan(&device.ID, &device.CreatedAt)

	if err != nil {
		if dup := pgDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetBySerial(ctx context.Context, serialNumber string) (*models.Device, error) {
	query := `SELECT id, mac_address, serial_number, last_contact, created_at
	          FROM devices
	          WHERE serial_number = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, serialNumber).Scan(
		&device.ID,
		&device.MacAddress,
		&device.SerialNumber,
		&device.LastContact,
		&device.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) GetIDBySerial(ctx context.Context, serialNumber string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM devices WHERE serial_number = $1`, serialNumber).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get device id: %w", err)
	}
	return id, nil
}

func (r *PostgresDeviceRepository) TouchLastContact(ctx context.Context, serialNumber string) (time.Time, error) {
	query := `UPDATE devices
	          SET last_contact = $1
	          WHERE serial_number = $2`

	now := time.Now().UTC()
	result, err := r.pool.Exec(ctx, query, now, serialNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update last contact: %w", err)
	}

	if result.RowsAffected() == 0 {
		return time.Time{}, ErrNotFound
	}
	return now, nil
}

// pgDuplicate maps unique violations on the devices table to typed errors.
func pgDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case pgMacAddressConstraint:
		return ErrDuplicateMacAddress
	case pgSerialNumberConstraint:
		return ErrDuplicateSerialNumber
	}
	return nil
}
