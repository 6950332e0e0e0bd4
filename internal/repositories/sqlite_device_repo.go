package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prudhvinik1/moonbattery/internal/models"
)

type SQLiteDeviceRepository struct {
	db *sql.DB
}

func NewSQLiteDeviceRepository(db *sql.DB) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

func (r *SQLiteDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (mac_address, serial_number, created_at) VALUES (?, ?, ?)`,
		device.MacAddress,
		device.SerialNumber,
		now,
	)
	if err != nil {
		if dup := sqliteDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}

	device.ID = id
	device.CreatedAt = now
	return nil
}

func (r *SQLiteDeviceRepository) GetBySerial(ctx context.Context, serialNumber string) (*models.Device, error) {
	query := `SELECT id, mac_address, serial_number, last_contact, created_at
	          FROM devices
	          WHERE serial_number = ?`

	var device models.Device
	err := r.db.QueryRowContext(ctx, query, serialNumber).Scan(
		&device.ID,
		&device.MacAddress,
		&device.SerialNumber,
		&device.LastContact,
		&device.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *SQLiteDeviceRepository) GetIDBySerial(ctx context.Context, serialNumber string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM devices WHERE serial_number = ?`, serialNumber).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get device id: %w", err)
	}
	return id, nil
}

func (r *SQLiteDeviceRepository) TouchLastContact(ctx context.Context, serialNumber string) (time.Time, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_contact = ? WHERE serial_number = ?`,
		now, serialNumber,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update last contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return time.Time{}, ErrNotFound
	}
	return now, nil
}

// sqliteDuplicate maps unique violations on the devices table to typed errors.
func sqliteDuplicate(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "devices.mac_address"):
		return ErrDuplicateMacAddress
	case strings.Contains(msg, "devices.serial_number"):
		return ErrDuplicateSerialNumber
	}
	return nil
}
