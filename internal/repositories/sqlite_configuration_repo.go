package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/models"
)

type SQLiteConfigurationRepository struct {
	db        *sql.DB
	txTimeout time.Duration
}

func NewSQLiteConfigurationRepository(db *sql.DB, txTimeout time.Duration) *SQLiteConfigurationRepository {
	return &SQLiteConfigurationRepository{db: db, txTimeout: txTimeout}
}

// UpsertMany applies the batch atomically. Write transactions start with
// BEGIN IMMEDIATE (see database.OpenSQLite) so concurrent batches serialise.
func (r *SQLiteConfigurationRepository) UpsertMany(ctx context.Context, deviceID int64, entries []models.ConfigurationEntry) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrConfigurationUpdateFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM devices WHERE id = ?`, deviceID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUpdateFailed, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: check device: %w", ErrConfigurationUpdateFailed, err)
	}

	now := time.Now().UTC()
	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		if err := r.upsert(ctx, tx, deviceID, entry, now); err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrConfigurationUpdateFailed, entry.Key, err)
		}
		keys = append(keys, entry.Key)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrConfigurationUpdateFailed, err)
	}
	return keys, nil
}

func (r *SQLiteConfigurationRepository) upsert(ctx context.Context, tx *sql.Tx, deviceID int64, entry models.ConfigurationEntry, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE configurations SET value = ?, updated_at = ? WHERE device_id = ? AND key = ?`,
		entry.Value, now, deviceID, entry.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO configurations (device_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		deviceID, entry.Key, entry.Value, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	return nil
}

func (r *SQLiteConfigurationRepository) ListByDevice(ctx context.Context, deviceID int64) ([]*models.Configuration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, key, value, updated_at
		 FROM configurations
		 WHERE device_id = ?
		 ORDER BY key ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query configurations: %w", err)
	}
	defer rows.Close()

	var configurations []*models.Configuration
	for rows.Next() {
		var c models.Configuration
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Key, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		configurations = append(configurations, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating configurations: %w", err)
	}

	return configurations, nil
}
