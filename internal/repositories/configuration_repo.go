package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/moonbattery/internal/models"
)

type PostgresConfigurationRepository struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewPostgresConfigurationRepository creates the repository. Every batch
// transaction is bounded by txTimeout.
func NewPostgresConfigurationRepository(pool *pgxpool.Pool, txTimeout time.Duration) *PostgresConfigurationRepository {
	return &PostgresConfigurationRepository{pool: pool, txTimeout: txTimeout}
}

// UpsertMany applies the batch atomically. The device row is locked first so
// batches for the same device run one after another; batches for other
// devices take other row locks and do not wait.
func (r *PostgresConfigurationRepository) UpsertMany(ctx context.Context, deviceID int64, entries []models.ConfigurationEntry) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrConfigurationUpdateFailed, err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM devices WHERE id = $1 FOR UPDATE`, deviceID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUpdateFailed, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock device: %w", ErrConfigurationUpdateFailed, err)
	}

	now := time.Now().UTC()
	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		if err := r.upsert(ctx, tx, deviceID, entry, now); err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrConfigurationUpdateFailed, entry.Key, err)
		}
		keys = append(keys, entry.Key)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrConfigurationUpdateFailed, err)
	}
	return keys, nil
}

// upsert updates the existing row and inserts one only when nothing matched.
func (r *PostgresConfigurationRepository) upsert(ctx context.Context, tx pgx.Tx, deviceID int64, entry models.ConfigurationEntry, now time.Time) error {
	result, err := tx.Exec(ctx,
		`UPDATE configurations
		 SET value = $1, updated_at = $2
		 WHERE device_id = $3 AND key = $4`,
		entry.Value, now, deviceID, entry.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO configurations (device_id, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)`,
		deviceID, entry.Key, entry.Value, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	return nil
}

func (r *PostgresConfigurationRepository) ListByDevice(ctx context.Context, deviceID int64) ([]*models.Configuration, error) {
	query := `SELECT id, device_id, key, value, updated_at
	          FROM configurations
	          WHERE device_id = $1
	          ORDER BY key ASC`

	rows, err := r.pool.Query(ctx, query, deviceID)
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
