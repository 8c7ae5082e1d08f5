package dialer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"dialer-platform/pkg/utils"
)

// PostgresRepo stores campaigns in the campaigns table. Config and stats are
// JSONB documents; everything the dialer filters on is a column.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const campaignColumns = `id, organization_id, name, type, active, provider, from_number,
       config, stats, started_at, stopped_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var config, stats []byte
	var started, stopped sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.Name,
		&c.Type,
		&c.Active,
		&c.Provider,
		&c.FromNumber,
		&config,
		&stats,
		&started,
		&stopped,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	if err := json.Unmarshal(config, &c.Config); err != nil {
		return Campaign{}, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &c.Stats); err != nil {
			return Campaign{}, err
		}
	}
	c.StartedAt = utils.TimePtr(started)
	c.StoppedAt = utils.TimePtr(stopped)
	return c, nil
}

func scanCampaigns(rows *sql.Rows) ([]Campaign, error) {
	defer rows.Close()
	out := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	const q = `
INSERT INTO campaigns (
  id, organization_id, name, type, active, provider, from_number,
  config, stats, started_at, stopped_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	config, stats, err := marshalDocs(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.OrganizationID,
		c.Name,
		c.Type,
		c.Active,
		c.Provider,
		c.FromNumber,
		config,
		stats,
		utils.NullTime(c.StartedAt),
		utils.NullTime(c.StoppedAt),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) List(ctx context.Context, organizationID string) ([]Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns
WHERE ($1 = '' OR organization_id = $1)
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, organizationID)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns WHERE active ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

func (r *PostgresRepo) GetByFromNumber(ctx context.Context, number string) (Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns
WHERE type = 'blended' AND from_number = $1
ORDER BY active DESC, created_at DESC
LIMIT 1`
	return scanCampaign(r.db.QueryRowContext(ctx, q, number))
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Campaign) error) (Campaign, error) {
	const lock = `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 FOR UPDATE`
	const update = `
UPDATE campaigns
SET name = $2, type = $3, active = $4, provider = $5, from_number = $6,
    config = $7, stats = $8, started_at = $9, stopped_at = $10, updated_at = $11
WHERE id = $1
`
	var out Campaign
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := scanCampaign(tx.QueryRowContext(ctx, lock, id))
		if err != nil {
			return err
		}
		out = c
		if err := fn(&c); err != nil {
			return err
		}
		config, stats, err := marshalDocs(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, update,
			c.ID,
			c.Name,
			c.Type,
			c.Active,
			c.Provider,
			c.FromNumber,
			config,
			stats,
			utils.NullTime(c.StartedAt),
			utils.NullTime(c.StoppedAt),
			c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func marshalDocs(c Campaign) (config, stats []byte, err error) {
	if c.Config.InboundTargets == nil {
		c.Config.InboundTargets = []WeightedTarget{}
	}
	if config, err = json.Marshal(c.Config); err != nil {
		return nil, nil, err
	}
	if stats, err = json.Marshal(c.Stats); err != nil {
		return nil, nil, err
	}
	return config, stats, nil
}
