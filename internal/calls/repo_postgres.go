package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"dialer-platform/pkg/utils"
)

// PostgresRepo stores calls in the calls table and transcript lines in
// call_transcripts. A partial unique index on (provider, provider_call_id)
// for live statuses backs ErrDuplicateProviderCall.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, organization_id, campaign_id, contact_id, from_number, to_number, direction,
       provider, provider_call_id, status, disposition, agent_id, answered_by,
       start_time, answered_at, end_time, duration_seconds, notes, transfers, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var answered, ended sql.NullTime
	var duration sql.NullInt64
	var transfers []byte
	if err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.CampaignID,
		&c.ContactID,
		&c.FromNumber,
		&c.ToNumber,
		&c.Direction,
		&c.Provider,
		&c.ProviderCallID,
		&c.Status,
		&c.Disposition,
		&c.AgentID,
		&c.AnsweredBy,
		&c.StartTime,
		&answered,
		&ended,
		&duration,
		&c.Notes,
		&transfers,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.AnsweredAt = utils.TimePtr(answered)
	c.EndTime = utils.TimePtr(ended)
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if len(transfers) > 0 {
		if err := json.Unmarshal(transfers, &c.Transfers); err != nil {
			return Call{}, err
		}
	}
	return c, nil
}

func scanCalls(rows *sql.Rows) ([]Call, error) {
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullDuration(d *int) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func transfersJSON(t []Transfer) ([]byte, error) {
	if t == nil {
		t = []Transfer{}
	}
	return json.Marshal(t)
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, organization_id, campaign_id, contact_id, from_number, to_number, direction,
  provider, provider_call_id, status, disposition, agent_id, answered_by,
  start_time, answered_at, end_time, duration_seconds, notes, transfers, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
`
	transfers, err := transfersJSON(c.Transfers)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		c.ID,
		c.OrganizationID,
		c.CampaignID,
		c.ContactID,
		c.FromNumber,
		c.ToNumber,
		c.Direction,
		c.Provider,
		c.ProviderCallID,
		c.Status,
		c.Disposition,
		c.AgentID,
		c.AnsweredBy,
		c.StartTime,
		utils.NullTime(c.AnsweredAt),
		utils.NullTime(c.EndTime),
		nullDuration(c.DurationSeconds),
		c.Notes,
		transfers,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrDuplicateProviderCall
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE provider_call_id = $1 AND ($2 = '' OR provider = $2)
ORDER BY created_at DESC
LIMIT 1
`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID, provider))
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Call) error) (Call, error) {
	const lock = `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
	const update = `
UPDATE calls
SET status = $2, disposition = $3, agent_id = $4, answered_by = $5, answered_at = $6,
    end_time = $7, duration_seconds = $8, notes = $9, transfers = $10, updated_at = $11
WHERE id = $1
`
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := scanCall(tx.QueryRowContext(ctx, lock, id))
		if err != nil {
			return err
		}
		out = c
		if err := fn(&c); err != nil {
			return err
		}
		transfers, err := transfersJSON(c.Transfers)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, update,
			c.ID,
			c.Status,
			c.Disposition,
			c.AgentID,
			c.AnsweredBy,
			utils.NullTime(c.AnsweredAt),
			utils.NullTime(c.EndTime),
			nullDuration(c.DurationSeconds),
			c.Notes,
			transfers,
			c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE ($1 = '' OR organization_id = $1)
  AND ($2 = '' OR campaign_id = $2)
  AND ($3 = '' OR agent_id = $3)
  AND ($4 = '' OR direction = $4)
  AND ($5 = '' OR status = $5)
  AND ($6::timestamptz IS NULL OR start_time >= $6)
  AND ($7::timestamptz IS NULL OR start_time < $7)
ORDER BY start_time DESC
LIMIT NULLIF($8, 0) OFFSET $9
`
	var from, to sql.NullTime
	if !f.From.IsZero() {
		from = sql.NullTime{Time: f.From, Valid: true}
	}
	if !f.To.IsZero() {
		to = sql.NullTime{Time: f.To, Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, q,
		f.OrganizationID,
		f.CampaignID,
		f.AgentID,
		string(f.Direction),
		string(f.Status),
		from,
		to,
		f.Limit,
		f.Offset,
	)
	if err != nil {
		return nil, err
	}
	return scanCalls(rows)
}

func (r *PostgresRepo) AddTranscript(ctx context.Context, t Transcript) error {
	const q = `
INSERT INTO call_transcripts (id, call_id, role, content, timestamp, confidence, speaker_id)
SELECT $1::text, $2::text, $3::text, $4::text, $5::timestamptz, $6::double precision, $7::text
WHERE EXISTS (SELECT 1 FROM calls WHERE id = $2)
`
	res, err := r.db.ExecContext(ctx, q, t.ID, t.CallID, t.Role, t.Content, t.Timestamp, t.Confidence, t.SpeakerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	if _, err := r.Get(ctx, callID); err != nil {
		return nil, err
	}
	const q = `
SELECT id, call_id, role, content, timestamp, confidence, speaker_id
FROM call_transcripts
WHERE call_id = $1
ORDER BY timestamp ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Transcript, 0)
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.CallID, &t.Role, &t.Content, &t.Timestamp, &t.Confidence, &t.SpeakerID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
