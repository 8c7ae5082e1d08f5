package contacts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore keeps contacts in the contacts table.
//
// It assumes UNIQUE (campaign_id, phone_number) and a bigserial seq column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const contactColumns = `id, campaign_id, phone_number, name, status, attempt_count, next_attempt_at,
       notes, last_disposition, last_call_id, seq, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var next sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.CampaignID,
		&c.PhoneNumber,
		&c.Name,
		&c.Status,
		&c.AttemptCount,
		&next,
		&c.Notes,
		&c.LastDisposition,
		&c.LastCallID,
		&c.Seq,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	c.NextAttemptAt = utils.TimePtr(next)
	return c, nil
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	defer rows.Close()
	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Import(ctx context.Context, campaignID string, records []Record) (ImportResult, error) {
	const q = `
INSERT INTO contacts (id, campaign_id, phone_number, name, notes, status, attempt_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
ON CONFLICT (campaign_id, phone_number) DO NOTHING
`
	var res ImportResult
	now := time.Now().UTC()
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			phone, ok := NormalizePhone(r.PhoneNumber)
			if !ok {
				res.Failed++
				continue
			}
			out, err := stmt.ExecContext(ctx, uuid.NewString(), campaignID, phone, r.Name, r.Notes, now)
			if err != nil {
				return err
			}
			n, err := out.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				res.Duplicates++
				continue
			}
			res.Imported++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func (s *PostgresStore) NextEligible(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE campaign_id = $1
  AND ((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
    OR (status = 'scheduled' AND next_attempt_at <= $2))
ORDER BY COALESCE(next_attempt_at, created_at) ASC, seq ASC
LIMIT $3
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, now, limit)
	if err != nil {
		return nil, err
	}
	return scanContacts(rows)
}

func (s *PostgresStore) MarkDialing(ctx context.Context, contactID string, maxAttempts int, now time.Time) (Contact, error) {
	// The conditional UPDATE is the claim; only one caller can match the WHERE clause.
	const claim = `
UPDATE contacts
SET status = 'calling', attempt_count = attempt_count + 1, next_attempt_at = NULL, updated_at = $3
WHERE id = $1
  AND status IN ('pending', 'scheduled')
  AND ($2 <= 0 OR attempt_count < $2)
RETURNING ` + contactColumns

	c, err := scanContact(s.db.QueryRowContext(ctx, claim, contactID, maxAttempts, now))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}

	const exhaust = `
UPDATE contacts
SET status = 'failed', next_attempt_at = NULL, last_disposition = $3, updated_at = $4
WHERE id = $1
  AND status IN ('pending', 'scheduled')
  AND $2 > 0 AND attempt_count >= $2
RETURNING ` + contactColumns

	c, err = scanContact(s.db.QueryRowContext(ctx, exhaust, contactID, maxAttempts, DispositionMaxAttempts, now))
	if err == nil {
		return c, ErrAttemptsExhausted
	}
	if !errors.Is(err, ErrNotFound) {
		return Contact{}, err
	}

	current, err := s.Get(ctx, contactID)
	if err != nil {
		return Contact{}, err
	}
	return current, ErrNotClaimable
}

func (s *PostgresStore) MarkOutcome(ctx context.Context, contactID string, o Outcome, now time.Time) (Contact, error) {
	var out Contact
	err := s.mutate(ctx, contactID, &out, func(c *Contact) error {
		return applyOutcome(c, o, now)
	})
	return out, err
}

func (s *PostgresStore) ScheduleCallback(ctx context.Context, contactID string, when time.Time, notes string, now time.Time) (Contact, error) {
	var out Contact
	err := s.mutate(ctx, contactID, &out, func(c *Contact) error {
		return applyCallback(c, when, notes, now)
	})
	return out, err
}

// mutate locks the row, applies fn and writes the mutable columns back.
func (s *PostgresStore) mutate(ctx context.Context, contactID string, out *Contact, fn func(*Contact) error) error {
	const lock = `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1 FOR UPDATE`
	const update = `
UPDATE contacts
SET status = $2, attempt_count = $3, next_attempt_at = $4, notes = $5,
    last_disposition = $6, last_call_id = $7, updated_at = $8
WHERE id = $1
`
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := scanContact(tx.QueryRowContext(ctx, lock, contactID))
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			*out = c
			return err
		}
		if _, err := tx.ExecContext(ctx, update,
			c.ID,
			c.Status,
			c.AttemptCount,
			utils.NullTime(c.NextAttemptAt),
			c.Notes,
			c.LastDisposition,
			c.LastCallID,
			c.UpdatedAt,
		); err != nil {
			return err
		}
		*out = c
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, contactID string) (Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	return scanContact(s.db.QueryRowContext(ctx, q, contactID))
}

func (s *PostgresStore) Count(ctx context.Context, campaignID string) (int, error) {
	const q = `SELECT COUNT(*) FROM contacts WHERE campaign_id = $1`
	var n int
	if err := s.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, campaignID string, f ListFilter) ([]Contact, error) {
	const q = `
SELECT ` + contactColumns + `
FROM contacts
WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
ORDER BY seq ASC
LIMIT NULLIF($3, 0) OFFSET $4
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return scanContacts(rows)
}
