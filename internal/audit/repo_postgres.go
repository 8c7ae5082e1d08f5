package audit

import (
	"context"
	"database/sql"

	"dialer-platform/pkg/utils"
)

// PostgresRepo writes to audit_events. The table only ever receives INSERTs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, organization_id, type, actor_user_id, actor_role, ip_address,
  campaign_id, contact_id, call_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		e.Type,
		utils.NullString(e.ActorUserID),
		utils.NullString(e.ActorRole),
		utils.NullString(e.IPAddress),
		utils.NullString(e.CampaignID),
		utils.NullString(e.ContactID),
		utils.NullString(e.CallID),
		e.Message,
		utils.NullString(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Event, error) {
	const q = `
SELECT id, organization_id, type, actor_user_id, actor_role, ip_address,
       campaign_id, contact_id, call_id, message, metadata, created_at
FROM audit_events
WHERE organization_id = $1
  AND ($2 = '' OR campaign_id = $2)
  AND ($3 = '' OR type = $3)
ORDER BY created_at DESC
LIMIT $4
`
	rows, err := r.db.QueryContext(ctx, q, f.OrganizationID, f.CampaignID, string(f.Type), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var actor, role, ip, campaign, contact, call, message, meta sql.NullString
		if err := rows.Scan(
			&e.ID, &e.OrganizationID, &e.Type, &actor, &role, &ip,
			&campaign, &contact, &call, &message, &meta, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.ActorUserID = actor.String
		e.ActorRole = role.String
		e.IPAddress = ip.String
		e.CampaignID = campaign.String
		e.ContactID = contact.String
		e.CallID = call.String
		e.Message = message.String
		e.Metadata = meta.String
		out = append(out, e)
	}
	return out, rows.Err()
}
