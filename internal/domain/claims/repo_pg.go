package claims

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &claimRepoPG{pool: pool}
}

const claimCols = `id, status, member_id, payer_id, total, approved_total,
	disposition, denial_code, related_claim_id, submitted_at, adjudicated_at`

func (r *claimRepoPG) scanRow(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.Status, &c.MemberID, &c.PayerID, &c.Total, &c.ApprovedTotal,
		&c.Disposition, &c.DenialCode, &c.RelatedClaimID, &c.SubmittedAt, &c.AdjudicatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *claimRepoPG) Save(ctx context.Context, c *Claim) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO claim (id, status, member_id, payer_id, total, approved_total,
			disposition, denial_code, related_claim_id, submitted_at, adjudicated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			approved_total = EXCLUDED.approved_total,
			disposition = EXCLUDED.disposition,
			denial_code = EXCLUDED.denial_code,
			adjudicated_at = EXCLUDED.adjudicated_at,
			updated_at = NOW()`,
		c.ID, c.Status, c.MemberID, c.PayerID, c.Total, c.ApprovedTotal,
		c.Disposition, c.DenialCode, c.RelatedClaimID, c.SubmittedAt, c.AdjudicatedAt)
	return err
}

func (r *claimRepoPG) Get(ctx context.Context, id string) (*Claim, error) {
	return r.scanRow(r.pool.QueryRow(ctx, `SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
}
