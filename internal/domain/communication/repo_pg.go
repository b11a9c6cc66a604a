package communication

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type commRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &commRepoPG{pool: pool}
}

const commCols = `id, about_id, category, payload, status, received_at`

func (r *commRepoPG) Save(ctx context.Context, c *Communication) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO communication (id, about_id, category, payload, status, received_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()`,
		c.ID, c.AboutID, c.Category, c.Payload, c.Status, c.ReceivedAt)
	return err
}

func (r *commRepoPG) Get(ctx context.Context, id string) (*Communication, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+commCols+` FROM communication WHERE id = $1`, id)
	var c Communication
	err := row.Scan(&c.ID, &c.AboutID, &c.Category, &c.Payload, &c.Status, &c.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *commRepoPG) List(ctx context.Context, status Status) ([]*Communication, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+commCols+` FROM communication WHERE ($1 = '' OR status = $1) ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Communication
	for rows.Next() {
		var c Communication
		if err := rows.Scan(&c.ID, &c.AboutID, &c.Category, &c.Payload, &c.Status, &c.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
