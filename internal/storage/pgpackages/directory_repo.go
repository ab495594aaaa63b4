package pgpackages

import (
	"context"

	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetCustomerByCode(ctx context.Context, code string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
SELECT id, code, name, created_at FROM customers WHERE code = $1
`, code).Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select customer")
	}
	return &c, nil
}

func (s *Storage) UpsertCustomer(ctx context.Context, code, name string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
INSERT INTO customers (code, name)
VALUES ($1,$2)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
RETURNING id, code, name, created_at
`, code, name).Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert customer")
	}
	return &c, nil
}

func (s *Storage) ListCustomers(ctx context.Context, limit, offset int) ([]*models.Customer, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, code, name, created_at FROM customers ORDER BY code LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select customers")
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan customer")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetPartnerKey(ctx context.Context, key string) (*models.PartnerKey, error) {
	var k models.PartnerKey
	err := s.db.QueryRow(ctx, `
SELECT id, key, label, permission, active, expires_at, use_count, last_used_at, created_at
FROM partner_keys WHERE key = $1
`, key).Scan(&k.ID, &k.Key, &k.Label, &k.Permission, &k.Active, &k.ExpiresAt, &k.UseCount, &k.LastUsedAt, &k.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select partner key")
	}
	return &k, nil
}

func (s *Storage) CreatePartnerKey(ctx context.Context, key, label, permission string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO partner_keys (key, label, permission) VALUES ($1,$2,$3)
ON CONFLICT (key) DO NOTHING
`, key, label, permission)
	return errors.Wrap(err, "insert partner key")
}

func (s *Storage) BumpPartnerKeyUsage(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `
UPDATE partner_keys SET use_count = use_count + 1, last_used_at = now() WHERE key = $1
`, key)
	return errors.Wrap(err, "bump partner key")
}
