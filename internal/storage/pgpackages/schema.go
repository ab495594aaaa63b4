package pgpackages

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS customers (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  track_code TEXT NOT NULL UNIQUE,
  customer_code TEXT NOT NULL REFERENCES customers(code),
  status TEXT NOT NULL,
  branch TEXT NULL,
  weight_kg DOUBLE PRECISION NULL,
  shipper TEXT NULL,
  description TEXT NULL,
  length_cm DOUBLE PRECISION NULL,
  width_cm DOUBLE PRECISION NULL,
  height_cm DOUBLE PRECISION NULL,
  control_code TEXT NULL,
  manifest_id TEXT NULL,
  integration_payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_customer_code ON packages(customer_code)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_control_code ON packages(control_code)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_manifest_id ON packages(manifest_id)`,
		`
CREATE TABLE IF NOT EXISTS package_history (
  id BIGSERIAL PRIMARY KEY,
  package_id BIGINT NOT NULL REFERENCES packages(id),
  status TEXT NOT NULL,
  status_raw TEXT NOT NULL DEFAULT '',
  note TEXT NULL,
  location TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_package_history_package_id ON package_history(package_id, id)`,
		`
CREATE TABLE IF NOT EXISTS manifests (
  id BIGSERIAL PRIMARY KEY,
  manifest_id TEXT NOT NULL UNIQUE,
  carrier TEXT NOT NULL DEFAULT '',
  run_date TIMESTAMPTZ NULL,
  total_items INT NOT NULL DEFAULT 0,
  total_weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
  track_codes TEXT[] NOT NULL DEFAULT '{}',
  control_codes TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS partner_keys (
  id BIGSERIAL PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  label TEXT NOT NULL,
  permission TEXT NOT NULL DEFAULT 'write',
  active BOOLEAN NOT NULL DEFAULT true,
  expires_at TIMESTAMPTZ NULL,
  use_count BIGINT NOT NULL DEFAULT 0,
  last_used_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
