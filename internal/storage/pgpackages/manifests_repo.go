package pgpackages

import (
	"context"
	"time"

	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type ManifestLinkResult struct {
	LinkedByTrackCode   int64
	LinkedByControlCode int64
}

// UpsertManifestAndLink — повторная загрузка того же manifest_id перезаписывает
// описательные поля и списки ключей; уже проставленные manifest_id на посылках
// не откатываются.
func (s *Storage) UpsertManifestAndLink(ctx context.Context, in models.ManifestInput) (*models.Manifest, ManifestLinkResult, error) {
	now := time.Now().UTC()
	var res ManifestLinkResult

	// nil-срез кодируется как NULL, а колонки массивов NOT NULL.
	trackCodes := in.TrackCodes
	if trackCodes == nil {
		trackCodes = []string{}
	}
	controlCodes := in.ControlCodes
	if controlCodes == nil {
		controlCodes = []string{}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO manifests (
  manifest_id, carrier, run_date, total_items, total_weight_kg,
  track_codes, control_codes, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (manifest_id)
DO UPDATE SET
  carrier = EXCLUDED.carrier,
  run_date = EXCLUDED.run_date,
  total_items = EXCLUDED.total_items,
  total_weight_kg = EXCLUDED.total_weight_kg,
  track_codes = EXCLUDED.track_codes,
  control_codes = EXCLUDED.control_codes,
  updated_at = EXCLUDED.updated_at
RETURNING id
`, in.ManifestID, in.Carrier, in.RunDate, in.TotalItems, in.TotalWeight,
		trackCodes, controlCodes, now).Scan(&id)
	if err != nil {
		return nil, res, errors.Wrap(err, "upsert manifest")
	}

	if len(in.TrackCodes) > 0 {
		tag, err := tx.Exec(ctx, `
UPDATE packages SET manifest_id = $1, updated_at = now()
WHERE track_code = ANY($2)
`, in.ManifestID, in.TrackCodes)
		if err != nil {
			return nil, res, errors.Wrap(err, "link by track code")
		}
		res.LinkedByTrackCode = tag.RowsAffected()
	}

	if len(in.ControlCodes) > 0 {
		tag, err := tx.Exec(ctx, `
UPDATE packages SET manifest_id = $1, updated_at = now()
WHERE control_code = ANY($2)
`, in.ManifestID, in.ControlCodes)
		if err != nil {
			return nil, res, errors.Wrap(err, "link by control code")
		}
		res.LinkedByControlCode = tag.RowsAffected()
	}

	m, err := s.scanManifest(tx.QueryRow(ctx, `
SELECT id, manifest_id, carrier, run_date, total_items, total_weight_kg,
       track_codes, control_codes, created_at, updated_at
FROM manifests WHERE id = $1
`, id))
	if err != nil {
		return nil, res, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, res, errors.Wrap(err, "commit tx")
	}
	return m, res, nil
}

func (s *Storage) GetManifest(ctx context.Context, manifestID string) (*models.Manifest, error) {
	m, err := s.scanManifest(s.db.QueryRow(ctx, `
SELECT id, manifest_id, carrier, run_date, total_items, total_weight_kg,
       track_codes, control_codes, created_at, updated_at
FROM manifests WHERE manifest_id = $1
`, manifestID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *Storage) scanManifest(row rowScanner) (*models.Manifest, error) {
	var m models.Manifest
	err := row.Scan(
		&m.ID, &m.ManifestID, &m.Carrier, &m.RunDate,
		&m.TotalItems, &m.TotalWeight,
		&m.TrackCodes, &m.ControlCodes,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan manifest")
	}
	return &m, nil
}
