package pgpackages

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type PackageUpsert struct {
	Input         models.PackageIntakeInput
	InitialStatus string
	StatusRaw     string

	// StrictInsert для сгенерированных кодов: конфликт по track_code должен
	// всплыть как ErrDuplicateCode, а не молча обновить чужую посылку.
	StrictInsert bool
}

type StatusUpdate struct {
	TrackCode string
	Status    string
	StatusRaw string
	Note      *string
	Location  *string
	MergeData map[string]any
}

const packageColumns = `
  id, track_code, customer_code, status,
  branch, weight_kg, shipper, description,
  length_cm, width_cm, height_cm,
  control_code, manifest_id, integration_payload,
  created_at, updated_at`

// UpsertPackage — единственная обязательная транзакция: резолв владельца,
// upsert по track_code и ровно одна запись истории атомарно.
func (s *Storage) UpsertPackage(ctx context.Context, up PackageUpsert) (*models.Package, bool, error) {
	now := time.Now().UTC()
	in := up.Input

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM customers WHERE code = $1`, in.CustomerCode).Scan(&one)
	if err == pgx.ErrNoRows {
		return nil, false, ErrCustomerNotFound
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select customer")
	}

	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return nil, false, err
	}

	var id uint64
	created := true
	if up.StrictInsert {
		err = tx.QueryRow(ctx, `
INSERT INTO packages (
  track_code, customer_code, status,
  branch, weight_kg, shipper, description,
  length_cm, width_cm, height_cm, control_code,
  integration_payload, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
RETURNING id
`, in.TrackCode, in.CustomerCode, up.InitialStatus,
			in.Branch, in.WeightKg, in.Shipper, in.Description,
			in.LengthCm, in.WidthCm, in.HeightCm, in.ControlCode,
			payload, now).Scan(&id)
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicateCode
		}
		if err != nil {
			return nil, false, errors.Wrap(err, "insert package")
		}
	} else {
		// При повторной доставке того же события обновляются только mutable-поля;
		// track_code, владелец и created_at не трогаются.
		err = tx.QueryRow(ctx, `
INSERT INTO packages (
  track_code, customer_code, status,
  branch, weight_kg, shipper, description,
  length_cm, width_cm, height_cm, control_code,
  integration_payload, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (track_code)
DO UPDATE SET
  status = EXCLUDED.status,
  branch = COALESCE(EXCLUDED.branch, packages.branch),
  weight_kg = COALESCE(EXCLUDED.weight_kg, packages.weight_kg),
  shipper = COALESCE(EXCLUDED.shipper, packages.shipper),
  description = COALESCE(EXCLUDED.description, packages.description),
  length_cm = COALESCE(EXCLUDED.length_cm, packages.length_cm),
  width_cm = COALESCE(EXCLUDED.width_cm, packages.width_cm),
  height_cm = COALESCE(EXCLUDED.height_cm, packages.height_cm),
  control_code = COALESCE(EXCLUDED.control_code, packages.control_code),
  integration_payload = packages.integration_payload || EXCLUDED.integration_payload,
  updated_at = EXCLUDED.updated_at
RETURNING id, (xmax = 0) AS created
`, in.TrackCode, in.CustomerCode, up.InitialStatus,
			in.Branch, in.WeightKg, in.Shipper, in.Description,
			in.LengthCm, in.WidthCm, in.HeightCm, in.ControlCode,
			payload, now).Scan(&id, &created)
		if err != nil {
			return nil, false, errors.Wrap(err, "upsert package")
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO package_history (package_id, status, status_raw, note)
VALUES ($1,$2,$3,$4)
`, id, up.InitialStatus, up.StatusRaw, in.Note)
	if err != nil {
		return nil, false, errors.Wrap(err, "insert history")
	}

	p, err := scanPackage(tx.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}
	return p, created, nil
}

// ApplyStatus переводит посылку в новый статус с key-wise мержем payload
// и ровно одной записью истории. Таблицы переходов нет намеренно:
// партнёры шлют корректировки и события не по порядку.
func (s *Storage) ApplyStatus(ctx context.Context, upd StatusUpdate) (*models.Package, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `SELECT id FROM packages WHERE track_code = $1 FOR UPDATE`, upd.TrackCode).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}

	merge, err := marshalPayload(upd.MergeData)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
UPDATE packages
SET
  status = $2,
  integration_payload = integration_payload || $3::jsonb,
  updated_at = now()
WHERE id = $1
`, id, upd.Status, merge)
	if err != nil {
		return nil, errors.Wrap(err, "update package")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO package_history (package_id, status, status_raw, note, location)
VALUES ($1,$2,$3,$4,$5)
`, id, upd.Status, upd.StatusRaw, upd.Note, upd.Location)
	if err != nil {
		return nil, errors.Wrap(err, "insert history")
	}

	p, err := scanPackage(tx.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return p, nil
}

func (s *Storage) GetPackageByCode(ctx context.Context, trackCode string) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE track_code = $1`, trackCode))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Storage) ListPackageHistory(ctx context.Context, trackCode string, limit, offset int) ([]*models.PackageHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT h.id, h.package_id, h.status, h.status_raw, h.note, h.location, h.created_at
FROM package_history h
JOIN packages p ON p.id = h.package_id
WHERE p.track_code = $1
ORDER BY h.id ASC
LIMIT $2 OFFSET $3
`, trackCode, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.PackageHistoryEntry
	for rows.Next() {
		var e models.PackageHistoryEntry
		if err := rows.Scan(&e.ID, &e.PackageID, &e.Status, &e.StatusRaw, &e.Note, &e.Location, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var p models.Package
	var payload []byte
	err := row.Scan(
		&p.ID, &p.TrackCode, &p.CustomerCode, &p.Status,
		&p.Branch, &p.WeightKg, &p.Shipper, &p.Description,
		&p.LengthCm, &p.WidthCm, &p.HeightCm,
		&p.ControlCode, &p.ManifestID, &payload,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan package")
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &p.IntegrationPayload)
	}
	return &p, nil
}

func marshalPayload(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
