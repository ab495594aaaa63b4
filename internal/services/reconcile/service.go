package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PartnerGate/internal/broker/messages"
	"github.com/BearBump/PartnerGate/internal/cache"
	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/BearBump/PartnerGate/internal/statusmap"
	"github.com/BearBump/PartnerGate/internal/storage/pgpackages"
	"github.com/BearBump/PartnerGate/internal/trackcode"
	"github.com/pkg/errors"
)

var ErrValidation = errors.New("validation failed")

type Repository interface {
	UpsertPackage(ctx context.Context, up pgpackages.PackageUpsert) (*models.Package, bool, error)
	ApplyStatus(ctx context.Context, upd pgpackages.StatusUpdate) (*models.Package, error)
	GetPackageByCode(ctx context.Context, trackCode string) (*models.Package, error)
	ListPackageHistory(ctx context.Context, trackCode string, limit, offset int) ([]*models.PackageHistoryEntry, error)
	UpsertManifestAndLink(ctx context.Context, in models.ManifestInput) (*models.Manifest, pgpackages.ManifestLinkResult, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]*models.Customer, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	producer Producer
	topic    string

	codePrefix string
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration, producer Producer, topic, codePrefix string) *Service {
	if codePrefix == "" {
		codePrefix = "TAS"
	}
	return &Service{
		repo:       repo,
		cache:      c,
		currentTTL: currentTTL,
		producer:   producer,
		topic:      topic,
		codePrefix: codePrefix,
	}
}

// Intake — идемпотентный upsert по track_code. Код либо приходит от партнёра
// (и обязан пройти контрольную сумму), либо генерируется; на конфликт
// сгенерированного кода — ровно одна перегенерация.
func (s *Service) Intake(ctx context.Context, in models.PackageIntakeInput) (*models.Package, error) {
	if in.CustomerCode == "" {
		return nil, errors.Wrap(ErrValidation, "externalCustomerCode is required")
	}

	generated := false
	if in.TrackCode == "" {
		in.TrackCode = trackcode.Generate(s.codePrefix, trackcode.ModeLong)
		generated = true
	} else if !trackcode.Validate(in.TrackCode) {
		return nil, errors.Wrap(ErrValidation, "trackingId is malformed")
	}

	up := pgpackages.PackageUpsert{
		Input:         in,
		InitialStatus: models.PackageStatusAtWarehouse,
		StatusRaw:     "0",
		StrictInsert:  generated,
	}

	p, _, err := s.repo.UpsertPackage(ctx, up)
	if generated && errors.Is(err, pgpackages.ErrDuplicateCode) {
		up.Input.TrackCode = trackcode.Generate(s.codePrefix, trackcode.ModeLong)
		p, _, err = s.repo.UpsertPackage(ctx, up)
	}
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, p)
	s.publish(ctx, p, "0", in.Note, nil)
	return p, nil
}

type BulkItemResult struct {
	TrackCode string `json:"trackingId,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type BulkResult struct {
	Results []BulkItemResult `json:"results"`
	OK      int              `json:"ok"`
	Failed  int              `json:"failed"`
}

// BulkIntake изолирует ошибки по элементам: одна битая строка не валит пачку.
func (s *Service) BulkIntake(ctx context.Context, items []models.PackageIntakeInput) (*BulkResult, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(ErrValidation, "items is empty")
	}
	if len(items) > 1000 {
		return nil, errors.Wrap(ErrValidation, "too many items (max 1000)")
	}

	out := &BulkResult{Results: make([]BulkItemResult, 0, len(items))}
	for _, it := range items {
		p, err := s.Intake(ctx, it)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, BulkItemResult{TrackCode: it.TrackCode, Error: err.Error()})
			continue
		}
		out.OK++
		out.Results = append(out.Results, BulkItemResult{TrackCode: p.TrackCode, OK: true})
	}
	return out, nil
}

// UpdateStatus принимает любой переход: партнёры шлют корректировки и события
// не по порядку, последняя закоммиченная запись и есть текущий статус.
func (s *Service) UpdateStatus(ctx context.Context, in models.PackageStatusInput) (*models.Package, error) {
	if in.TrackCode == "" {
		return nil, errors.Wrap(ErrValidation, "trackingId is required")
	}

	status := in.InternalStatus
	if status == "" {
		status = statusmap.ToInternal(in.ExternalCode)
	} else if !isKnownStatus(status) {
		return nil, errors.Wrap(ErrValidation, fmt.Sprintf("unknown status %q", status))
	}

	p, err := s.repo.ApplyStatus(ctx, pgpackages.StatusUpdate{
		TrackCode: in.TrackCode,
		Status:    status,
		StatusRaw: in.ExternalCode,
		Note:      in.Note,
		Location:  in.Location,
		MergeData: in.MergeData,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, p)
	s.publish(ctx, p, in.ExternalCode, in.Note, in.Location)
	return p, nil
}

// SoftDelete помечает посылку удалённой, строка остаётся.
// Идемпотентен: повторное удаление лишь добавляет запись истории.
func (s *Service) SoftDelete(ctx context.Context, trackCode string) (*models.Package, error) {
	if trackCode == "" {
		return nil, errors.Wrap(ErrValidation, "trackingId is required")
	}

	p, err := s.repo.ApplyStatus(ctx, pgpackages.StatusUpdate{
		TrackCode: trackCode,
		Status:    models.PackageStatusDeleted,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		type deleter interface {
			Del(ctx context.Context, key string) error
		}
		if d, ok := s.cache.(deleter); ok {
			_ = d.Del(ctx, currentKey(trackCode))
		}
	}
	s.publish(ctx, p, "", nil, nil)
	return p, nil
}

// LinkManifest — upsert дескриптора и привязка посылок по обоим спискам ключей.
// Несовпавшие ключи — норма (манифест часто едет раньше intake), только логируем.
func (s *Service) LinkManifest(ctx context.Context, in models.ManifestInput) (*models.Manifest, pgpackages.ManifestLinkResult, error) {
	if in.ManifestID == "" {
		return nil, pgpackages.ManifestLinkResult{}, errors.Wrap(ErrValidation, "manifestId is required")
	}

	m, res, err := s.repo.UpsertManifestAndLink(ctx, in)
	if err != nil {
		return nil, res, err
	}

	if unmatched := int64(len(in.TrackCodes)) - res.LinkedByTrackCode; unmatched > 0 {
		slog.Info("manifest link: unmatched track codes", "manifest_id", in.ManifestID, "unmatched", unmatched)
	}
	if unmatched := int64(len(in.ControlCodes)) - res.LinkedByControlCode; unmatched > 0 {
		slog.Info("manifest link: unmatched control codes", "manifest_id", in.ManifestID, "unmatched", unmatched)
	}
	return m, res, nil
}

func (s *Service) GetPackage(ctx context.Context, trackCode string) (*models.Package, error) {
	if trackCode == "" {
		return nil, errors.Wrap(ErrValidation, "trackingId is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(trackCode)); err == nil && ok {
			var p models.Package
			if json.Unmarshal(b, &p) == nil {
				return &p, nil
			}
		}
	}

	p, err := s.repo.GetPackageByCode(ctx, trackCode)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, p)
	return p, nil
}

func (s *Service) ListHistory(ctx context.Context, trackCode string, limit, offset int) ([]*models.PackageHistoryEntry, error) {
	if trackCode == "" {
		return nil, errors.Wrap(ErrValidation, "trackingId is required")
	}
	return s.repo.ListPackageHistory(ctx, trackCode, limit, offset)
}

func (s *Service) ListCustomers(ctx context.Context, limit, offset int) ([]*models.Customer, error) {
	return s.repo.ListCustomers(ctx, limit, offset)
}

func (s *Service) refreshCache(ctx context.Context, p *models.Package) {
	if s.cache == nil || s.currentTTL <= 0 || p == nil {
		return
	}
	b, _ := json.Marshal(p)
	_ = s.cache.Set(ctx, currentKey(p.TrackCode), b, s.currentTTL)
}

// publish — fire-and-forget: ошибка шины не валит уже закоммиченную запись.
func (s *Service) publish(ctx context.Context, p *models.Package, statusRaw string, note, location *string) {
	if s.producer == nil || s.topic == "" || p == nil {
		return
	}
	msg := messages.PackageUpdated{
		TrackCode:    p.TrackCode,
		CustomerCode: p.CustomerCode,
		Status:       p.Status,
		StatusRaw:    statusRaw,
		Note:         note,
		Location:     location,
		ManifestID:   p.ManifestID,
		At:           p.UpdatedAt,
	}
	b, _ := json.Marshal(msg)
	if err := s.producer.Publish(ctx, s.topic, []byte(p.TrackCode), b); err != nil {
		slog.Error("publish package.updated failed", "track_code", p.TrackCode, "err", err)
	}
}

func isKnownStatus(st string) bool {
	switch st {
	case models.PackageStatusUnknown,
		models.PackageStatusAtWarehouse,
		models.PackageStatusInTransit,
		models.PackageStatusAtLocalPort,
		models.PackageStatusDelivered,
		models.PackageStatusDeleted:
		return true
	}
	return false
}

func currentKey(trackCode string) string {
	return fmt.Sprintf("package:%s:current", trackCode)
}
