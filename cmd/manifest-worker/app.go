package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/PartnerGate/internal/broker/messages"
	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/BearBump/PartnerGate/internal/services/reconcile"
	"github.com/pkg/errors"
)

type manifestConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// manifestWorker читает manifest.ingest и прогоняет каждый манифест через
// сервис. Транзиентная ошибка останавливает цикл без коммита: сообщение
// будет доставлено повторно, привязка идемпотентна. Невалидные сообщения
// (битый JSON, ошибка валидации) коммитятся и пропускаются.
type manifestWorker struct {
	svc      *reconcile.Service
	consumer manifestConsumer

	topic string
	group string

	totalProcessed   atomic.Int64
	totalMalformed   atomic.Int64
	totalErrors      atomic.Int64
	lastIngestedUnix atomic.Int64
}

func newManifestWorker(svc *reconcile.Service, consumer manifestConsumer, topic, group string) *manifestWorker {
	return &manifestWorker{svc: svc, consumer: consumer, topic: topic, group: group}
}

func (w *manifestWorker) Run(ctx context.Context) error {
	slog.Info("manifest worker started", "topic", w.topic, "group", w.group)
	return w.consumer.Consume(ctx, w.handle)
}

func (w *manifestWorker) handle(_key, value []byte) error {
	var m messages.ManifestIngest
	if err := json.Unmarshal(value, &m); err != nil {
		// Битый JSON ретраить бессмысленно — фиксируем и едем дальше.
		w.totalMalformed.Add(1)
		slog.Error("malformed manifest message", "err", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, res, err := w.svc.LinkManifest(ctx, models.ManifestInput{
		ManifestID:   m.ManifestID,
		Carrier:      m.Carrier,
		RunDate:      m.RunDate,
		TotalItems:   m.TotalItems,
		TotalWeight:  m.TotalWeight,
		TrackCodes:   m.TrackCodes,
		ControlCodes: m.ControlCodes,
	})
	if errors.Is(err, reconcile.ErrValidation) {
		// Невалидный манифест не станет валидным при повторной доставке;
		// ретраить — значит заклинить партицию на одном сообщении.
		w.totalMalformed.Add(1)
		slog.Error("invalid manifest message", "manifest_id", m.ManifestID, "err", err)
		return nil
	}
	if err != nil {
		w.totalErrors.Add(1)
		return err
	}

	w.totalProcessed.Add(1)
	w.lastIngestedUnix.Store(time.Now().UTC().UnixNano())
	slog.Info("manifest ingested",
		"manifest_id", m.ManifestID,
		"linked_by_track_code", res.LinkedByTrackCode,
		"linked_by_control_code", res.LinkedByControlCode)
	return nil
}

type workerStats struct {
	Topic          string     `json:"topic"`
	Group          string     `json:"group"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalMalformed int64      `json:"totalMalformed"`
	TotalErrors    int64      `json:"totalErrors"`
	LastIngestedAt *time.Time `json:"lastIngestedAt,omitempty"`
}

func (w *manifestWorker) Stats() workerStats {
	st := workerStats{
		Topic:          w.topic,
		Group:          w.group,
		TotalProcessed: w.totalProcessed.Load(),
		TotalMalformed: w.totalMalformed.Load(),
		TotalErrors:    w.totalErrors.Load(),
	}
	if n := w.lastIngestedUnix.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastIngestedAt = &t
	}
	return st
}
