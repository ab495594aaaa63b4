package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	partnerapi "github.com/BearBump/PartnerGate/internal/api/partner_api"
	"github.com/BearBump/PartnerGate/internal/broker/messages"
	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/BearBump/PartnerGate/internal/services/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type partnerAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPartnerAPI(ctx context.Context, opts partnerAPIOpts, api *partnerapi.PartnerAPI, svc *reconcile.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	r.Mount("/v1", api.Routes())

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	// Манифесты приезжают и через шину: партнёры, выгружающие рейсы
	// пачками, минуют HTTP. Невалидные сообщения коммитятся и пропускаются,
	// на транзиентной ошибке цикл перезапускается — HTTP живёт дольше
	// одного битого сообщения.
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		for {
			err := consumer.Consume(ctx, func(_key, value []byte) error {
				var m messages.ManifestIngest
				if err := json.Unmarshal(value, &m); err != nil {
					slog.Error("malformed manifest message", "err", err)
					return nil
				}
				_, _, err := svc.LinkManifest(ctx, models.ManifestInput{
					ManifestID:   m.ManifestID,
					Carrier:      m.Carrier,
					RunDate:      m.RunDate,
					TotalItems:   m.TotalItems,
					TotalWeight:  m.TotalWeight,
					TrackCodes:   m.TrackCodes,
					ControlCodes: m.ControlCodes,
				})
				if errors.Is(err, reconcile.ErrValidation) {
					slog.Error("invalid manifest message", "manifest_id", m.ManifestID, "err", err)
					return nil
				}
				return err
			})
			if ctx.Err() != nil {
				return
			}
			slog.Error("manifest consume loop failed, restarting", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	httpErr := make(chan error, 1)
	go func() { httpErr <- srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
