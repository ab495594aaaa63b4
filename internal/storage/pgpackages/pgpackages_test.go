package pgpackages

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "partnergate_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/partnergate_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strPtr(s string) *string { return &s }

func TestPGPackages_RepoFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UpsertCustomer(ctx, "C100", "Ivan Petrov")
	require.NoError(t, err)

	// Intake без резолвящегося владельца не создаёт посылку.
	_, _, err = st.UpsertPackage(ctx, PackageUpsert{
		Input:         models.PackageIntakeInput{TrackCode: "TAS-20250119-ABCDEF-X", CustomerCode: "MISSING"},
		InitialStatus: models.PackageStatusAtWarehouse,
	})
	require.ErrorIs(t, err, ErrCustomerNotFound)
	_, err = st.GetPackageByCode(ctx, "TAS-20250119-ABCDEF-X")
	require.ErrorIs(t, err, ErrNotFound)

	// Первый intake: иммутабельные поля + статус + одна запись истории.
	w := 2.5
	p, created, err := st.UpsertPackage(ctx, PackageUpsert{
		Input: models.PackageIntakeInput{
			TrackCode:    "TAS-20250119-ABCDEF-X",
			CustomerCode: "C100",
			WeightKg:     &w,
			ControlCode:  strPtr("CTRL-77"),
			Payload:      map[string]any{"a": "1"},
		},
		InitialStatus: models.PackageStatusAtWarehouse,
		StatusRaw:     "0",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.PackageStatusAtWarehouse, p.Status)
	require.Equal(t, "C100", p.CustomerCode)

	hist, err := st.ListPackageHistory(ctx, p.TrackCode, 0, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// Повторная доставка того же события: иммутабельные поля не трогаются,
	// история растёт ровно на одну запись.
	shipper := "ACME"
	p2, created, err := st.UpsertPackage(ctx, PackageUpsert{
		Input: models.PackageIntakeInput{
			TrackCode:    "TAS-20250119-ABCDEF-X",
			CustomerCode: "C100",
			Shipper:      &shipper,
			Payload:      map[string]any{"b": "2"},
		},
		InitialStatus: models.PackageStatusAtWarehouse,
		StatusRaw:     "0",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, p.ID, p2.ID)
	require.Equal(t, p.CreatedAt, p2.CreatedAt)
	require.Equal(t, &w, p2.WeightKg) // не перетёрто nil-ом
	require.Equal(t, &shipper, p2.Shipper)
	// payload мержится по ключам, не заменяется.
	require.Equal(t, "1", p2.IntegrationPayload["a"])
	require.Equal(t, "2", p2.IntegrationPayload["b"])

	hist, err = st.ListPackageHistory(ctx, p.TrackCode, 0, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)

	// StrictInsert по занятому коду -> ErrDuplicateCode.
	_, _, err = st.UpsertPackage(ctx, PackageUpsert{
		Input:         models.PackageIntakeInput{TrackCode: "TAS-20250119-ABCDEF-X", CustomerCode: "C100"},
		InitialStatus: models.PackageStatusAtWarehouse,
		StrictInsert:  true,
	})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestPGPackages_ApplyStatusAndSoftDelete(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UpsertCustomer(ctx, "C100", "Ivan Petrov")
	require.NoError(t, err)

	_, _, err = st.UpsertPackage(ctx, PackageUpsert{
		Input:         models.PackageIntakeInput{TrackCode: "TAS-20250119-QWERTY-A", CustomerCode: "C100", Payload: map[string]any{"a": "1"}},
		InitialStatus: models.PackageStatusAtWarehouse,
		StatusRaw:     "0",
	})
	require.NoError(t, err)

	_, err = st.ApplyStatus(ctx, StatusUpdate{TrackCode: "NOPE", Status: models.PackageStatusInTransit})
	require.ErrorIs(t, err, ErrNotFound)

	p, err := st.ApplyStatus(ctx, StatusUpdate{
		TrackCode: "TAS-20250119-QWERTY-A",
		Status:    models.PackageStatusAtLocalPort,
		StatusRaw: "3",
		Location:  strPtr("MIA"),
		MergeData: map[string]any{"bay": "B-14"},
	})
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusAtLocalPort, p.Status)
	require.Equal(t, "1", p.IntegrationPayload["a"])
	require.Equal(t, "B-14", p.IntegrationPayload["bay"])

	// Переходы назад не блокируются: партнёры шлют корректировки.
	p, err = st.ApplyStatus(ctx, StatusUpdate{
		TrackCode: "TAS-20250119-QWERTY-A",
		Status:    models.PackageStatusInTransit,
		StatusRaw: "1",
	})
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusInTransit, p.Status)

	// Soft delete: строка остаётся, история растёт.
	p, err = st.ApplyStatus(ctx, StatusUpdate{
		TrackCode: "TAS-20250119-QWERTY-A",
		Status:    models.PackageStatusDeleted,
	})
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusDeleted, p.Status)

	got, err := st.GetPackageByCode(ctx, "TAS-20250119-QWERTY-A")
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusDeleted, got.Status)

	hist, err := st.ListPackageHistory(ctx, "TAS-20250119-QWERTY-A", 0, 0)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	// Порядок — порядок коммитов.
	require.Equal(t, models.PackageStatusAtWarehouse, hist[0].Status)
	require.Equal(t, models.PackageStatusAtLocalPort, hist[1].Status)
	require.Equal(t, "3", hist[1].StatusRaw)
	require.Equal(t, models.PackageStatusInTransit, hist[2].Status)
	require.Equal(t, models.PackageStatusDeleted, hist[3].Status)
}

func TestPGPackages_ConcurrentUpdatesHistoryGrowsByN(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UpsertCustomer(ctx, "C100", "Ivan Petrov")
	require.NoError(t, err)

	const code = "TAS-20250119-ZZZZZZ-R"
	_, _, err = st.UpsertPackage(ctx, PackageUpsert{
		Input:         models.PackageIntakeInput{TrackCode: code, CustomerCode: "C100"},
		InitialStatus: models.PackageStatusAtWarehouse,
		StatusRaw:     "0",
	})
	require.NoError(t, err)

	// N конкурентных писателей по одному track_code: половина шлёт статусы,
	// половина повторно доставляет intake. Порядок коммитов произвольный,
	// но история растёт ровно на N.
	const n = 24
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := st.ApplyStatus(ctx, StatusUpdate{
					TrackCode: code,
					Status:    models.PackageStatusInTransit,
					StatusRaw: "1",
				})
				errs <- err
				return
			}
			_, _, err := st.UpsertPackage(ctx, PackageUpsert{
				Input:         models.PackageIntakeInput{TrackCode: code, CustomerCode: "C100"},
				InitialStatus: models.PackageStatusAtWarehouse,
				StatusRaw:     "0",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hist, err := st.ListPackageHistory(ctx, code, 500, 0)
	require.NoError(t, err)
	require.Len(t, hist, n+1)
}

func TestPGPackages_ManifestLink(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.UpsertCustomer(ctx, "C100", "Ivan Petrov")
	require.NoError(t, err)

	for _, in := range []models.PackageIntakeInput{
		{TrackCode: "TAS-20250119-AAAAAA-B", CustomerCode: "C100"},
		{TrackCode: "TAS-20250119-BBBBBB-C", CustomerCode: "C100", ControlCode: strPtr("CTRL-9")},
	} {
		_, _, err = st.UpsertPackage(ctx, PackageUpsert{Input: in, InitialStatus: models.PackageStatusAtWarehouse})
		require.NoError(t, err)
	}

	m, res, err := st.UpsertManifestAndLink(ctx, models.ManifestInput{
		ManifestID:   "M-001",
		Carrier:      "AVIA-7",
		TotalItems:   2,
		TrackCodes:   []string{"TAS-20250119-AAAAAA-B", "TAS-20250119-MISSING-D"},
		ControlCodes: []string{"CTRL-9"},
	})
	require.NoError(t, err)
	require.Equal(t, "M-001", m.ManifestID)
	require.Equal(t, int64(1), res.LinkedByTrackCode) // несовпавший ключ — не ошибка
	require.Equal(t, int64(1), res.LinkedByControlCode)

	p, err := st.GetPackageByCode(ctx, "TAS-20250119-AAAAAA-B")
	require.NoError(t, err)
	require.NotNil(t, p.ManifestID)
	require.Equal(t, "M-001", *p.ManifestID)

	// Повторная загрузка перезаписывает дескриптор, но не снимает привязку.
	m, res, err = st.UpsertManifestAndLink(ctx, models.ManifestInput{
		ManifestID: "M-001",
		Carrier:    "AVIA-8",
	})
	require.NoError(t, err)
	require.Equal(t, "AVIA-8", m.Carrier)
	require.Zero(t, res.LinkedByTrackCode)

	p, err = st.GetPackageByCode(ctx, "TAS-20250119-AAAAAA-B")
	require.NoError(t, err)
	require.NotNil(t, p.ManifestID)
	require.Equal(t, "M-001", *p.ManifestID)

	got, err := st.GetManifest(ctx, "M-001")
	require.NoError(t, err)
	require.Equal(t, "AVIA-8", got.Carrier)
}

func TestPGPackages_PartnerKeys(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, st.CreatePartnerKey(ctx, "k-1", "acme-freight", "write"))

	k, err := st.GetPartnerKey(ctx, "k-1")
	require.NoError(t, err)
	require.NotNil(t, k)
	require.Equal(t, "acme-freight", k.Label)
	require.True(t, k.Active)
	require.Zero(t, k.UseCount)

	require.NoError(t, st.BumpPartnerKeyUsage(ctx, "k-1"))
	k, err = st.GetPartnerKey(ctx, "k-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), k.UseCount)
	require.NotNil(t, k.LastUsedAt)

	missing, err := st.GetPartnerKey(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}
