package models

import "time"

// Нормализованные статусы посылки (можно расширять).
const (
	PackageStatusUnknown     = "UNKNOWN"
	PackageStatusAtWarehouse = "AT_WAREHOUSE"
	PackageStatusInTransit   = "IN_TRANSIT"
	PackageStatusAtLocalPort = "AT_LOCAL_PORT"
	PackageStatusDelivered   = "DELIVERED"
	PackageStatusDeleted     = "DELETED"
)

type Package struct {
	ID           uint64
	TrackCode    string
	CustomerCode string
	Status       string

	Branch      *string
	WeightKg    *float64
	Shipper     *string
	Description *string
	LengthCm    *float64
	WidthCm     *float64
	HeightCm    *float64

	// Вторичный ключ привязки к манифесту (контрольный код партнёра).
	ControlCode *string

	ManifestID *string

	// Партнёрские поля без своей колонки; при обновлении мержится по ключам.
	IntegrationPayload map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

type PackageHistoryEntry struct {
	ID        uint64
	PackageID uint64
	Status    string
	StatusRaw string
	Note      *string
	Location  *string
	CreatedAt time.Time
}

type PackageIntakeInput struct {
	TrackCode    string
	CustomerCode string

	Branch      *string
	WeightKg    *float64
	Shipper     *string
	Description *string
	LengthCm    *float64
	WidthCm     *float64
	HeightCm    *float64
	ControlCode *string

	Note    *string
	Payload map[string]any
}

type PackageStatusInput struct {
	TrackCode string

	// Либо внешний код партнёра, либо готовый внутренний статус.
	ExternalCode   string
	InternalStatus string

	Note      *string
	Location  *string
	MergeData map[string]any
}

type Manifest struct {
	ID           uint64
	ManifestID   string
	Carrier      string
	RunDate      *time.Time
	TotalItems   int32
	TotalWeight  float64
	TrackCodes   []string
	ControlCodes []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ManifestInput struct {
	ManifestID   string
	Carrier      string
	RunDate      *time.Time
	TotalItems   int32
	TotalWeight  float64
	TrackCodes   []string
	ControlCodes []string
}

type Customer struct {
	ID        uint64
	Code      string
	Name      string
	CreatedAt time.Time
}

type PartnerKey struct {
	ID         uint64
	Key        string
	Label      string
	Permission string
	Active     bool
	ExpiresAt  *time.Time
	UseCount   int64
	LastUsedAt *time.Time
	CreatedAt  time.Time
}
