package messages

import "time"

// ManifestIngest — манифест, приехавший через шину вместо HTTP.
// Партнёры, выгружающие рейсы пачками, шлют сюда.
type ManifestIngest struct {
	ManifestID   string     `json:"manifest_id"`
	Carrier      string     `json:"carrier,omitempty"`
	RunDate      *time.Time `json:"run_date,omitempty"`
	TotalItems   int32      `json:"total_items,omitempty"`
	TotalWeight  float64    `json:"total_weight_kg,omitempty"`
	TrackCodes   []string   `json:"track_codes,omitempty"`
	ControlCodes []string   `json:"control_codes,omitempty"`
}
