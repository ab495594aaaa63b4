package messages

import "time"

// PackageUpdated рассылается после каждой успешной записи —
// fire-and-forget для нотификаций и витрин.
type PackageUpdated struct {
	TrackCode    string    `json:"track_code"`
	CustomerCode string    `json:"customer_code"`
	Status       string    `json:"status"`
	StatusRaw    string    `json:"status_raw,omitempty"`
	Note         *string   `json:"note,omitempty"`
	Location     *string   `json:"location,omitempty"`
	ManifestID   *string   `json:"manifest_id,omitempty"`
	At           time.Time `json:"at"`
}
