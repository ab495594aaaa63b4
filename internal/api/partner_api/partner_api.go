package partner_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/PartnerGate/internal/auth"
	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/BearBump/PartnerGate/internal/ratelimit"
	"github.com/BearBump/PartnerGate/internal/services/reconcile"
	"github.com/BearBump/PartnerGate/internal/statusmap"
	"github.com/BearBump/PartnerGate/internal/storage/pgpackages"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type PartnerAPI struct {
	svc     *reconcile.Service
	auth    *auth.Authenticator
	limiter ratelimit.Limiter
	rlCfg   ratelimit.Config
}

func New(svc *reconcile.Service, a *auth.Authenticator, limiter ratelimit.Limiter, rlCfg ratelimit.Config) *PartnerAPI {
	return &PartnerAPI{svc: svc, auth: a, limiter: limiter, rlCfg: rlCfg}
}

func (a *PartnerAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/packages", a.handleIntake)
	r.Post("/packages/bulk", a.handleBulkIntake)
	r.Post("/packages/status", a.handleStatus)
	r.Post("/packages/delete", a.handleDelete)
	r.Post("/manifests", a.handleManifest)
	r.Get("/packages/{trackCode}", a.handleGetPackage)
	r.Get("/packages/{trackCode}/history", a.handleHistory)
	r.Get("/customers", a.handleCustomers)
	return r
}

type intakeRequest struct {
	TrackingID           string         `json:"trackingId"`
	ExternalCustomerCode string         `json:"externalCustomerCode"`
	Branch               *string        `json:"branch"`
	WeightKg             *float64       `json:"weightKg"`
	Shipper              *string        `json:"shipper"`
	Description          *string        `json:"description"`
	LengthCm             *float64       `json:"lengthCm"`
	WidthCm              *float64       `json:"widthCm"`
	HeightCm             *float64       `json:"heightCm"`
	ControlCode          *string        `json:"controlCode"`
	ServiceType          string         `json:"serviceType"`
	Note                 *string        `json:"note"`
	IntegrationPayload   map[string]any `json:"integrationPayload"`
}

func (in intakeRequest) toInput() models.PackageIntakeInput {
	return models.PackageIntakeInput{
		TrackCode:    in.TrackingID,
		CustomerCode: in.ExternalCustomerCode,
		Branch:       in.Branch,
		WeightKg:     in.WeightKg,
		Shipper:      in.Shipper,
		Description:  in.Description,
		LengthCm:     in.LengthCm,
		WidthCm:      in.WidthCm,
		HeightCm:     in.HeightCm,
		ControlCode:  in.ControlCode,
		Note:         in.Note,
		Payload:      in.IntegrationPayload,
	}
}

type packageResponse struct {
	TrackingID           string         `json:"trackingId"`
	ExternalCustomerCode string         `json:"externalCustomerCode"`
	Status               string         `json:"status"`
	Branch               *string        `json:"branch,omitempty"`
	WeightKg             *float64       `json:"weightKg,omitempty"`
	Shipper              *string        `json:"shipper,omitempty"`
	Description          *string        `json:"description,omitempty"`
	LengthCm             *float64       `json:"lengthCm,omitempty"`
	WidthCm              *float64       `json:"widthCm,omitempty"`
	HeightCm             *float64       `json:"heightCm,omitempty"`
	ControlCode          *string        `json:"controlCode,omitempty"`
	ManifestID           *string        `json:"manifestId,omitempty"`
	ServiceTier          string         `json:"serviceTier,omitempty"`
	IntegrationPayload   map[string]any `json:"integrationPayload,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

func toPackageResponse(p *models.Package) packageResponse {
	return packageResponse{
		TrackingID:           p.TrackCode,
		ExternalCustomerCode: p.CustomerCode,
		Status:               p.Status,
		Branch:               p.Branch,
		WeightKg:             p.WeightKg,
		Shipper:              p.Shipper,
		Description:          p.Description,
		LengthCm:             p.LengthCm,
		WidthCm:              p.WidthCm,
		HeightCm:             p.HeightCm,
		ControlCode:          p.ControlCode,
		ManifestID:           p.ManifestID,
		IntegrationPayload:   p.IntegrationPayload,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func (a *PartnerAPI) handleIntake(w http.ResponseWriter, r *http.Request) {
	raw, bodyMap, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if !a.admit(w, r, bodyMap, auth.WriteExtractors(), auth.PermissionWrite) {
		return
	}

	var req intakeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "malformed json"))
		return
	}

	p, err := a.svc.Intake(r.Context(), req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := toPackageResponse(p)
	if req.ServiceType != "" {
		resp.ServiceTier = statusmap.ServiceTier(req.ServiceType)
	}
	writeJSON(w, http.StatusOK, resp)
}

type bulkIntakeRequest struct {
	Items []intakeRequest `json:"items"`
}

func (a *PartnerAPI) handleBulkIntake(w http.ResponseWriter, r *http.Request) {
	raw, bodyMap, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if !a.admit(w, r, bodyMap, auth.WriteExtractors(), auth.PermissionWrite) {
		return
	}

	var req bulkIntakeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "malformed json"))
		return
	}

	items := make([]models.PackageIntakeInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.toInput())
	}

	res, err := a.svc.BulkIntake(r.Context(), items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	TrackingID         string         `json:"trackingId"`
	ExternalStatusCode string         `json:"externalStatusCode"`
	Status             string         `json:"status"`
	Note               *string        `json:"note"`
	Location           *string        `json:"location"`
	MergeData          map[string]any `json:"mergeData"`
}

type statusResponse struct {
	TrackingID         string    `json:"trackingId"`
	ExternalStatusCode string    `json:"externalStatusCode,omitempty"`
	Status             string    `json:"status"`
	DisplayLabel       string    `json:"displayLabel,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (a *PartnerAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	raw, bodyMap, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if !a.admit(w, r, bodyMap, auth.WriteExtractors(), auth.PermissionWrite) {
		return
	}

	var req statusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "malformed json"))
		return
	}

	p, err := a.svc.UpdateStatus(r.Context(), models.PackageStatusInput{
		TrackCode:      req.TrackingID,
		ExternalCode:   req.ExternalStatusCode,
		InternalStatus: req.Status,
		Note:           req.Note,
		Location:       req.Location,
		MergeData:      req.MergeData,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		TrackingID:         p.TrackCode,
		ExternalStatusCode: req.ExternalStatusCode,
		Status:             p.Status,
		UpdatedAt:          p.UpdatedAt,
	}
	if req.ExternalStatusCode != "" {
		resp.DisplayLabel = statusmap.DisplayLabel(req.ExternalStatusCode)
	}
	writeJSON(w, http.StatusOK, resp)
}

type deleteRequest struct {
	TrackingID string `json:"trackingId"`
}

func (a *PartnerAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	raw, bodyMap, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if !a.admit(w, r, bodyMap, auth.WriteExtractors(), auth.PermissionWrite) {
		return
	}

	var req deleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "malformed json"))
		return
	}

	p, err := a.svc.SoftDelete(r.Context(), req.TrackingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(p))
}

type manifestRequest struct {
	ManifestID    string     `json:"manifestId"`
	Carrier       string     `json:"carrier"`
	RunDate       *time.Time `json:"runDate"`
	TotalItems    int32      `json:"totalItems"`
	TotalWeightKg float64    `json:"totalWeightKg"`
	TrackingIDs   []string   `json:"trackingIds"`
	ControlCodes  []string   `json:"controlCodes"`
}

type manifestResponse struct {
	ManifestID          string `json:"manifestId"`
	LinkedByTrackingID  int64  `json:"linkedByTrackingId"`
	LinkedByControlCode int64  `json:"linkedByControlCode"`
}

func (a *PartnerAPI) handleManifest(w http.ResponseWriter, r *http.Request) {
	raw, bodyMap, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if !a.admit(w, r, bodyMap, auth.WriteExtractors(), auth.PermissionWrite) {
		return
	}

	var req manifestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "malformed json"))
		return
	}

	m, res, err := a.svc.LinkManifest(r.Context(), models.ManifestInput{
		ManifestID:   req.ManifestID,
		Carrier:      req.Carrier,
		RunDate:      req.RunDate,
		TotalItems:   req.TotalItems,
		TotalWeight:  req.TotalWeightKg,
		TrackCodes:   req.TrackingIDs,
		ControlCodes: req.ControlCodes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Намеренно только счётчики: синхронный список посылок потребителю не нужен.
	writeJSON(w, http.StatusOK, manifestResponse{
		ManifestID:          m.ManifestID,
		LinkedByTrackingID:  res.LinkedByTrackCode,
		LinkedByControlCode: res.LinkedByControlCode,
	})
}

func (a *PartnerAPI) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	if !a.admit(w, r, nil, auth.ReadExtractors(), auth.PermissionRead) {
		return
	}

	code := chi.URLParam(r, "trackCode")
	p, err := a.svc.GetPackage(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(p))
}

type historyEntryResponse struct {
	Status    string    `json:"status"`
	StatusRaw string    `json:"statusRaw,omitempty"`
	Note      *string   `json:"note,omitempty"`
	Location  *string   `json:"location,omitempty"`
	At        time.Time `json:"at"`
}

func (a *PartnerAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !a.admit(w, r, nil, auth.ReadExtractors(), auth.PermissionRead) {
		return
	}

	code := chi.URLParam(r, "trackCode")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := a.svc.ListHistory(r.Context(), code, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			Status:    e.Status,
			StatusRaw: e.StatusRaw,
			Note:      e.Note,
			Location:  e.Location,
			At:        e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackingId": code, "history": out})
}

type customerResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (a *PartnerAPI) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if !a.admit(w, r, nil, auth.ReadExtractors(), auth.PermissionRead) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	customers, err := a.svc.ListCustomers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, customerResponse{Code: c.Code, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": out})
}

// readBody читает тело один раз: map нужен аутентификатору (токен в теле),
// сырые байты — типизированному декодеру.
func (a *PartnerAPI) readBody(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, errors.Wrap(reconcile.ErrValidation, "read body"))
		return nil, nil, false
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m) // не-объект в теле ловит типизированный декодер
	return raw, m, true
}

// admit: аутентификация, проверка уровня доступа, затем rate limit.
// Только эти шаги могут оборвать запрос до движка.
func (a *PartnerAPI) admit(w http.ResponseWriter, r *http.Request, bodyMap map[string]any, extractors []auth.CredentialExtractor, required string) bool {
	id, err := a.auth.Authenticate(r.Context(), r, bodyMap, extractors)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return false
	}

	// read-ключи выдаются для пулинга справочников; писать ими нельзя.
	if required == auth.PermissionWrite && id.Permission != auth.PermissionWrite {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "write permission required"})
		return false
	}

	if a.limiter != nil {
		d, err := a.limiter.Check(r.Context(), id.Name, a.rlCfg)
		if err != nil {
			// Лимитер недоступен — пропускаем: мягкий лимит не должен
			// ронять интеграцию.
			slog.Warn("rate limiter check failed", "identity", id.Name, "err", err)
		} else if !d.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "rate limited",
				"retryAfterSeconds": d.RetryAfterSeconds,
			})
			return false
		}
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, pgpackages.ErrCustomerNotFound), errors.Is(err, pgpackages.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, pgpackages.ErrDuplicateCode):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage timeout"})
	default:
		slog.Error("partner api internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
