package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	"github.com/aed-compliance/platform/internal/cache"
	"github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/geo"
	"github.com/aed-compliance/platform/internal/institution"
	"github.com/aed-compliance/platform/internal/privacy"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/metrics"
)

const (
	defaultRadiusKm = 1.0
	maxRadiusKm     = 50.0
	nearbyLimit     = 100
	matchLimit      = 20
	statsCacheName  = "equipment_stats"
)

// AuditLogger records equipment exports.
type AuditLogger interface {
	Log(ctx context.Context, action, resourceType, resourceID string, details map[string]any) error
}

// Options tunes the handler.
type Options struct {
	LeadDays int           // expiry warning window
	StatsTTL time.Duration // zero uses the cache default
	Now      func() time.Time
}

// Handler provides HTTP handlers for the equipment module
type Handler struct {
	repo  domain.Repository
	cache cache.Cache
	audit AuditLogger
	opts  Options
}

// NewHandler creates a new equipment handler
func NewHandler(repo domain.Repository, c cache.Cache, audit AuditLogger, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LeadDays <= 0 {
		opts.LeadDays = 30
	}
	return &Handler{repo: repo, cache: c, audit: audit, opts: opts}
}

// Routes registers the equipment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEquipment)
	r.Get("/stats", h.GetStats)
	r.Get("/nearby", h.Nearby)
	r.Get("/export", h.Export)
	r.Get("/institutions", h.MatchInstitutions)
	r.Get("/{serial}", h.GetEquipment)

	return r
}

// StatsKey is the cache key of the statistics for a scope and criterion.
func StatsKey(scope access.AccessScope, c access.MatchCriterion) string {
	return "equipment:stats:" + string(c) + ":" + scope.Key()
}

// InvalidateStats drops every cached statistics entry.
func (h *Handler) InvalidateStats(ctx context.Context) error {
	return h.cache.Flush(ctx)
}

// scopedFilter parses the criterion and builds the caller's filter.
func scopedFilter(r *http.Request) (*access.Principal, access.EquipmentFilter, error) {
	p := access.PrincipalFrom(r.Context())
	if p == nil {
		return nil, access.EquipmentFilter{}, errors.Unauthorized("authentication required")
	}
	criterion, err := access.ParseMatchCriterion(r.URL.Query().Get("criterion"))
	if err != nil {
		return nil, access.EquipmentFilter{}, errors.BadRequest("criterion must be address or jurisdiction")
	}
	f, err := access.BuildEquipmentFilter(p.Scope, criterion)
	if err != nil {
		return nil, access.EquipmentFilter{}, errors.Internal(err)
	}
	return p, f, nil
}

func listQuery(r *http.Request) domain.ListQuery {
	q := r.URL.Query()
	return domain.ListQuery{
		Search:    q.Get("search"),
		Category1: q.Get("category1"),
		Limit:     atoi(q.Get("limit")),
		Offset:    max(atoi(q.Get("offset")), 0),
	}
}

// mask applies the caller's masking policy and counts masked rows.
func mask(records []domain.Equipment, scope access.AccessScope) []domain.Equipment {
	out := privacy.MaskSensitiveFields(records, scope)
	if !scope.CanViewSensitiveData {
		metrics.RecordMasked(len(out))
	}
	return out
}

// ListEquipment lists the equipment visible to the caller
func (h *Handler) ListEquipment(w http.ResponseWriter, r *http.Request) {
	p, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := listQuery(r)
	items, total, err := h.repo.List(r.Context(), f, q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   mask(items, p.Scope),
		"total":  total,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// GetEquipment returns one device. Devices outside the caller's scope are
// reported as not found.
func (h *Handler) GetEquipment(w http.ResponseWriter, r *http.Request) {
	p, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	e, err := h.repo.Get(r.Context(), chi.URLParam(r, "serial"), f)
	if err != nil {
		writeError(w, err)
		return
	}

	masked := mask([]domain.Equipment{*e}, p.Scope)
	writeJSON(w, http.StatusOK, masked[0])
}

// GetStats returns expiry and inspection counts for the caller's scope
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	p, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := StatsKey(p.Scope, f.Criterion)
	if stats, ok := cache.GetJSON[domain.Stats](r.Context(), h.cache, statsCacheName, key); ok {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	now := h.opts.Now()
	stats := domain.Stats{ByCategory: map[string]int{}}
	err = h.repo.Stream(r.Context(), f, domain.ListQuery{}, func(e *domain.Equipment) error {
		stats.Add(e, now, h.opts.LeadDays)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := cache.SetJSON(r.Context(), h.cache, key, stats, h.opts.StatsTTL); err != nil {
		logger.From(r.Context()).Warn("failed to cache equipment stats", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, stats)
}

// NearbyEquipment is a device with its distance from the query point.
type NearbyEquipment struct {
	domain.Equipment
	DistanceKm float64 `json:"distance_km"`
}

// Nearby lists devices within radius_km of lat/lng, closest first
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	p, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	center, radius, err := parseNearby(r)
	if err != nil {
		writeError(w, err)
		return
	}

	box := geo.BoxAround(center, radius)
	candidates, err := h.repo.Within(r.Context(), f, box, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	candidates = mask(candidates, p.Scope)
	results := make([]NearbyEquipment, 0, len(candidates))
	for _, e := range candidates {
		pt := geo.Point{Lat: e.Latitude, Lng: e.Longitude}
		if !e.HasLocation() || !box.Contains(pt) {
			continue
		}
		if d := geo.Haversine(center, pt); d <= radius {
			results = append(results, NearbyEquipment{Equipment: e, DistanceKm: d})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
	if len(results) > nearbyLimit {
		results = results[:nearbyLimit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":      results,
		"center":    center,
		"radius_km": radius,
	})
}

func parseNearby(r *http.Request) (geo.Point, float64, error) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, 0, errors.BadRequest("lat and lng are required")
	}
	center := geo.Point{Lat: lat, Lng: lng}
	if err := center.Validate(); err != nil {
		return geo.Point{}, 0, errors.BadRequest(err.Error())
	}

	radius := defaultRadiusKm
	if s := q.Get("radius_km"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > maxRadiusKm {
			return geo.Point{}, 0, errors.BadRequest(fmt.Sprintf("radius_km must be in (0, %g]", maxRadiusKm))
		}
		radius = v
	}
	return center, radius, nil
}

// InstitutionMatch is a registered institution whose name resembles the query.
type InstitutionMatch struct {
	institution.Candidate
	EquipmentSerials []string `json:"equipment_serials"`
}

// MatchInstitutions ranks the institution names in the caller's scope by
// similarity to the name parameter
func (h *Handler) MatchInstitutions(w http.ResponseWriter, r *http.Request) {
	_, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		writeError(w, errors.BadRequest("name is required"))
		return
	}
	minTier := institution.TierMedium
	if s := q.Get("min_tier"); s != "" {
		minTier = institution.MatchTier(s)
		switch minTier {
		case institution.TierExact, institution.TierHigh, institution.TierMedium, institution.TierLow:
		default:
			writeError(w, errors.BadRequest("min_tier must be exact, high, medium or low"))
			return
		}
	}

	serials := make(map[string][]string)
	var names []string
	err = h.repo.Stream(r.Context(), f, domain.ListQuery{}, func(e *domain.Equipment) error {
		if _, seen := serials[e.InstitutionName]; !seen {
			names = append(names, e.InstitutionName)
		}
		serials[e.InstitutionName] = append(serials[e.InstitutionName], e.EquipmentSerial)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	ranked := institution.Rank(name, names, minTier)
	if len(ranked) > matchLimit {
		ranked = ranked[:matchLimit]
	}
	out := make([]InstitutionMatch, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, InstitutionMatch{Candidate: c, EquipmentSerials: serials[c.Name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "query": name})
}

// Export streams the caller's equipment as an XLSX workbook
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	p, f, err := scopedFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	x, err := newWorkbook()
	if err != nil {
		writeError(w, err)
		return
	}
	defer x.Close()

	now := h.opts.Now()
	err = h.repo.Stream(r.Context(), f, listQuery(r), func(e *domain.Equipment) error {
		row := *e
		if !p.Scope.CanViewSensitiveData {
			row = privacy.MaskEquipment(row)
		}
		return x.Add(&row, now, h.opts.LeadDays)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !p.Scope.CanViewSensitiveData {
		metrics.RecordMasked(x.Rows())
	}

	if err := h.audit.Log(r.Context(), audit.ActionEquipmentExported, "equipment", "", map[string]any{
		"criterion": string(f.Criterion),
		"rows":      x.Rows(),
		"masked":    !p.Scope.CanViewSensitiveData,
	}); err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("equipment_%s.xlsx", now.Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if err := x.Write(w); err != nil {
		logger.From(r.Context()).Error("failed to write export", zap.Error(err))
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error": map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": appErr.Details,
		},
	})
}
