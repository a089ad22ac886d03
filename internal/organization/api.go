package organization

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Handler provides HTTP handlers for accounts and organizations
type Handler struct {
	svc *Service
}

// NewHandler creates a new organization handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the account routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/me", h.GetMe)
	r.Get("/organizations", h.ListOrganizations)

	r.Route("/users", func(r chi.Router) {
		r.Get("/pending", h.ListPending)
		r.Route("/{userID}", func(r chi.Router) {
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Put("/devices", h.AssignDevices)
		})
	})

	return r
}

// GetMe returns the caller's profile and access scope
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	me, err := h.svc.Me(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// ListOrganizations lists organizations
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := OrganizationFilter{
		Type:       access.OrganizationType(q.Get("type")),
		RegionCode: q.Get("region_code"),
		CityCode:   q.Get("city_code"),
		Search:     q.Get("search"),
	}

	orgs, err := h.svc.ListOrganizations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": orgs, "total": len(orgs)})
}

// ListPending lists accounts awaiting approval
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	offset = max(offset, 0)

	profiles, total, err := h.svc.ListPending(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": profiles, "total": total})
}

// Approve approves a pending account
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	profile, err := h.svc.Approve(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Reject rejects a pending account
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.svc.Reject(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignDevices sets a temporary inspector's devices
func (h *Handler) AssignDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req AssignDevicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	serials, err := h.svc.AssignDevices(r.Context(), id, req.EquipmentSerials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "assigned_device_ids": serials})
}

func userID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return "", false
	}
	return id, true
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
