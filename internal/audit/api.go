package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/auth"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Reader is the read side of the audit log used by the HTTP handler.
type Reader interface {
	List(ctx context.Context, filter ListEntriesFilter) ([]AuditEntry, int, error)
	FindByID(ctx context.Context, id types.ID) (*AuditEntry, error)
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)
}

// Handler provides HTTP handlers for the audit module
type Handler struct {
	repo Reader
}

// NewHandler creates a new audit handler
func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes. Every route is restricted to masters.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(access.RoleMaster))

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)
	r.Get("/resource/{resourceType}/{resourceID}", h.GetByResource)
	// after /verify so the literal path wins
	r.Get("/{entryID}", h.GetEntry)

	return r
}

// ListEntries lists audit entries with filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListEntriesFilter{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Limit:        atoi(q.Get("limit")),
		Offset:       atoi(q.Get("offset")),
	}

	if startTime := q.Get("start_time"); startTime != "" {
		t, err := time.Parse(time.RFC3339, startTime)
		if err != nil {
			writeError(w, errors.BadRequest("start_time must be RFC3339"))
			return
		}
		filter.StartTime = &t
	}

	if endTime := q.Get("end_time"); endTime != "" {
		t, err := time.Parse(time.RFC3339, endTime)
		if err != nil {
			writeError(w, errors.BadRequest("end_time must be RFC3339"))
			return
		}
		filter.EndTime = &t
	}

	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
	})
}

// GetEntry gets an audit entry by ID
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid entry ID"))
		return
	}

	entry, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// VerifyChain verifies the integrity of the audit chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	includeDetails := r.URL.Query().Get("details") == "true"

	result, err := h.repo.VerifyChain(r.Context(), atoi(r.URL.Query().Get("limit")), includeDetails)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetByResource gets audit entries for a specific resource
func (h *Handler) GetByResource(w http.ResponseWriter, r *http.Request) {
	filter := ListEntriesFilter{
		ResourceType: chi.URLParam(r, "resourceType"),
		ResourceID:   chi.URLParam(r, "resourceID"),
		Limit:        atoi(r.URL.Query().Get("limit")),
	}

	entries, _, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": entries,
	})
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
