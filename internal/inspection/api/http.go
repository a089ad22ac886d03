package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	equipment "github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/inspection/domain"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/types"
	"github.com/aed-compliance/platform/internal/storage"
)

// EquipmentReader resolves equipment inside a caller's scope.
type EquipmentReader interface {
	Get(ctx context.Context, serial string, filter access.EquipmentFilter) (*equipment.Equipment, error)
}

// StatsInvalidator drops cached equipment statistics.
type StatsInvalidator interface {
	InvalidateStats(ctx context.Context) error
}

// Recipients looks up where to email a user.
type Recipients interface {
	Recipient(ctx context.Context, id types.ID) (notification.Recipient, error)
}

// Notifier sends templated email.
type Notifier interface {
	Notify(ctx context.Context, name notification.TemplateName, to notification.Recipient, data any) error
}

// Options configures the handler. Stats, Recipients and Notifier are
// optional.
type Options struct {
	MaxPhotoBytes int64
	Stats         StatsInvalidator
	Recipients    Recipients
	Notifier      Notifier
	Now           func() time.Time
}

// Handler provides HTTP handlers for the inspection module
type Handler struct {
	repo      domain.Repository
	equipment EquipmentReader
	photos    storage.ObjectStore
	opts      Options
}

// NewHandler creates a new inspection handler. photos may be nil when no
// bucket is configured; uploads then fail.
func NewHandler(repo domain.Repository, eq EquipmentReader, photos storage.ObjectStore, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = storage.DefaultMaxPhotoBytes
	}
	return &Handler{repo: repo, equipment: eq, photos: photos, opts: opts}
}

// Routes registers the inspection routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListInspections)
	r.Post("/", h.CreateInspection)

	r.Route("/{inspectionID}", func(r chi.Router) {
		r.Get("/", h.GetInspection)
		r.Put("/", h.UpdateInspection)
		r.Delete("/", h.DeleteInspection)

		// Status transitions
		r.Post("/submit", h.SubmitInspection)
		r.Post("/approve", h.ApproveInspection)
		r.Post("/reject", h.RejectInspection)

		r.Get("/photos", h.ListPhotos)
		r.Post("/photos", h.UploadPhoto)
	})

	return r
}

// IsPhotoUpload reports whether r posts to the photo upload route, which
// applies MaxPhotoBytes instead of the general body limit.
func IsPhotoUpload(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	n := len(parts)
	return n >= 3 && parts[n-1] == "photos" && parts[n-2] != "" && parts[n-3] == "inspections"
}

// --- Request types ---

type CreateInspectionRequest struct {
	EquipmentSerial string `json:"equipment_serial"`
	InspectionDate  string `json:"inspection_date"`
	domain.Results
	Submit bool `json:"submit"`
}

type RejectInspectionRequest struct {
	Reason string `json:"reason"`
}

// --- Handlers ---

// ListInspections lists inspections of equipment inside the caller's scope
func (h *Handler) ListInspections(w http.ResponseWriter, r *http.Request) {
	p := access.PrincipalFrom(r.Context())
	if p == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	scope, err := access.BuildEquipmentFilter(p.Scope, access.MatchByAddress)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}

	q := r.URL.Query()
	filter := domain.ListFilter{
		EquipmentSerial: q.Get("equipment_serial"),
		Limit:           atoi(q.Get("limit")),
		Offset:          max(atoi(q.Get("offset")), 0),
	}
	if s := q.Get("status"); s != "" {
		status := domain.Status(s)
		switch status {
		case domain.StatusPending, domain.StatusSubmitted, domain.StatusApproved, domain.StatusRejected:
		default:
			writeError(w, errors.BadRequest("invalid status"))
			return
		}
		filter.Status = &status
	}
	if s := q.Get("inspector_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid inspector ID"))
			return
		}
		filter.InspectorID = &id
	}

	items, total, err := h.repo.List(r.Context(), scope, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

// CreateInspection records a new inspection by the caller
func (h *Handler) CreateInspection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := access.PrincipalFrom(ctx)
	if p == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}
	allowed := p.Scope.CanPerformInspection
	metrics.RecordAuthorizationDecision("inspection", "create", allowed)
	if !allowed {
		writeError(w, errors.Forbidden("not allowed to perform inspections"))
		return
	}

	var req CreateInspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.EquipmentSerial == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{"equipment_serial": "required"}))
		return
	}

	now := h.opts.Now()
	date := now.UTC().Truncate(24 * time.Hour)
	if req.InspectionDate != "" {
		d, err := time.Parse("2006-01-02", req.InspectionDate)
		if err != nil {
			writeError(w, errors.Validation("validation failed", map[string]string{"inspection_date": "use YYYY-MM-DD"}))
			return
		}
		date = d
	}

	filter, err := access.BuildEquipmentFilter(p.Scope, access.MatchByAddress)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}
	e, err := h.equipment.Get(ctx, req.EquipmentSerial, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	inspectorID, err := types.ParseID(p.UserID)
	if err != nil {
		writeError(w, errors.Forbidden("caller has no profile"))
		return
	}
	i, err := domain.NewInspection(e.EquipmentSerial, inspectorID, date, e.Gugun, req.Results)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}
	if req.Submit {
		if err := i.Submit(now); err != nil {
			writeError(w, domainError(err))
			return
		}
	}

	entry := audit.EntryFor(ctx, audit.ActionInspectionCreated, "inspection", i.ID.String(), map[string]any{
		"equipment_serial": i.EquipmentSerial,
		"status":           string(i.Status),
	})
	if err := h.repo.Create(ctx, i, entry); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordInspectionStatusChange("", string(i.Status))

	writeJSON(w, http.StatusCreated, i)
}

// GetInspection gets an inspection by ID
func (h *Handler) GetInspection(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("view", perm.CanView, perm.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}

// UpdateInspection replaces the findings of an editable inspection
func (h *Handler) UpdateInspection(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("edit", perm.CanEdit, perm.Reason); err != nil {
		writeError(w, err)
		return
	}

	var res domain.Results
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := i.Update(res, h.opts.Now()); err != nil {
		writeError(w, domainError(err))
		return
	}

	entry := audit.EntryFor(r.Context(), audit.ActionInspectionUpdated, "inspection", i.ID.String(), map[string]any{
		"overall_result": string(i.OverallResult),
	})
	if err := h.repo.Save(r.Context(), i, entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}

// DeleteInspection deletes an inspection
func (h *Handler) DeleteInspection(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("delete", perm.CanDelete, "not allowed to delete this inspection"); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	entry := audit.EntryFor(ctx, audit.ActionInspectionDeleted, "inspection", i.ID.String(), map[string]any{
		"equipment_serial": i.EquipmentSerial,
		"inspector_id":     i.InspectorID.String(),
		"status":           string(i.Status),
		"photos":           len(i.PhotoKeys),
	})
	if err := h.repo.Delete(ctx, i.ID, entry); err != nil {
		writeError(w, err)
		return
	}

	if h.photos != nil {
		for _, key := range i.PhotoKeys {
			if err := h.photos.Delete(ctx, key); err != nil {
				logger.From(ctx).Warn("failed to delete inspection photo", zap.String("key", key), zap.Error(err))
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitInspection hands an inspection in for review
func (h *Handler) SubmitInspection(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("submit", perm.CanEdit, perm.Reason); err != nil {
		writeError(w, err)
		return
	}

	from := i.Status
	if err := i.Submit(h.opts.Now()); err != nil {
		writeError(w, domainError(err))
		return
	}
	entry := audit.EntryFor(r.Context(), audit.ActionInspectionSubmitted, "inspection", i.ID.String(), map[string]any{
		"from": string(from),
	})
	if err := h.repo.Save(r.Context(), i, entry); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordInspectionStatusChange(string(from), string(i.Status))
	writeJSON(w, http.StatusOK, i)
}

// ApproveInspection approves a submitted inspection
func (h *Handler) ApproveInspection(w http.ResponseWriter, r *http.Request) {
	p, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("approve", p.Scope.CanApprove && perm.CanEdit, "not allowed to review this inspection"); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	reviewerID, _ := types.ParseID(p.UserID)
	if err := i.Approve(reviewerID, p.Profile.Role, h.opts.Now()); err != nil {
		writeError(w, domainError(err))
		return
	}
	entry := audit.EntryFor(ctx, audit.ActionInspectionApproved, "inspection", i.ID.String(), map[string]any{
		"equipment_serial": i.EquipmentSerial,
		"inspection_date":  i.InspectionDate.Format("2006-01-02"),
	})
	if err := h.repo.Approve(ctx, i, entry); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordInspectionStatusChange(string(domain.StatusSubmitted), string(i.Status))

	if h.opts.Stats != nil {
		if err := h.opts.Stats.InvalidateStats(ctx); err != nil {
			logger.From(ctx).Warn("failed to invalidate equipment stats", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, i)
}

// RejectInspection returns a submitted inspection to its inspector
func (h *Handler) RejectInspection(w http.ResponseWriter, r *http.Request) {
	p, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("reject", p.Scope.CanApprove && perm.CanEdit, "not allowed to review this inspection"); err != nil {
		writeError(w, err)
		return
	}

	var req RejectInspectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	ctx := r.Context()
	reviewerID, _ := types.ParseID(p.UserID)
	if err := i.Reject(reviewerID, p.Profile.Role, req.Reason, h.opts.Now()); err != nil {
		writeError(w, domainError(err))
		return
	}
	entry := audit.EntryFor(ctx, audit.ActionInspectionRejected, "inspection", i.ID.String(), nil).
		WithJustification(i.RejectionReason)
	if err := h.repo.Save(ctx, i, entry); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordInspectionStatusChange(string(domain.StatusSubmitted), string(i.Status))

	h.notifyRejected(ctx, i)
	writeJSON(w, http.StatusOK, i)
}

// UploadPhoto attaches a photo to an editable inspection
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("upload_photo", perm.CanEdit, perm.Reason); err != nil {
		writeError(w, err)
		return
	}
	if h.photos == nil {
		writeError(w, errors.Internal(stderrors.New("photo storage is not configured")))
		return
	}

	// multipart overhead on top of the photo itself
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxPhotoBytes+64<<10)
	file, _, err := r.FormFile("photo")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, errors.TooLarge("photo is too large"))
			return
		}
		writeError(w, errors.BadRequest("multipart field photo is required"))
		return
	}
	defer file.Close()

	photo, err := storage.ReadPhoto(file, h.opts.MaxPhotoBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	key := storage.PhotoKey(i.ID.String(), photo.Ext)
	if err := i.AddPhoto(key, h.opts.Now()); err != nil {
		writeError(w, domainError(err))
		return
	}
	if err := h.photos.Put(ctx, key, photo.ContentType, photo.Data); err != nil {
		writeError(w, errors.Wrap(err, "failed to store photo"))
		return
	}

	entry := audit.EntryFor(ctx, audit.ActionPhotoUploaded, "inspection", i.ID.String(), map[string]any{
		"key":          key,
		"content_type": photo.ContentType,
		"bytes":        len(photo.Data),
	})
	if err := h.repo.Save(ctx, i, entry); err != nil {
		if delErr := h.photos.Delete(ctx, key); delErr != nil {
			logger.From(ctx).Warn("failed to remove orphaned photo", zap.String("key", key), zap.Error(delErr))
		}
		writeError(w, err)
		return
	}

	url, err := h.photos.PresignGet(ctx, key)
	if err != nil {
		logger.From(ctx).Warn("failed to presign photo", zap.String("key", key), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "url": url})
}

// ListPhotos returns download links for an inspection's photos
func (h *Handler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	_, i, perm, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorize("view", perm.CanView, perm.Reason); err != nil {
		writeError(w, err)
		return
	}

	photos := make([]map[string]string, 0, len(i.PhotoKeys))
	for _, key := range i.PhotoKeys {
		item := map[string]string{"key": key}
		if h.photos != nil {
			url, err := h.photos.PresignGet(r.Context(), key)
			if err != nil {
				writeError(w, errors.Wrap(err, "failed to presign photo"))
				return
			}
			item["url"] = url
		}
		photos = append(photos, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": photos})
}

// load fetches the inspection in the URL and evaluates the caller's
// permission on it. Inspections of equipment outside the caller's scope
// are reported as not found.
func (h *Handler) load(r *http.Request) (*access.Principal, *domain.Inspection, access.InspectionPermission, error) {
	ctx := r.Context()
	var none access.InspectionPermission

	p := access.PrincipalFrom(ctx)
	if p == nil {
		return nil, nil, none, errors.Unauthorized("authentication required")
	}
	id, err := types.ParseID(chi.URLParam(r, "inspectionID"))
	if err != nil {
		return nil, nil, none, errors.BadRequest("invalid inspection ID")
	}

	i, err := h.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, none, err
	}

	filter, err := access.BuildEquipmentFilter(p.Scope, access.MatchByAddress)
	if err != nil {
		return nil, nil, none, errors.Internal(err)
	}
	if _, err := h.equipment.Get(ctx, i.EquipmentSerial, filter); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil, none, errors.NotFound("inspection", id.String())
		}
		return nil, nil, none, err
	}

	perm := access.CheckInspectionPermission(p.PermissionFor(i.InspectorID.String(), i.RegionCode))
	return p, i, perm, nil
}

func (h *Handler) notifyRejected(ctx context.Context, i *domain.Inspection) {
	if h.opts.Recipients == nil || h.opts.Notifier == nil {
		return
	}
	log := logger.From(ctx)
	to, err := h.opts.Recipients.Recipient(ctx, i.InspectorID)
	if err != nil {
		log.Warn("no recipient for rejected inspection", zap.String("inspection_id", i.ID.String()), zap.Error(err))
		return
	}
	name := to.Name
	if name == "" {
		name = to.Email
	}
	err = h.opts.Notifier.Notify(ctx, notification.TemplateInspectionRejected, to, map[string]any{
		"Name":            name,
		"InspectionDate":  i.InspectionDate.Format("2006-01-02"),
		"EquipmentSerial": i.EquipmentSerial,
		"Reason":          i.RejectionReason,
	})
	if err != nil {
		log.Warn("inspection rejection notice failed", zap.String("inspection_id", i.ID.String()), zap.Error(err))
	}
}

func authorize(action string, allowed bool, reason string) error {
	metrics.RecordAuthorizationDecision("inspection", action, allowed)
	if allowed {
		return nil
	}
	if reason == "" {
		reason = "not allowed"
	}
	return errors.Forbidden(reason)
}

// domainError maps domain rule violations onto HTTP errors.
func domainError(err error) error {
	switch {
	case stderrors.Is(err, domain.ErrSelfApproval):
		return errors.Forbidden(err.Error())
	case stderrors.Is(err, domain.ErrInvalidTransition), stderrors.Is(err, domain.ErrNotEditable):
		return errors.Conflict(err.Error())
	case stderrors.Is(err, domain.ErrReasonRequired), stderrors.Is(err, domain.ErrInvalidResult), stderrors.Is(err, domain.ErrTooManyPhotos):
		return errors.Validation(err.Error(), nil)
	}
	return err
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
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
