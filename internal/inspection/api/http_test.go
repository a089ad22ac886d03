package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	equipment "github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/inspection/domain"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/types"
)

var (
	masterID = types.ID("00000000-0000-0000-0000-000000000001")
	localID  = types.ID("00000000-0000-0000-0000-000000000002")
	local2ID = types.ID("00000000-0000-0000-0000-000000000003")
	tempID   = types.ID("00000000-0000-0000-0000-000000000004")

	now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

type fakeRepo struct {
	mu       sync.Mutex
	items    map[types.ID]*domain.Inspection
	entries  []*audit.AuditEntry
	approved []types.ID
	lastList access.EquipmentFilter
	lastPage domain.ListFilter
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[types.ID]*domain.Inspection{}}
}

func (r *fakeRepo) put(i *domain.Inspection) {
	cp := *i
	cp.PhotoKeys = append([]string{}, i.PhotoKeys...)
	r.items[i.ID] = &cp
}

func (r *fakeRepo) Create(_ context.Context, i *domain.Inspection, e *audit.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(i)
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id types.ID) (*domain.Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok {
		return nil, errors.NotFound("inspection", id.String())
	}
	cp := *i
	cp.PhotoKeys = append([]string{}, i.PhotoKeys...)
	return &cp, nil
}

func (r *fakeRepo) Save(_ context.Context, i *domain.Inspection, e *audit.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(i)
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRepo) Approve(_ context.Context, i *domain.Inspection, e *audit.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(i)
	r.approved = append(r.approved, i.ID)
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id types.ID, e *audit.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRepo) List(_ context.Context, f access.EquipmentFilter, page domain.ListFilter) ([]domain.Inspection, int, error) {
	r.lastList = f
	r.lastPage = page
	return []domain.Inspection{}, 0, nil
}

func (r *fakeRepo) lastAction() string {
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1].Action
}

// fakeEquipment stores the region code directly in Sido.
type fakeEquipment map[string]equipment.Equipment

func (f fakeEquipment) Get(_ context.Context, serial string, filter access.EquipmentFilter) (*equipment.Equipment, error) {
	e, ok := f[serial]
	if !ok {
		return nil, errors.NotFound("equipment", serial)
	}
	if filter.EquipmentSerialIn != nil {
		for _, s := range filter.EquipmentSerialIn {
			if s == serial {
				return &e, nil
			}
		}
		return nil, errors.NotFound("equipment", serial)
	}
	if (filter.Sido != nil && *filter.Sido != e.Sido) || (filter.Gugun != nil && *filter.Gugun != e.Gugun) {
		return nil, errors.NotFound("equipment", serial)
	}
	return &e, nil
}

type memoryPhotos struct {
	objects map[string][]byte
	deleted []string
}

func (m *memoryPhotos) Put(_ context.Context, key, _ string, data []byte) error {
	m.objects[key] = data
	return nil
}

func (m *memoryPhotos) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryPhotos) PresignGet(_ context.Context, key string) (string, error) {
	return "https://photos.example/" + key + "?sig=1", nil
}

type statsCounter struct{ n int }

func (s *statsCounter) InvalidateStats(context.Context) error {
	s.n++
	return nil
}

type directory map[types.ID]notification.Recipient

func (d directory) Recipient(_ context.Context, id types.ID) (notification.Recipient, error) {
	r, ok := d[id]
	if !ok {
		return notification.Recipient{}, errors.NotFound("user profile", id.String())
	}
	return r, nil
}

type outbox struct {
	sent []notification.TemplateName
	data []any
}

func (o *outbox) Notify(_ context.Context, name notification.TemplateName, _ notification.Recipient, data any) error {
	o.sent = append(o.sent, name)
	o.data = append(o.data, data)
	return nil
}

type fixture struct {
	h      *Handler
	repo   *fakeRepo
	photos *memoryPhotos
	stats  *statsCounter
	mail   *outbox
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newFakeRepo(),
		photos: &memoryPhotos{objects: map[string][]byte{}},
		stats:  &statsCounter{},
		mail:   &outbox{},
	}
	eq := fakeEquipment{
		"11-0010656": {EquipmentSerial: "11-0010656", Sido: "DAE", Gugun: "중구"},
		"13-0000485": {EquipmentSerial: "13-0000485", Sido: "DAE", Gugun: "중구"},
		"20-0000001": {EquipmentSerial: "20-0000001", Sido: "DAE", Gugun: "동구"},
	}
	dir := directory{localID: {ID: localID.String(), Name: "김점검", Email: "kim@junggu.go.kr"}}
	f.h = NewHandler(f.repo, eq, f.photos, Options{
		MaxPhotoBytes: 1 << 10,
		Stats:         f.stats,
		Recipients:    dir,
		Notifier:      f.mail,
		Now:           func() time.Time { return now },
	})
	return f
}

func principal(id types.ID, p access.Profile) *access.Principal {
	return &access.Principal{UserID: id.String(), Profile: p, Scope: access.ResolveAccessScope(p)}
}

var (
	master = principal(masterID, access.Profile{Role: access.RoleMaster})
	local  = principal(localID, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"})
	local2 = principal(local2ID, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "중구"})
	dongu  = principal(local2ID, access.Profile{Role: access.RoleLocalAdmin, RegionCode: "DAE", DistrictCode: "동구"})
	temp   = principal(tempID, access.Profile{Role: access.RoleTemporaryInspector, AssignedDeviceIDs: []string{"13-0000485"}})
)

func (f *fixture) do(p *access.Principal, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if p != nil {
		req = req.WithContext(access.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	f.h.Routes().ServeHTTP(rec, req)
	return rec
}

// seed stores an inspection of serial by inspector in the given status.
func (f *fixture) seed(t *testing.T, serial string, inspector types.ID, district string, status domain.Status) *domain.Inspection {
	t.Helper()
	i, err := domain.NewInspection(serial, inspector, now, district, domain.Results{OverallResult: domain.ResultPass})
	require.NoError(t, err)
	i.Status = status
	f.repo.put(i)
	return i
}

func TestCreateInspection(t *testing.T) {
	f := newFixture()

	rec := f.do(local, http.MethodPost, "/", map[string]any{
		"equipment_serial": "11-0010656",
		"inspection_date":  "2026-03-01",
		"battery_status":   "good",
		"overall_result":   "pass",
		"submit":           true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got domain.Inspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	assert.Equal(t, "중구", got.RegionCode)
	assert.Equal(t, localID, got.InspectorID)
	assert.Equal(t, "2026-03-01", got.InspectionDate.Format("2006-01-02"))
	assert.Equal(t, audit.ActionInspectionCreated, f.repo.lastAction())
}

func TestCreateInspection_Denied(t *testing.T) {
	ministry := principal(masterID, access.Profile{Role: access.RoleMinistryAdmin})
	noDevices := principal(tempID, access.Profile{Role: access.RoleTemporaryInspector})

	tests := []struct {
		name   string
		p      *access.Principal
		body   any
		status int
	}{
		{"unauthenticated", nil, map[string]any{"equipment_serial": "11-0010656"}, http.StatusUnauthorized},
		{"ministry cannot inspect", ministry, map[string]any{"equipment_serial": "11-0010656"}, http.StatusForbidden},
		{"inspector without devices", noDevices, map[string]any{"equipment_serial": "11-0010656"}, http.StatusForbidden},
		{"serial outside district", local, map[string]any{"equipment_serial": "20-0000001"}, http.StatusNotFound},
		{"serial outside allowlist", temp, map[string]any{"equipment_serial": "11-0010656"}, http.StatusNotFound},
		{"bad date", local, map[string]any{"equipment_serial": "11-0010656", "inspection_date": "03/01/2026"}, http.StatusBadRequest},
		{"bad result", local, map[string]any{"equipment_serial": "11-0010656", "overall_result": "ok"}, http.StatusBadRequest},
		{"submit without result", local, map[string]any{"equipment_serial": "11-0010656", "submit": true}, http.StatusBadRequest},
		{"missing serial", local, map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := f.do(tt.p, http.MethodPost, "/", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Empty(t, f.repo.items)
		})
	}
}

func TestGetInspection_OutsideScopeIsNotFound(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "20-0000001", local2ID, "동구", domain.StatusSubmitted)

	assert.Equal(t, http.StatusNotFound, f.do(local, http.MethodGet, "/"+i.ID.String(), nil).Code)
	assert.Equal(t, http.StatusOK, f.do(dongu, http.MethodGet, "/"+i.ID.String(), nil).Code)
	assert.Equal(t, http.StatusOK, f.do(master, http.MethodGet, "/"+i.ID.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(master, http.MethodGet, "/nope", nil).Code)
}

func TestTemporaryInspector_OwnOnly(t *testing.T) {
	f := newFixture()
	own := f.seed(t, "13-0000485", tempID, "중구", domain.StatusPending)
	other := f.seed(t, "13-0000485", localID, "중구", domain.StatusPending)

	rec := f.do(temp, http.MethodPut, "/"+own.ID.String(), map[string]any{"overall_result": "fail", "notes": "패드 만료"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, audit.ActionInspectionUpdated, f.repo.lastAction())

	rec = f.do(temp, http.MethodPut, "/"+other.ID.String(), map[string]any{"overall_result": "fail"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(temp, http.MethodPost, "/"+own.ID.String()+"/submit", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(temp, http.MethodPost, "/"+own.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveInspection(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "11-0010656", local2ID, "중구", domain.StatusSubmitted)

	rec := f.do(local, http.MethodPost, "/"+i.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []types.ID{i.ID}, f.repo.approved)
	assert.Equal(t, domain.StatusApproved, f.repo.items[i.ID].Status)
	assert.Equal(t, 1, f.stats.n)
	assert.Equal(t, audit.ActionInspectionApproved, f.repo.lastAction())

	rec = f.do(local, http.MethodPost, "/"+i.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveInspection_SelfApproval(t *testing.T) {
	f := newFixture()
	mine := f.seed(t, "11-0010656", localID, "중구", domain.StatusSubmitted)
	rec := f.do(local, http.MethodPost, "/"+mine.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.repo.approved)

	masters := f.seed(t, "11-0010656", masterID, "중구", domain.StatusSubmitted)
	rec = f.do(master, http.MethodPost, "/"+masters.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestApproveInspection_OtherDistrict(t *testing.T) {
	f := newFixture()
	// stored district differs from the reviewer's although the device is visible
	i := f.seed(t, "11-0010656", local2ID, "동구", domain.StatusSubmitted)
	rec := f.do(local, http.MethodPost, "/"+i.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRejectInspection_NotifiesInspector(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "11-0010656", localID, "중구", domain.StatusSubmitted)

	rec := f.do(local2, http.MethodPost, "/"+i.ID.String()+"/reject", map[string]any{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(local2, http.MethodPost, "/"+i.ID.String()+"/reject", map[string]any{"reason": "사진 누락"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusRejected, f.repo.items[i.ID].Status)

	require.Equal(t, []notification.TemplateName{notification.TemplateInspectionRejected}, f.mail.sent)
	data := f.mail.data[0].(map[string]any)
	assert.Equal(t, "김점검", data["Name"])
	assert.Equal(t, "사진 누락", data["Reason"])
	assert.Equal(t, 0, f.stats.n)

	last := f.repo.entries[len(f.repo.entries)-1]
	assert.Equal(t, audit.ActionInspectionRejected, last.Action)
	assert.Equal(t, "사진 누락", last.Justification)
}

func TestDeleteInspection(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "11-0010656", localID, "중구", domain.StatusPending)
	i.PhotoKeys = []string{"inspections/" + i.ID.String() + "/a.png"}
	f.repo.put(i)
	f.photos.objects[i.PhotoKeys[0]] = []byte("x")

	assert.Equal(t, http.StatusForbidden, f.do(local, http.MethodDelete, "/"+i.ID.String(), nil).Code)

	rec := f.do(master, http.MethodDelete, "/"+i.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.repo.items)
	assert.Equal(t, audit.ActionInspectionDeleted, f.repo.lastAction())
	assert.Equal(t, i.PhotoKeys, f.photos.deleted)
}

func multipartPhoto(t *testing.T, data []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "aed.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestUploadPhoto(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "11-0010656", localID, "중구", domain.StatusPending)

	contentType, body := multipartPhoto(t, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	req := httptest.NewRequest(http.MethodPost, "/"+i.ID.String()+"/photos", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(access.WithPrincipal(req.Context(), local))
	rec := httptest.NewRecorder()
	f.h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["key"], "inspections/"+i.ID.String()+"/"))
	assert.True(t, strings.HasSuffix(resp["key"], ".png"))
	assert.Contains(t, resp["url"], "sig=1")
	assert.Contains(t, f.photos.objects, resp["key"])
	assert.Equal(t, []string{resp["key"]}, f.repo.items[i.ID].PhotoKeys)
	assert.Equal(t, audit.ActionPhotoUploaded, f.repo.lastAction())

	rec = f.do(local, http.MethodGet, "/"+i.ID.String()+"/photos", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), resp["key"])
}

func TestUploadPhoto_Rejected(t *testing.T) {
	f := newFixture()
	i := f.seed(t, "11-0010656", localID, "중구", domain.StatusPending)

	send := func(data []byte) int {
		contentType, body := multipartPhoto(t, data)
		req := httptest.NewRequest(http.MethodPost, "/"+i.ID.String()+"/photos", body)
		req.Header.Set("Content-Type", contentType)
		req = req.WithContext(access.WithPrincipal(req.Context(), local))
		rec := httptest.NewRecorder()
		f.h.Routes().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, send([]byte("plain text, not an image")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, send(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 2<<10)...)))
	assert.Empty(t, f.photos.objects)
	assert.Empty(t, f.repo.items[i.ID].PhotoKeys)
}

func TestListInspections(t *testing.T) {
	f := newFixture()

	rec := f.do(local, http.MethodGet, "/?status=submitted", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.repo.lastList.Gugun)
	assert.Equal(t, "중구", *f.repo.lastList.Gugun)

	assert.Equal(t, http.StatusBadRequest, f.do(local, http.MethodGet, "/?status=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(local, http.MethodGet, "/?inspector_id=x", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodGet, "/", nil).Code)
}

func TestListInspections_NegativeOffset(t *testing.T) {
	f := newFixture()
	rec := f.do(local, http.MethodGet, "/?offset=-1&limit=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.repo.lastPage.Offset)
	assert.Equal(t, 5, f.repo.lastPage.Limit)
}

func TestIsPhotoUpload(t *testing.T) {
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/v1/inspections/0a1b/photos", true},
		{http.MethodPost, "/api/v1/inspections/0a1b/photos/", true},
		{http.MethodGet, "/api/v1/inspections/0a1b/photos", false},
		{http.MethodPost, "/api/v1/inspections", false},
		{http.MethodPost, "/api/v1/inspections//photos", false},
		{http.MethodPost, "/api/v1/equipment/0a1b/photos", false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPhotoUpload(httptest.NewRequest(tt.method, tt.path, nil)))
		})
	}
}
