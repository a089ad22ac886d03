// Package reminder emails health centers about equipment whose battery or
// pad is about to expire.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	equipment "github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/organization"
	"github.com/aed-compliance/platform/internal/shared/config"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// Organizations lists health centers and the admins who receive reminders.
type Organizations interface {
	ListHealthCenters(ctx context.Context) ([]organization.Organization, error)
	ListLocalAdmins(ctx context.Context, orgID types.ID) ([]organization.UserProfile, error)
}

// Equipment finds devices with consumables expiring before a date.
type Equipment interface {
	ExpiringBefore(ctx context.Context, filter access.EquipmentFilter, before time.Time) ([]equipment.Equipment, error)
}

// Notifier sends templated email.
type Notifier interface {
	Notify(ctx context.Context, name notification.TemplateName, to notification.Recipient, data any) error
}

// AuditLogger records the outcome of a run.
type AuditLogger interface {
	Log(ctx context.Context, action, resourceType, resourceID string, details map[string]any) error
}

// Report summarises one run.
type Report struct {
	Organizations int `json:"organizations"`
	Devices       int `json:"devices"`
	Emails        int `json:"emails"`
	Failures      int `json:"failures"`
}

// Job sends expiry reminders.
type Job struct {
	orgs     Organizations
	devices  Equipment
	notifier Notifier
	audit    AuditLogger
	log      *zap.Logger
	leadDays int
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// NewJob creates a reminder job. audit may be nil.
func NewJob(orgs Organizations, devices Equipment, notifier Notifier, auditLog AuditLogger, log *zap.Logger, leadDays int) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{
		orgs:     orgs,
		devices:  devices,
		notifier: notifier,
		audit:    auditLog,
		log:      log.Named("reminder"),
		leadDays: leadDays,
		now:      time.Now,
	}
}

// RunOnce sends one round of reminders. Failures for one organization do
// not stop the others; they are counted in the report.
func (j *Job) RunOnce(ctx context.Context) (*Report, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil, fmt.Errorf("reminder run already in progress")
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	report, err := j.run(ctx)
	metrics.RecordReminderRun(err == nil && report.Failures == 0)
	if err != nil {
		return nil, err
	}

	if j.audit != nil {
		details := map[string]any{
			"organizations": report.Organizations,
			"devices":       report.Devices,
			"emails":        report.Emails,
			"failures":      report.Failures,
			"lead_days":     j.leadDays,
		}
		if err := j.audit.Log(ctx, audit.ActionRemindersSent, "reminder", "", details); err != nil {
			j.log.Warn("failed to audit reminder run", zap.Error(err))
		}
	}
	return report, nil
}

func (j *Job) run(ctx context.Context) (*Report, error) {
	centers, err := j.orgs.ListHealthCenters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list health centers: %w", err)
	}

	now := j.now().UTC()
	before := now.AddDate(0, 0, j.leadDays)
	report := &Report{}

	for _, org := range centers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := j.log.With(zap.String("organization_id", org.ID.String()), zap.String("organization", org.Name))

		// the organization's district, as its local admins see it
		scope := access.ResolveAccessScope(access.Profile{
			Role:         access.RoleLocalAdmin,
			RegionCode:   org.RegionCode,
			DistrictCode: org.CityCode,
		})
		filter, err := access.BuildEquipmentFilter(scope, access.MatchByAddress)
		if err != nil || filter.MatchesNone() {
			log.Warn("health center has no district, skipping")
			continue
		}

		devices, err := j.devices.ExpiringBefore(ctx, filter, before)
		if err != nil {
			log.Error("failed to list expiring equipment", zap.Error(err))
			report.Failures++
			continue
		}
		if len(devices) == 0 {
			continue
		}

		admins, err := j.orgs.ListLocalAdmins(ctx, org.ID)
		if err != nil {
			log.Error("failed to list local admins", zap.Error(err))
			report.Failures++
			continue
		}
		if len(admins) == 0 {
			log.Warn("no local admin to remind", zap.Int("devices", len(devices)))
			continue
		}

		report.Organizations++
		report.Devices += len(devices)

		data := map[string]any{
			"Organization": org.Name,
			"LeadDays":     j.leadDays,
			"Items":        items(devices, now, j.leadDays),
		}
		for _, admin := range admins {
			to := notification.Recipient{ID: admin.ID.String(), Name: admin.FullName, Email: admin.Email}
			if err := j.notifier.Notify(ctx, notification.TemplateExpiryReminder, to, data); err != nil {
				log.Warn("expiry reminder failed", zap.String("user_id", to.ID), zap.Error(err))
				report.Failures++
				continue
			}
			report.Emails++
		}
	}

	j.log.Info("expiry reminders sent",
		zap.Int("organizations", report.Organizations),
		zap.Int("devices", report.Devices),
		zap.Int("emails", report.Emails),
		zap.Int("failures", report.Failures))
	return report, nil
}

// items lists each device with the consumables that are expired or due
// within leadDays.
func items(devices []equipment.Equipment, now time.Time, leadDays int) []notification.ReminderItem {
	out := make([]notification.ReminderItem, 0, len(devices))
	for _, e := range devices {
		var due []string
		for _, item := range e.ExpiringItems(now, leadDays) {
			switch item {
			case equipment.ItemBattery:
				due = append(due, "배터리 "+e.BatteryExpiry.Format("2006-01-02"))
			case equipment.ItemPatch:
				due = append(due, "패드 "+e.PatchExpiry.Format("2006-01-02"))
			}
		}
		out = append(out, notification.ReminderItem{
			Serial:      e.EquipmentSerial,
			Institution: e.InstitutionName,
			Address:     strings.TrimSpace(e.InstallAddress + " " + e.InstallDetail),
			Detail:      strings.Join(due, ", "),
		})
	}
	return out
}

// Start schedules RunOnce on the configured cron schedule.
func (j *Job) Start(ctx context.Context, cfg config.ReminderConfig) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("reminder scheduler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule, func() {
		started := time.Now()
		report, err := j.RunOnce(ctx)
		if err != nil {
			j.log.Error("expiry reminder run failed", zap.Error(err))
			return
		}
		j.log.Info("expiry reminder run finished",
			zap.Int("emails", report.Emails),
			zap.Duration("took", time.Since(started)))
	})
	if err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", cfg.Schedule, err)
	}
	c.Start()
	j.cron = c
	j.log.Info("reminder scheduler started", zap.String("schedule", cfg.Schedule), zap.Int("lead_days", j.leadDays))
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
