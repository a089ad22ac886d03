package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/audit"
	equipmentinfra "github.com/aed-compliance/platform/internal/equipment/infrastructure"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/organization"
	"github.com/aed-compliance/platform/internal/region"
	"github.com/aed-compliance/platform/internal/reminder"
	"github.com/aed-compliance/platform/internal/shared/config"
	"github.com/aed-compliance/platform/internal/shared/database"
	"github.com/aed-compliance/platform/internal/shared/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aedctl",
		Short:         "Operator tools for the AED inspection platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRegionsCmd(), newScopeCmd(), newRulesCmd(), newMigrateCmd(), newRemindersCmd())
	return root
}

func newRegionsCmd() *cobra.Command {
	regions := &cobra.Command{
		Use:   "regions",
		Short: "Region table tools",
	}
	regions.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a region table; without a file the built-in table is checked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			t, err := region.Load(path)
			if err != nil {
				return err
			}
			cities := 0
			for _, r := range t.Regions() {
				cities += len(r.Cities)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d regions, %d cities\n", len(t.Codes()), cities)
			return nil
		},
	})
	return regions
}

func newScopeCmd() *cobra.Command {
	var (
		role, regionCode, district, criterion, regionsFile string
		devices                                            []string
	)

	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Print the access scope and equipment filter of a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, known := access.ParseRole(role)
			if !known {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown role %q resolves to no access\n", role)
			}
			t, err := region.Load(regionsFile)
			if err != nil {
				return err
			}
			if regionCode != "" {
				if _, ok := t.Lookup(regionCode); !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown region %q\n", regionCode)
				} else if district != "" && !t.HasCity(regionCode, district) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q is not a city of %s\n", district, regionCode)
				}
			}
			c, err := access.ParseMatchCriterion(criterion)
			if err != nil {
				return err
			}

			profile := access.Profile{Role: r, RegionCode: regionCode, DistrictCode: district, AssignedDeviceIDs: devices}
			scope := access.ResolveAccessScope(profile)
			filter, err := access.BuildEquipmentFilter(scope, c)
			if err != nil {
				return err
			}
			sido := ""
			if filter.Sido != nil {
				sido = t.SidoLabel(*filter.Sido)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"role":         r,
				"label":        access.RoleInfo(r).Label,
				"jurisdiction": access.RoleInfo(r).Jurisdiction,
				"scope":        scope,
				"scope_key":    scope.Key(),
				"filter":       filter,
				"sido_label":   sido,
				"matches_none": filter.MatchesNone(),
			})
		},
	}
	resolve.Flags().StringVar(&role, "role", "", "one of "+roleNames())
	resolve.Flags().StringVar(&regionCode, "region", "", "region code, e.g. DAE")
	resolve.Flags().StringVar(&district, "district", "", "district (city) name")
	resolve.Flags().StringSliceVar(&devices, "devices", nil, "assigned equipment serials")
	resolve.Flags().StringVar(&criterion, "criterion", string(access.MatchByAddress), "address or jurisdiction")
	resolve.Flags().StringVar(&regionsFile, "regions-file", "", "region table override")
	_ = resolve.MarkFlagRequired("role")

	scope := &cobra.Command{Use: "scope", Short: "Access scope tools"}
	scope.AddCommand(resolve)
	return scope
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the inspection permission rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, rule := range access.InspectionRules() {
				roles := "*"
				if rule.Roles != nil {
					names := make([]string, len(rule.Roles))
					for j, r := range rule.Roles {
						names[j] = r.String()
					}
					roles = strings.Join(names, ", ")
				}
				fmt.Fprintf(out, "%d. %s: %s\n", i+1, rule.Name, roles)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			applied, err := database.Migrate(cmd.Context(), env.db.Pool, env.log)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}

func newRemindersCmd() *cobra.Command {
	var leadDays int

	run := &cobra.Command{
		Use:   "run",
		Short: "Send expiry reminders now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			if !cmd.Flags().Changed("lead-days") {
				leadDays = env.cfg.Reminders.LeadDays
			}
			regions, err := region.Load(env.cfg.Regions.Path)
			if err != nil {
				return err
			}

			auditRepo := audit.NewRepository(env.db.Pool)
			orgs := organization.NewRepository(env.db.Pool, auditRepo)
			devices := equipmentinfra.NewPostgresRepository(env.db.Pool, regions)
			// synchronous delivery: no workers are started
			mailer := notification.NewService(notification.NewProvider(env.cfg.SMTP, env.log), env.log, notification.DefaultServiceConfig())

			job := reminder.NewJob(orgs, devices, mailer, auditRepo, env.log, leadDays)
			report, err := job.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	run.Flags().IntVar(&leadDays, "lead-days", 30, "days ahead to look for expiring consumables")

	reminders := &cobra.Command{Use: "reminders", Short: "Expiry reminder jobs"}
	reminders.AddCommand(run)
	return reminders
}

type environment struct {
	cfg *config.Config
	log *zap.Logger
	db  *database.DB
}

func connect(ctx context.Context) (*environment, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console", ServiceName: "aedctl"})
	if err != nil {
		return nil, err
	}
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, log: log, db: db}, nil
}

func (e *environment) close() {
	e.db.Close()
	_ = e.log.Sync()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func roleNames() string {
	roles := access.AllRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
