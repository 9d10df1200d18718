package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"carekeeper/internal/platform/postgres"
	"carekeeper/migrations"
	"carekeeper/pkg/platform/audit/export"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("migrate needs DATABASE_URL")
			}
			defer db.Close()
			applied, err := postgres.Migrate(ctx, db, migrations.FS)
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return err
		},
	}
}

func retentionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Account retention lifecycle operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Run one lock-guarded retention pass and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.runner.TickOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	})
	return cmd
}

func auditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail operations",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Copy audit records in [from, to) to the archive topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			from, to, err := exportWindow(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.kafka == nil {
				return errors.New("audit export needs KAFKA_BROKERS")
			}
			exporter, err := export.New(a.stores.audit, a.kafka, a.cfg.Kafka.ArchiveTopic, export.WithLogger(a.logger))
			if err != nil {
				return err
			}
			report, err := exporter.Export(ctx, from, to)
			if perr := printJSON(cmd, report); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	exportCmd.Flags().String("from", "", "window start, RFC 3339 (default: 24h before --to)")
	exportCmd.Flags().String("to", "", "window end, RFC 3339 (default: now)")
	cmd.AddCommand(exportCmd)
	return cmd
}

func exportWindow(cmd *cobra.Command) (time.Time, time.Time, error) {
	rawFrom, _ := cmd.Flags().GetString("from")
	rawTo, _ := cmd.Flags().GetString("to")
	to := time.Now().UTC()
	if rawTo != "" {
		t, err := time.Parse(time.RFC3339, rawTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if rawFrom != "" {
		t, err := time.Parse(time.RFC3339, rawFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t
	}
	return from, to, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
