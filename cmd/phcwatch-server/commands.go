package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations against a facility schema",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, err := db.SchemaName(facilityFlag(cmd, cfg.DefaultFacility))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema, err := db.SchemaName(facilityFlag(cmd, cfg.DefaultFacility))
			if err != nil {
				return err
			}
			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func facilityFlag(cmd *cobra.Command, fallback string) string {
	if f, _ := cmd.Flags().GetString("facility"); f != "" {
		return f
	}
	return fallback
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage PHC facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a facility schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			schema, err := db.SchemaName(name)
			if err != nil {
				return err
			}

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Creating facility schema: %s\n", schema)
			if err := db.CreateFacilitySchema(ctx, pool, name, db.Migrations()); err != nil {
				return err
			}
			fmt.Fprintln(out, "Facility created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (lowercase letters, digits, underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

// scoreOutput is what the score command prints.
type scoreOutput struct {
	scoring.Result
	Advice []string `json:"advice"`
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a NEWS2 score offline",
		Long: "Computes the NEWS2 score for one set of readings without a database. " +
			"Readings that are omitted, empty or not numeric are treated as not measured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			reading := func(name string) *float64 {
				raw, _ := flags.GetString(name)
				return scoring.ParseReading(raw)
			}
			avpu, _ := flags.GetString("avpu")
			redFlags, _ := flags.GetStringArray("red-flag")

			v := scoring.VitalReadings{
				RespiratoryRate: reading("rr"),
				SpO2:            reading("spo2"),
				Temperature:     reading("temp"),
				SystolicBP:      reading("sbp"),
				PulseRate:       reading("pulse"),
				Consciousness:   scoring.ParseConsciousness(avpu),
			}
			res := scoring.Compute(v, redFlags)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scoreOutput{Result: res, Advice: scoring.Advice(res.RiskLevel)})
		},
	}
	flags := cmd.Flags()
	flags.String("rr", "", "Respiratory rate (breaths/min)")
	flags.String("spo2", "", "Oxygen saturation (%)")
	flags.String("temp", "", "Temperature (°C)")
	flags.String("sbp", "", "Systolic blood pressure (mmHg)")
	flags.String("pulse", "", "Pulse rate (beats/min)")
	flags.String("avpu", "", "Consciousness: A, C, V, P or U")
	flags.StringArray("red-flag", nil, "Red flag observed (repeatable)")
	return cmd
}
