package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/bpcheck/internal/config"
	"github.com/ehr/bpcheck/internal/domain/bloodpressure"
	"github.com/ehr/bpcheck/internal/platform/db"
	"github.com/ehr/bpcheck/pkg/bpclass"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bp-server",
		Short:        "Blood pressure classification service",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(categoriesCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			fmt.Fprintf(cmd.OutOrStdout(), "STORE=%s creates its schema on open, nothing to migrate.\n", cfg.Store)
			return nil
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, dir))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// pressureFlags registers --systolic and --diastolic, both required.
func pressureFlags(cmd *cobra.Command) {
	cmd.Flags().Int("systolic", 0, "Systolic pressure in mmHg")
	cmd.Flags().Int("diastolic", 0, "Diastolic pressure in mmHg")
	_ = cmd.MarkFlagRequired("systolic")
	_ = cmd.MarkFlagRequired("diastolic")
}

func readPressure(cmd *cobra.Command) (int, int) {
	s, _ := cmd.Flags().GetInt("systolic")
	d, _ := cmd.Flags().GetInt("diastolic")
	return s, d
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Print the category of a reading as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), bpclass.Classify(readPressure(cmd)))
		},
	}
	pressureFlags(cmd)
	return cmd
}

func assessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Print the full assessment of a reading as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), bpclass.Analyze(readPressure(cmd)))
		},
	}
	pressureFlags(cmd)
	return cmd
}

func trendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Analyze a series of readings from a JSON file or stdin",
		Long: "Reads either a JSON array of readings or an object with a \"readings\" array.\n" +
			"Each reading has systolic, diastolic and optionally id and timestamp (RFC3339).",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if path, _ := cmd.Flags().GetString("file"); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open readings: %w", err)
				}
				defer f.Close()
				in = f
			}

			readings, err := decodeReadings(in)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), bpclass.AnalyzeTrend(readings))
		},
	}
	cmd.Flags().StringP("file", "f", "", "Path to a readings JSON file (default stdin)")
	return cmd
}

func decodeReadings(r io.Reader) ([]bpclass.Reading, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read readings: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var readings []bpclass.Reading
		if err := json.Unmarshal(data, &readings); err != nil {
			return nil, fmt.Errorf("decode readings: %w", err)
		}
		return readings, nil
	}

	var in bloodpressure.TrendInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return in.Readings, nil
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Print the category table as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), bpclass.Categories())
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
