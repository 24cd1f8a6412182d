package main

import (
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"secretary/internal/config"
	"secretary/internal/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run scheduled jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured jobs and their next run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderJobs(describeJobs(cfg, time.Now())))
		if !cfg.Scheduler.Enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "Scheduler is disabled; jobs only run with `secretary jobs run`.")
		}
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a job once now, with retries, and wait for it",
	Args:  cobra.ExactArgs(1),
	ValidArgs: []string{
		config.JobDueReminders, config.JobDailySummary, config.JobWeeklyReport, config.JobMaintenance,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dd, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, databasePath(cfg, dd), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		// Jobs push through the platforms, so they are registered but not
		// started: no webhook or polling loop is needed to send.
		if _, err := a.addPlatforms(); err != nil {
			return fmt.Errorf("failed to set up chat platforms: %w", err)
		}

		start := time.Now()
		if err := a.scheduler.RunNow(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("job %s failed: %w", args[0], err)
		}
		log.Printf("[Jobs] %s completed in %v", args[0], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
}

type jobRow struct {
	Name     string
	Schedule string
	Enabled  bool
	NextRun  time.Time
}

// describeJobs computes the next run of each configured job in the
// configured timezone. Maintenance is listed only when enabled.
func describeJobs(cfg *config.Config, now time.Time) []jobRow {
	loc := cfg.GetLocation()
	rows := make([]jobRow, 0, len(cfg.Scheduler.Jobs)+1)
	add := func(name, spec string, enabled bool) {
		row := jobRow{Name: name, Schedule: spec, Enabled: enabled}
		if sched, err := scheduler.Parser.Parse(spec); err == nil && enabled {
			row.NextRun = sched.Next(now.In(loc))
		}
		rows = append(rows, row)
	}
	for _, jc := range cfg.Scheduler.Jobs {
		add(jc.Name, jc.Schedule, jc.Enabled)
	}
	if cfg.Maintenance.Enabled {
		add(config.JobMaintenance, cfg.Maintenance.Schedule, true)
	}
	return rows
}

func renderJobs(rows []jobRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("JOB", "SCHEDULE", "ENABLED", "NEXT RUN")
	for _, r := range rows {
		next := "-"
		if !r.NextRun.IsZero() {
			next = r.NextRun.Format("2006-01-02 15:04 MST")
		}
		t.Row(r.Name, r.Schedule, fmt.Sprintf("%t", r.Enabled), next)
	}
	return t.String()
}
