package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"secretary/internal/gateway"
	"secretary/internal/scheduler"
	"secretary/internal/version"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "secretary",
	Short: "Project secretary chat bot",
	Long: `Secretary is a chat bot for project teams. It answers task commands and
trigger phrases from the shared task store, forwards other project questions
to a language model, and pushes due reminders and reports on a schedule.

Without a subcommand the webhook server is started.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the webhook server",
	Long: `Start the HTTP server receiving LINE (and optionally Telegram) webhooks,
together with the scheduled jobs and, when enabled, the admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Secretary %s\n", version.Full())
		buildInfo := version.Get()

		if buildInfo.GitCommit != "" {
			fmt.Fprintf(out, "Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.GitDirty {
			fmt.Fprintf(out, "Git status: dirty (uncommitted changes)\n")
		}
		if buildInfo.BuildDate != "" {
			fmt.Fprintf(out, "Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Fprintf(out, "Go version: %s\n", buildInfo.GoVersion)

		return nil
	},
}

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "database", "", "database file path (overrides database.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Server command flags
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides port from config)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(chatCmd)

	// If no command is specified, default to server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func initLogging() {
	if verbose {
		enableVerboseLogging()
	}
}

func enableVerboseLogging() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Verbose logging enabled")
}

func runServer(ctx context.Context) error {
	cfg, dd, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}

	a, err := newApp(cfg, databasePath(cfg, dd), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	hooks, err := a.addPlatforms()
	if err != nil {
		return fmt.Errorf("failed to set up chat platforms: %w", err)
	}

	var sched scheduler.SchedulerInterface
	if cfg.Scheduler.Enabled {
		sched = a.scheduler
	} else {
		log.Println("[Scheduler] Disabled by configuration")
	}

	gw := gateway.New(cfg, a.store, a.manager, gateway.Options{
		Scheduler: sched,
		Metrics:   a.metrics,
		Version:   version.Info(),
	})
	for path, h := range hooks {
		gw.HandleWebhook(path, h)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting Secretary %s on port %d", version.Full(), cfg.Port)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("gateway failed: %w", err)
	}

	log.Println("Secretary stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
