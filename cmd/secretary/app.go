package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"secretary/internal/ai"
	"secretary/internal/channels"
	"secretary/internal/channels/line"
	"secretary/internal/channels/telegram"
	"secretary/internal/config"
	"secretary/internal/contextcache"
	"secretary/internal/datadir"
	"secretary/internal/dispatch"
	"secretary/internal/jobs"
	"secretary/internal/maintenance"
	"secretary/internal/monitoring"
	"secretary/internal/prompts"
	"secretary/internal/scheduler"
	"secretary/internal/store"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg         *config.Config
	store       *store.Store
	texts       *prompts.Catalog
	completions *ai.Completions
	metrics     *monitoring.Metrics
	manager     *channels.Manager
	dispatcher  *dispatch.Dispatcher
	scheduler   *scheduler.Scheduler
	runner      *jobs.Runner
}

// loadConfig resolves the data directory, loads .env files and then the
// config file, so ${ENV} placeholders can refer to values from .env.
func loadConfig() (*config.Config, *datadir.DataDir, error) {
	dd, err := datadir.New("")
	if err != nil {
		log.Printf("WARNING: Could not resolve data directory: %v", err)
	} else if err := datadir.LoadEnv(dd.Root(), "."); err != nil {
		log.Printf("WARNING: Failed to load .env files: %v", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Debug.VerboseLogging {
		enableVerboseLogging()
	}

	// data_dir from the config file applies unless the environment overrides it
	dd, err = datadir.New(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directories: %w", err)
	}
	cfg.Prompts.Path = dd.PromptsPath(cfg.Prompts.Path)
	return cfg, dd, nil
}

// databasePath applies the --database flag over the configured path.
func databasePath(cfg *config.Config, dd *datadir.DataDir) string {
	path := cfg.Database.Path
	if dbPath != "" {
		path = dbPath
	}
	return dd.DatabasePath(path)
}

// newApp wires the store, completion gateway, dispatcher and scheduler
// with its jobs.
// A nil provider selects the OpenAI provider from the config. Chat
// platforms are added separately with addPlatforms.
func newApp(cfg *config.Config, dbFile string, provider ai.Provider) (*app, error) {
	texts, err := prompts.Load(cfg.Prompts.Path, cfg.Language())
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	if provider == nil {
		p, err := ai.NewOpenAIProvider(cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("failed to create AI provider: %w", err)
		}
		provider = p
	}

	st, err := store.Open(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbFile, err)
	}

	a := &app{
		cfg:     cfg,
		store:   st,
		texts:   texts,
		metrics: monitoring.NewMetrics(),
		manager: channels.NewManager(),
	}
	a.completions = ai.NewCompletions(provider, texts.AIPrompts(), ai.Options{
		Model:           cfg.AI.Model,
		SummaryModel:    cfg.AI.SummaryModel,
		Timeout:         cfg.AI.Timeout(),
		DefaultLanguage: cfg.Language(),
		Location:        cfg.GetLocation(),
	})

	cache := contextcache.New(cfg.ContextCache.Size, time.Duration(cfg.ContextCache.TTLSeconds)*time.Second)
	a.dispatcher = dispatch.New(st, a.completions, cache, texts, a.manager, dispatch.Options{
		ExtractTasks:      cfg.AI.ExtractTasks,
		ExtractTimeout:    cfg.AI.Timeout(),
		LogMessageContent: cfg.Debug.LogMessageContent,
		Metrics:           a.metrics,
	})

	a.scheduler = scheduler.New(scheduler.Options{
		Location:   cfg.GetLocation(),
		RetryDelay: time.Duration(cfg.Scheduler.RetryDelaySeconds) * time.Second,
		MaxRetries: cfg.Scheduler.MaxRetries,
		Metrics:    a.metrics,
	})
	a.runner = jobs.NewRunner(st, a.completions, a.manager, texts, nil)
	if err := a.runner.Register(a.scheduler, cfg.Scheduler); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	if cfg.Maintenance.Enabled {
		task := maintenance.New(st, cfg.Maintenance, nil)
		if err := a.scheduler.RegisterJob(config.JobMaintenance, cfg.Maintenance.Schedule, task.Action); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to register maintenance: %w", err)
		}
	}

	return a, nil
}

// addPlatforms registers LINE and, when enabled, Telegram with the channel
// manager and returns the webhooks to mount.
func (a *app) addPlatforms() (map[string]http.Handler, error) {
	hooks := make(map[string]http.Handler)

	if a.cfg.LINE.ChannelSecret == "" || a.cfg.LINE.ChannelToken == "" {
		log.Printf("WARNING: LINE credentials not configured, LINE webhook disabled")
	} else {
		lineAdapter, err := line.New(a.cfg.LINE, a.dispatcher)
		if err != nil {
			return nil, err
		}
		lineAdapter.LogMessageContent(a.cfg.Debug.LogMessageContent)
		a.manager.Register(lineAdapter)
		hooks["/webhook"] = lineAdapter
	}

	if a.cfg.Telegram.Enabled {
		tg, err := telegram.New(a.cfg.Telegram, a.dispatcher)
		if err != nil {
			return nil, err
		}
		tg.LogMessageContent(a.cfg.Debug.LogMessageContent)
		tg.WithRecipients(a.telegramRecipients)
		a.manager.Register(tg)
		if a.cfg.Telegram.WebhookMode {
			hooks["/webhook/telegram"] = tg.WebhookHandler()
		}
	}

	return hooks, nil
}

// telegramRecipients lists the registered Telegram users, who receive
// Telegram broadcasts.
func (a *app) telegramRecipients(ctx context.Context) ([]string, error) {
	users, err := a.store.ListUsers(ctx, store.UserFilter{IDPrefix: telegram.UserPrefix})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.LineID)
	}
	return ids, nil
}

func (a *app) Close() error {
	a.dispatcher.Wait()
	return a.store.Close()
}
