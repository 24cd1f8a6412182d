// Package gateway is the bot's HTTP front: platform webhooks, operational
// endpoints and the admin API, plus the server lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"secretary/internal/channels"
	"secretary/internal/config"
	"secretary/internal/middleware"
	"secretary/internal/models"
	"secretary/internal/monitoring"
	"secretary/internal/scheduler"
	"secretary/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Store is the persistence the HTTP surface reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	ListMessages(ctx context.Context, filter store.MessageFilter) ([]models.Message, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error
	SaveTaskFlow(ctx context.Context, taskID string, steps []models.TaskFlowStep) error
	GetTaskFlow(ctx context.Context, taskID string) ([]models.TaskFlowStep, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, userID string) error
	ListTaskLogs(ctx context.Context, taskID string) ([]models.TaskLog, error)
	ListUsers(ctx context.Context, filter store.UserFilter) ([]models.User, error)
	GetSettings(ctx context.Context, userID string) (*models.Settings, error)
	SaveSettings(ctx context.Context, st *models.Settings) error
}

// Options carries the optional collaborators of a Gateway.
type Options struct {
	Scheduler scheduler.SchedulerInterface
	Metrics   *monitoring.Metrics
	Version   string
}

// Gateway owns the HTTP server and the background services started with it.
type Gateway struct {
	config         *config.Config
	store          Store
	channelManager *channels.Manager
	scheduler      scheduler.SchedulerInterface
	metrics        *monitoring.Metrics
	version        string

	authMiddleware      *middleware.AuthMiddleware
	rateLimitMiddleware *middleware.RateLimitMiddleware

	router chi.Router
}

// New builds the gateway and its routes. Webhooks are added afterwards with
// HandleWebhook.
func New(cfg *config.Config, st Store, manager *channels.Manager, opts Options) *Gateway {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if opts.Version != "" {
		metrics.SetVersion(opts.Version)
	}

	g := &Gateway{
		config:         cfg,
		store:          st,
		channelManager: manager,
		scheduler:      opts.Scheduler,
		metrics:        metrics,
		version:        opts.Version,
		authMiddleware: middleware.NewAuthMiddleware(cfg.Admin.Token, func(r *http.Request, err middleware.AuthError) {
			log.Printf("[Gateway] Admin auth failed: %s %s (%s)", r.Method, r.URL.Path, err.Error)
		}),
		rateLimitMiddleware: middleware.NewRateLimitMiddleware(cfg.RateLimiting, nil),
	}
	g.router = g.routes()
	return g
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()

	// Public operational endpoints (no auth required, but rate limited)
	r.Handle("/health", g.rateLimitMiddleware.Wrap(http.HandlerFunc(g.handleHealth)))
	r.Handle("/metrics", g.rateLimitMiddleware.Wrap(http.HandlerFunc(g.handleMetrics)))

	if !g.config.Admin.Enabled {
		return r
	}

	// Admin API: cors first so preflight requests never need a token, then
	// auth (sets context), then rate limiting (uses context).
	r.Route("/api", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: g.config.Admin.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		api.Use(g.authMiddleware.Wrap)
		api.Use(g.rateLimitMiddleware.Wrap)

		api.Get("/messages", g.handleListMessages)
		api.Get("/tasks", g.handleListTasks)
		api.Post("/tasks", g.handleCreateTask)
		api.Get("/tasks/{id}", g.handleGetTask)
		api.Patch("/tasks/{id}/status", g.handleUpdateTaskStatus)
		api.Get("/tasks/{id}/flow", g.handleTaskFlow)
		api.Get("/tasks/{id}/logs", g.handleTaskLogs)
		api.Get("/users", g.handleListUsers)
		api.Get("/settings/{userId}", g.handleGetSettings)
		api.Put("/settings/{userId}", g.handlePutSettings)
	})
	return r
}

// HandleWebhook mounts a platform webhook at path behind the per-IP rate
// limiter.
func (g *Gateway) HandleWebhook(path string, h http.Handler) {
	g.router.Method(http.MethodPost, path, g.rateLimitMiddleware.Wrap(h))
	log.Printf("[Gateway] Webhook mounted at %s", path)
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start listens on the configured port and blocks until ctx is cancelled or
// the server fails.
func (g *Gateway) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", g.config.Port, err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the gateway on ln. Channels and the scheduler are started
// first and everything is stopped again before Serve returns.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := g.channelManager.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start channels: %w", err)
	}
	if g.scheduler != nil {
		g.scheduler.Start()
	}
	defer g.stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Printf("[Gateway] Listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Println("[Gateway] Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return eg.Wait()
}

func (g *Gateway) stop() {
	if g.scheduler != nil {
		g.scheduler.Stop()
	}
	g.rateLimitMiddleware.Stop()
	log.Println("[Gateway] Stopped")
}
