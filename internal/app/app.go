// Package app builds the component graph shared by the servers and the
// local CLI commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scholardock/internal/auth"
	"scholardock/internal/contacted"
	"scholardock/internal/dispatch"
	"scholardock/internal/export"
	"scholardock/internal/extract"
	"scholardock/internal/extraction"
	"scholardock/internal/mail"
	"scholardock/internal/netgate"
	"scholardock/internal/progress"
	"scholardock/internal/render"
	"scholardock/internal/search"
	"scholardock/internal/store"
	"scholardock/pkg/database"
	"scholardock/pkg/logger"
	"scholardock/pkg/metrics"
	"scholardock/pkg/utils"
)

type App struct {
	Config utils.Config
	Log    logger.Logger

	DB          *sql.DB
	Store       *store.Repo
	Registry    *contacted.Registry
	Gate        *netgate.Gate
	Extractions *extraction.Manager
	Renderer    *render.Renderer
	Mail        mail.Gateway
	Hub         *progress.Hub
	Dispatcher  *dispatch.Dispatcher
	Search      *search.Service
	Metrics     *metrics.Metrics
}

// New opens the database and wires every component. Gateway may be nil, in
// which case the SMTP gateway from config is used.
func New(cfg utils.Config, log logger.Logger, gateway mail.Gateway) (*App, error) {
	dbCfg := database.DefaultConfig()
	if cfg.Database.Path != "" {
		dbCfg.Path = cfg.Database.Path
	}
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	gate, err := netgate.New(cfg.Network, log.With(logger.String("component", "netgate")))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	renderer, err := render.New(cfg.Mail.TemplatePath, cfg.Mail.FromName, cfg.Mail.FromAddress)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if gateway == nil {
		gateway = mail.NewSMTP(cfg.Mail, log.With(logger.String("component", "mail")))
	}

	m := metrics.New()
	repo := store.NewRepo(db)
	registry := contacted.NewRegistry(db)

	worker := extract.NewWorker(gate, extract.PDFReader{Pages: cfg.Extraction.DocumentPages},
		extract.ConfigFrom(cfg.Extraction), log.With(logger.String("component", "extract")))
	manager := extraction.NewManager(repo, worker, extraction.Config{
		Concurrency:    cfg.Extraction.Concurrency,
		ArticleTimeout: cfg.Extraction.ArticleTimeout,
	}, log.With(logger.String("component", "extraction")), m)

	hub := progress.NewHub(progress.Config{}, log.With(logger.String("component", "progress")), m)
	dispatcher := dispatch.NewDispatcher(dispatch.Deps{
		Articles: repo,
		Jobs:     dispatch.NewJobRepo(db),
		Registry: registry,
		Gateway:  gateway,
		Renderer: renderer,
		Progress: hub,
		Log:      log.With(logger.String("component", "dispatch")),
		Metrics:  m,
	}, dispatch.ConfigFrom(cfg.Dispatch, cfg.Mail))

	var providers []search.Provider
	if cfg.Search.ProviderURL != "" {
		providers = append(providers, search.NewHTTPProvider(cfg.Search.ProviderURL, gate))
	}
	svc := search.NewService(repo, registry, log.With(logger.String("component", "search")), cfg.Search.Timeout, providers...)

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Store:       repo,
		Registry:    registry,
		Gate:        gate,
		Extractions: manager,
		Renderer:    renderer,
		Mail:        gateway,
		Hub:         hub,
		Dispatcher:  dispatcher,
		Search:      svc,
		Metrics:     m,
	}, nil
}

// Recover fails extractions and batches a previous process left running.
func (a *App) Recover(ctx context.Context) error {
	if _, err := a.Extractions.FailInterrupted(ctx); err != nil {
		return fmt.Errorf("recover extractions: %w", err)
	}
	return a.Dispatcher.Recover(ctx)
}

// Close stops background work, then closes the database.
func (a *App) Close() error {
	a.Dispatcher.Close()
	a.Extractions.Close()
	return a.DB.Close()
}

// Router mounts every HTTP route under /api, plus health, readiness,
// metrics and the progress websocket.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(a.Log))
	_ = router.SetTrustedProxies(a.Config.Server.TrustedProxies)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := a.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db_error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok"})
	})
	router.GET("/metrics", a.Metrics.Handler())

	authCfg := a.Config.Auth
	tokens := auth.TokensFrom(authCfg)
	auth.NewHandler(auth.OperatorFrom(authCfg), tokens, authCfg.Enabled).RegisterRoutes(router.Group("/api/auth"))

	guard := auth.AuthMiddleware(tokens, authCfg.Enabled)
	router.GET("/ws/batches/:id", guard, progress.WSHandler(a.Hub, a.Dispatcher))

	api := router.Group("/api", guard)
	search.NewHandler(a.Search, a.Store).RegisterRoutes(api)
	extraction.NewHandler(a.Extractions).RegisterRoutes(api)
	dispatch.NewHandler(a.Dispatcher).RegisterRoutes(api)
	contacted.NewHandler(a.Registry).RegisterRoutes(api)
	render.NewHandler(a.Renderer).RegisterRoutes(api)
	mail.NewHandler(a.Mail, a.Config.Mail.FromAddress).RegisterRoutes(api)
	netgate.NewHandler(a.Gate).RegisterRoutes(api)
	export.NewHandler(a.Store).RegisterRoutes(api)

	return router
}
