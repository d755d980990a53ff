// Package app wires the orchestrator's components together the way the
// teacher's internal/app.App does: config, then logger, then clients, then
// the core components, then the HTTP router, constructed once at process
// start and torn down together on Close.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/cache"
	"github.com/yungbote/mediapipe-orchestrator/internal/clients/remote"
	"github.com/yungbote/mediapipe-orchestrator/internal/config"
	"github.com/yungbote/mediapipe-orchestrator/internal/httpapi"
	"github.com/yungbote/mediapipe-orchestrator/internal/jobmanager"
	"github.com/yungbote/mediapipe-orchestrator/internal/pipeline"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
	"github.com/yungbote/mediapipe-orchestrator/internal/store"
)

// App holds every wired component for the lifetime of the process.
type App struct {
	Log     *logger.Logger
	Cfg     config.Config
	Store   *store.Store
	Manager *jobmanager.Manager
	Server  *http.Server

	cache cache.Cache
}

// New gathers configuration and wires the Task Store, Remote Job Clients,
// and Job Manager. Any worker whose triple is incomplete is left nil,
// disabling that stage per spec §6.
func New() (*App, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("app: logger: %w", err)
	}

	c, err := cache.New(log, cfg.CacheAddr, cfg.CacheTLS)
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}

	st, err := store.New(c, log, store.Config{
		Prefix:   cfg.TaskPrefix,
		CacheTTL: cfg.CacheTTL,
		DiskDir:  cfg.DiskDir,
		DiskTTL:  cfg.DiskTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}

	workers, err := buildWorkers(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: workers: %w", err)
	}

	manager := jobmanager.New(workers, st, jobmanager.Config{
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
	}, log)

	router := httpapi.NewRouter(manager, log)

	return &App{
		Log:     log,
		Cfg:     cfg,
		Store:   st,
		Manager: manager,
		Server:  &http.Server{Addr: cfg.HTTPAddr, Handler: router},
		cache:   c,
	}, nil
}

// buildWorkers constructs one Remote Job Client per configured worker
// triple; an incomplete triple leaves that field nil, which
// pipeline.Engine.ValidateWorkers treats as "stage unconfigured" (spec
// §4.4: "reject at submit time if [a stage] is implied but unconfigured").
func buildWorkers(cfg config.Config) (pipeline.Workers, error) {
	var workers pipeline.Workers

	if config.Configured(cfg.Sovits) {
		c, err := remote.New(remote.Config{
			EndpointID: cfg.Sovits.EndpointID,
			APIKey:     cfg.Sovits.APIKey,
			BaseURL:    cfg.Sovits.BaseURL,
			Timeout:    cfg.JobTimeout,
		})
		if err != nil {
			return workers, fmt.Errorf("sovits client: %w", err)
		}
		workers.Sovits = c
	}

	if config.Configured(cfg.Wav2Lip) {
		c, err := remote.New(remote.Config{
			EndpointID: cfg.Wav2Lip.EndpointID,
			APIKey:     cfg.Wav2Lip.APIKey,
			BaseURL:    cfg.Wav2Lip.BaseURL,
			Timeout:    cfg.JobTimeout,
		})
		if err != nil {
			return workers, fmt.Errorf("wav2lip client: %w", err)
		}
		workers.Wav2Lip = c
	}

	if config.Configured(cfg.FaceFusion) {
		c, err := remote.New(remote.Config{
			EndpointID: cfg.FaceFusion.EndpointID,
			APIKey:     cfg.FaceFusion.APIKey,
			BaseURL:    cfg.FaceFusion.BaseURL,
			Timeout:    cfg.JobTimeout,
		})
		if err != nil {
			return workers, fmt.Errorf("facefusion client: %w", err)
		}
		workers.FaceFusion = c
	}

	return workers, nil
}

// Run starts the HTTP server and blocks until it stops (ListenAndServe's
// normal contract).
func (a *App) Run() error {
	a.Log.Info("starting http server", "addr", a.Cfg.HTTPAddr)
	if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down the HTTP server, then the Job Manager (which cancels
// every in-flight engine and closes the Remote Job Clients and Task Store).
func (a *App) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http server shutdown error", "error", err)
	}
	return a.Manager.Close(ctx)
}
