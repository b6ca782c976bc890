// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/phayes/freeport"
	"github.com/rs/zerolog/log"

	"github.com/electorrent/electorrent/internal/api"
	"github.com/electorrent/electorrent/internal/clients"
	"github.com/electorrent/electorrent/internal/config"
	"github.com/electorrent/electorrent/internal/database"
	"github.com/electorrent/electorrent/internal/models"
)

var ErrAppNotRunning = errors.New("application is not running")

// AppOptions tune the in-process server for fast feedback.
type AppOptions struct {
	DataDir        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// App is an electorrent server running in the test process. Its data dir and
// port survive Restart, so a restart looks like relaunching the binary.
type App struct {
	opts AppOptions
	port int

	mu      sync.Mutex
	running *appRun
}

type appRun struct {
	cancel context.CancelFunc
	server *api.Server
	pool   *clients.Pool
	db     *database.DB
	done   chan error
}

// NewApp reserves a free port. The server starts on Start.
func NewApp(opts AppOptions) (*App, error) {
	if opts.DataDir == "" {
		return nil, errors.New("app data dir is required")
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 3 * time.Second
	}

	port, err := freeport.GetFreePort()
	if err != nil {
		return nil, fmt.Errorf("find free port: %w", err)
	}

	return &App{opts: opts, port: port}, nil
}

// URL is the base address of the API, without a trailing slash.
func (a *App) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.port)
}

// Start loads the config from the data dir and serves until Stop.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running != nil {
		return nil
	}

	if err := os.MkdirAll(a.opts.DataDir, 0o755); err != nil {
		return err
	}

	cfg, err := config.New(a.opts.DataDir, "e2e")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.SetDataDir(a.opts.DataDir)
	cfg.Config.Host = "127.0.0.1"
	cfg.Config.Port = a.port
	cfg.Config.BaseURL = "/"
	cfg.Config.PollInterval = a.opts.PollInterval
	cfg.Config.RequestTimeout = a.opts.RequestTimeout

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	instanceStore, err := models.NewInstanceStore(db.Conn(), cfg.GetEncryptionKey())
	if err != nil {
		db.Close()
		return err
	}
	errorStore := models.NewInstanceErrorStore(db.Conn())

	pool := clients.NewPool(instanceStore, errorStore, cfg.Config.RequestTimeout)
	syncManager := clients.NewSyncManager(pool, instanceStore, cfg.Config.PollInterval)

	server := api.NewServer(&api.Dependencies{
		Config:        cfg,
		Version:       "e2e",
		DB:            db.Conn(),
		InstanceStore: instanceStore,
		ErrorStore:    errorStore,
		ClientPool:    pool,
		SyncManager:   syncManager,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go syncManager.Start(runCtx)

	run := &appRun{cancel: cancel, server: server, pool: pool, db: db, done: make(chan error, 1)}
	ready := make(chan struct{}, 1)
	go func() {
		run.done <- server.ListenAndServeReady(ready)
	}()

	select {
	case <-ready:
	case err := <-run.done:
		cancel()
		pool.Close()
		db.Close()
		return fmt.Errorf("start server: %w", err)
	case <-ctx.Done():
		a.stop(run)
		return ctx.Err()
	}

	a.running = run
	log.Info().Str("url", a.URL()).Str("dataDir", a.opts.DataDir).Msg("Application started")

	return WaitForHTTP(ctx, a.URL()+"/health", http.StatusOK, 10*time.Second)
}

// Stop shuts the server down. The data dir is kept.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running == nil {
		return nil
	}
	err := a.stop(a.running)
	a.running = nil
	return err
}

func (a *App) stop(run *appRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run.cancel()
	err := run.server.Shutdown(ctx)
	if serveErr := <-run.done; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	err = errors.Join(err, run.pool.Close(), run.db.Close())

	log.Info().Msg("Application stopped")
	return err
}

// Restart stops and starts the server over the same data dir.
func (a *App) Restart(ctx context.Context) error {
	if err := a.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return a.Start(ctx)
}

func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running != nil
}
