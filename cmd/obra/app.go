package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mschirtzinger/obracontrol/internal/config"
	"github.com/mschirtzinger/obracontrol/internal/logging"
	"github.com/mschirtzinger/obracontrol/internal/metrics"
	"github.com/mschirtzinger/obracontrol/internal/obra/assist"
	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/remote"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/session"
	obrasync "github.com/mschirtzinger/obracontrol/internal/obra/sync"
)

// app is the wired stack behind every command that touches project data.
type app struct {
	cfg       *config.Config
	logs      *logging.Factory
	metrics   *metrics.Metrics
	local     *local.DB
	gateway   *gateway.Gateway
	workspace *obrasync.Workspace

	// closers run in reverse order after the workspace is flushed.
	closers []io.Closer
}

// loadConfig reads the config file and environment and applies the global
// flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: configFile, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	return cfg, nil
}

// openApp opens the local database, the configured remote store and the
// workspace for the active key.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a := &app{
		cfg: cfg,
		logs: logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    cfg.Log.Verbose,
			Stderr:     os.Stderr,
		}),
		metrics: metrics.New(),
	}

	a.local, err = local.OpenContext(ctx, cfg.DBPath())
	if err != nil {
		a.logs.Close()
		return nil, err
	}

	rs, err := a.openRemote(ctx)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	gwConfig := gateway.DefaultConfig()
	gwConfig.AppID = cfg.AppID
	gwConfig.PollInterval = cfg.Remote.PollInterval
	gwConfig.StaleWriteGuard = cfg.Sync.StaleWriteGuard
	gwConfig.Metrics = a.metrics
	gwConfig.Logger = a.logs.Logger("gateway")
	if rs != nil && cfg.Notify.RedisURL != "" {
		notifier, err := remote.NewRedisNotifier(ctx, cfg.Notify.RedisURL)
		if err != nil {
			// Polling still delivers changes, only slower.
			gwConfig.Logger.Printf("Warning: change notifications disabled: %v", err)
		} else {
			gwConfig.Notifier = notifier
			a.closers = append(a.closers, notifier)
		}
	}

	a.gateway, err = gateway.NewWithConfig(a.local, rs, a.session(), gwConfig)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.workspace, err = obrasync.Open(ctx, a.gateway, a.local, &obrasync.Config{
		Key:              keyFlag,
		FirstSyncTimeout: cfg.Sync.FirstSyncTimeout,
		Logger:           a.logs.Logger("sync"),
	})
	if err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

// openRemote returns the document store selected by remote.driver, or nil
// for local-only operation.
func (a *app) openRemote(ctx context.Context) (remote.DocumentStore, error) {
	rc := a.cfg.Remote
	switch rc.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory:
		m := remote.NewMemory()
		a.closers = append(a.closers, m)
		return m, nil
	case config.DriverLibSQL:
		s, err := remote.OpenLibSQL(ctx, rc.URL, rc.AuthToken)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.DriverSQLite:
		dsn := rc.URL
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		conn, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote database: %w", err)
		}
		s, err := remote.NewSQL(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.DriverMongo:
		m, err := remote.OpenMongo(ctx, rc.URL, rc.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, m)
		return m, nil
	}
	return nil, fmt.Errorf("unknown remote driver %q", rc.Driver)
}

// session builds the process identity. Without a signing secret the
// provider is disabled and saves stay local.
func (a *app) session() *session.Session {
	logger := a.logs.Logger("session")
	var provider session.Provider = session.Disabled{}
	if p, err := session.NewJWTProvider(a.cfg.Auth.Secret, a.cfg.Auth.Issuer, 0); err == nil {
		provider = p
	} else if a.cfg.RemoteEnabled() {
		logger.Printf("Warning: %v; remote sync is disabled", err)
	}
	return session.New(&session.Config{
		Provider: provider,
		Token:    a.cfg.Auth.Token,
		Logger:   logger,
	})
}

// assistant returns the generative assistant, disabled when no API key is
// configured.
func (a *app) assistant() *assist.Assistant {
	config := &assist.Config{
		CacheTTL:      a.cfg.Assist.CacheTTL,
		RatePerMinute: a.cfg.Assist.RatePerMinute,
		Metrics:       a.metrics,
		Logger:        a.logs.Logger("assist"),
	}
	if a.cfg.Assist.APIKey != "" {
		gen, err := assist.NewAnthropicGenerator(a.cfg.Assist.APIKey, a.cfg.Assist.Model, a.cfg.Assist.MaxTokens)
		if err != nil {
			config.Logger.Printf("Warning: %v", err)
		} else {
			config.Generator = gen
		}
	}
	return assist.New(config)
}

// project resolves --project (an id or a project name) or falls back to
// the active project.
func (a *app) project() (schema.ID, *schema.Project, error) {
	id := a.workspace.ActiveProject()
	if projectFlag != "" {
		var err error
		id, err = a.findProject(projectFlag)
		if err != nil {
			return 0, nil, err
		}
	}
	p, err := a.workspace.Project(id)
	if err != nil {
		return 0, nil, err
	}
	return id, p, nil
}

func (a *app) findProject(ref string) (schema.ID, error) {
	if id, err := schema.ParseID(ref); err == nil {
		return id, nil
	}
	for _, sum := range a.workspace.Projects() {
		if strings.EqualFold(sum.Name, ref) {
			return sum.ID, nil
		}
	}
	return 0, fmt.Errorf("no project named %q", ref)
}

// Close flushes pending remote writes and releases every resource.
func (a *app) Close(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Sync.FlushTimeout)
	defer cancel()
	if err := a.workspace.Close(flushCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "Warning: remote sync still pending after %s; changes are saved locally\n",
				a.cfg.Sync.FlushTimeout)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: closing workspace: %v\n", err)
		}
	}
	a.closeResources()
}

func (a *app) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
	if a.local != nil {
		_ = a.local.Close()
	}
	_ = a.logs.Close()
}

// withApp runs fn against an open workspace and exits with status 1 when
// fn fails. The workspace is flushed and closed before exiting.
func withApp(fn func(ctx context.Context, a *app) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening workspace: %v\n", err)
		os.Exit(1)
	}

	err = fn(ctx, a)
	a.Close(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
