package app

import (
	"context"
	"errors"
	"time"

	"github.com/gitpress/gitpress/internal/config"
	"github.com/gitpress/gitpress/internal/contentcache"
	"github.com/gitpress/gitpress/internal/draft"
	"github.com/gitpress/gitpress/internal/hosting"
	"github.com/gitpress/gitpress/internal/logger"
	"github.com/gitpress/gitpress/internal/model"
	"github.com/gitpress/gitpress/internal/storage"
	"github.com/gitpress/gitpress/internal/syncer"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config  *config.Config
	Backend storage.Backend
	Cache   contentcache.Store
	Orch    *syncer.Orchestrator

	// Host and Drafts are nil in pure local mode (no mirroring).
	Host   *hosting.Client
	Drafts *draft.Manager

	BaseCtx context.Context
	Cancel  context.CancelFunc
}

// New wires the full dependency graph from resolved configuration: hosting
// client and draft manager when the mode needs them, the cache backend, the
// storage backend and the orchestrator on top.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	a := &App{Config: cfg}

	needsRemote := cfg.Storage.Mode == config.ModeGitHub || cfg.Storage.MirrorDev
	if needsRemote {
		repo := model.RepositoryRef{Owner: cfg.Repo.Owner, Name: cfg.Repo.Name}
		a.Host = hosting.NewClient(repo, cfg.Repo.Token, cfg.Repo.DefaultBranch, cfg.Storage.CallWait)

		drafts, err := draft.NewManager(a.Host, cfg.Repo.DraftBranch, cfg.Repo.DefaultBranch)
		if err != nil {
			return nil, err
		}
		a.Drafts = drafts
	}

	var queue syncer.WriteQueue
	switch cfg.Cache.Backend {
	case "sqlite":
		store, err := contentcache.NewSQLiteStore(cfg.Cache.SQLitePath, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		a.Cache = store
		queue = store
	default:
		a.Cache = contentcache.NewMemoryStore(cfg.Cache.TTL)
	}

	// Interface-typed nils must stay nil, not typed-nil pointers.
	var host storage.ContentHost
	var drafts storage.DraftManager
	var heads syncer.HeadSource
	if a.Host != nil {
		host = a.Host
		heads = a.Host
	}
	if a.Drafts != nil {
		drafts = a.Drafts
	}

	backend, err := storage.NewBackendFromConfig(cfg, host, drafts, cfg.Repo.DefaultBranch)
	if err != nil {
		return nil, err
	}
	a.Backend = backend

	orch, err := syncer.NewOrchestrator(backend, a.Cache, host, drafts, heads, queue)
	if err != nil {
		return nil, err
	}
	a.Orch = orch

	a.BaseCtx, a.Cancel = context.WithCancel(context.Background())
	return a, nil
}

func (a *App) Shutdown() {
	if a == nil {
		return
	}
	if a.Cancel != nil {
		a.Cancel()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.WithComponent("app").Warnf("closing cache: %v", err)
		}
	}
}

// StartWatchers starts the background loops the selected mode needs: the
// filesystem watcher in local mode, and the pending-write drainer when both
// a write queue and a remote side exist.
func (a *App) StartWatchers() error {
	if local, ok := a.Backend.(*storage.LocalBackend); ok {
		if err := local.StartWatcher(a.BaseCtx, a.Cache); err != nil {
			return err
		}
	}

	if _, ok := a.Cache.(*contentcache.SQLiteStore); ok && a.Host != nil {
		go a.drainPending()
	}
	return nil
}

func (a *App) drainPending() {
	log := logger.WithComponent("app")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.BaseCtx.Done():
			return
		case <-ticker.C:
			if err := a.Orch.FlushPending(a.BaseCtx, "Flush queued CMS writes"); err != nil {
				log.Warnf("flushing pending writes: %v", err)
			}
		}
	}
}
