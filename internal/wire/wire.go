// Package wire provides dependency injection for the HOMER orchestrator.
// It builds singleton services with lazy, once-only initialization, the
// same shape the teacher's internal/wire/wire.go uses, generalized from a
// zero-argument sync.Once to one seeded by the resolved RunOptions a CLI
// invocation parses before the first service is ever requested.
package wire

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/adapters/control"
	"github.com/homer-dev/homer/internal/adapters/eventbus"
	"github.com/homer-dev/homer/internal/adapters/filesystem"
	"github.com/homer-dev/homer/internal/adapters/heartbeat"
	"github.com/homer-dev/homer/internal/adapters/pty"
	"github.com/homer-dev/homer/internal/adapters/sqlite"
	"github.com/homer-dev/homer/internal/adapters/verify"
	"github.com/homer-dev/homer/internal/app"
	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/db"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// prdWatchDirs mirrors the app package's unexported PRD discovery order
// (cwd, cwd/ralph, cwd/.homer) so the watcher covers every candidate
// location a prd.json could live in.
var prdWatchDirs = []string{"", "ralph", ".homer"}

var (
	once sync.Once

	opts        models.RunOptions
	cwd         string
	repoSlug    string
	maxVerify   int
	maxReroutes int

	logger            *zap.Logger
	eventBus          secondary.EventBus
	memoryService     primary.MemoryService
	taskSourceService primary.TaskSourceService
	schedulerService   *app.SchedulerServiceImpl
	supervisorService  *app.SupervisorServiceImpl
	heartbeatScheduler *heartbeat.Scheduler
	issueTracker       secondary.IssueTracker
)

// Configure records the resolved CLI flags/config this process run uses.
// Must be called before the first service getter: services are built once
// from the options recorded at that point, and a later call does not
// rebuild them (spec.md §6: options are fixed for the lifetime of one
// `homer run` invocation).
func Configure(o models.RunOptions, workingDir string) {
	opts = o.WithDefaults()
	cwd = workingDir
	repoSlug = filesystem.RepoSlug(opts.Repo, cwd)

	persisted, err := config.Load()
	if err != nil {
		persisted = config.Config{}
	}
	persisted = persisted.WithDefaults()
	maxVerify = persisted.MaxVerify
	maxReroutes = persisted.MaxReroutes
}

// Logger returns the process-wide zap logger.
func Logger() *zap.Logger {
	once.Do(initServices)
	return logger
}

// EventBus returns the singleton event bus.
func EventBus() secondary.EventBus {
	once.Do(initServices)
	return eventBus
}

// MemoryService returns the singleton MemoryService.
func MemoryService() primary.MemoryService {
	once.Do(initServices)
	return memoryService
}

// TaskSourceService returns the singleton TaskSourceService.
func TaskSourceService() primary.TaskSourceService {
	once.Do(initServices)
	return taskSourceService
}

// SupervisorService returns the singleton SupervisorService.
func SupervisorService() primary.SupervisorService {
	once.Do(initServices)
	return supervisorService
}

// SupervisorImpl returns the concrete supervisor, for the session-resume
// flow (DetectResumableSession/ResumeAll) that sits outside the primary
// port because only `homer run`'s startup sequence needs it.
func SupervisorImpl() *app.SupervisorServiceImpl {
	once.Do(initServices)
	return supervisorService
}

// HeartbeatScheduler returns the singleton cron scheduler driving session
// GC and the consolidation safety-net. The caller is responsible for
// Start/Stop around the process lifetime.
func HeartbeatScheduler() *heartbeat.Scheduler {
	once.Do(initServices)
	return heartbeatScheduler
}

// ControlServer builds a new control.Server wired to the singleton
// supervisor and event bus. Each call creates a new Server (the Server
// is a stateless router over the shared singletons), mirroring the
// teacher's MissionAdapter/GroveAdapter convention of per-call adapter
// construction over shared services.
func ControlServer(allowOrigins []string) *control.Server {
	once.Do(initServices)
	return control.New(supervisorService, eventBus, issueTracker, opts.Repo, logger, allowOrigins)
}

// initServices builds every service and its dependencies exactly once,
// grounded on the teacher's wire.go initServices.
func initServices() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	homeDir, err := config.HomeDir()
	if err != nil {
		logger.Fatal("failed to resolve home directory", zap.Error(err))
	}
	dbPath := filepath.Join(homeDir, "memory", repoSlug+".db")
	database, err := db.New(dbPath)
	if err != nil {
		logger.Fatal("failed to initialize memory store", zap.Error(err))
	}

	repos := secondary.MemoryRepositories{
		Files:     sqlite.NewFileKnowledgeRepository(database),
		Solutions: sqlite.NewSolutionsRepository(database),
		TaskRuns:  sqlite.NewTaskRunsRepository(database),
		Rules:     sqlite.NewRepoRulesRepository(database),
		Episodes:  sqlite.NewVerificationEpisodesRepository(database),
		Relations: sqlite.NewErrorFileRelationsRepository(database),
	}
	memoryService = app.NewMemoryService(repos, logger)

	prdStore := filesystem.NewPRDStore()
	taskSourceService = app.NewTaskSourceService(prdStore, logger)

	if opts.Repo != "" {
		issueTracker = filesystem.NewIssueTracker()
	}
	schedulerService = app.NewSchedulerService(taskSourceService, issueTracker, cwd, opts.Repo, maxReroutes, logger)

	ptyHost := pty.New()
	verifier := verify.New()
	eventBus = eventbus.New()
	notesStore := filesystem.NewNotesStore(repoSlug)
	sessionStore := filesystem.NewSessionStore()

	supervisorService = app.NewSupervisorService(
		ptyHost, verifier, memoryService, schedulerService, taskSourceService,
		eventBus, notesStore, sessionStore, nil,
		cwd, opts.Repo, repoSlug, opts, maxVerify, logger,
	)

	watcher, err := filesystem.NewPRDWatcher()
	if err != nil {
		logger.Warn("prd watcher unavailable", zap.Error(err))
	} else {
		for _, sub := range prdWatchDirs {
			dir := cwd
			if sub != "" {
				dir = filepath.Join(cwd, sub)
			}
			if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
				continue
			}
			if err := watcher.Watch(dir, supervisorService.Reevaluate); err != nil {
				logger.Warn("failed to watch prd.json", zap.String("dir", dir), zap.Error(err))
			}
		}
	}

	heartbeatScheduler = heartbeat.New(logger)
	if err := heartbeatScheduler.AddFunc("@hourly", func() {
		removed, err := sessionStore.GC(time.Now())
		if err != nil {
			logger.Warn("session GC failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("session GC removed stale snapshots", zap.Int("removed", removed))
		}
	}); err != nil {
		logger.Warn("failed to schedule session GC", zap.Error(err))
	}
	if err := heartbeatScheduler.AddFunc("@every 10m", func() {
		if err := memoryService.Consolidate(context.Background()); err != nil {
			logger.Warn("consolidation heartbeat failed", zap.Error(err))
		}
	}); err != nil {
		logger.Warn("failed to schedule consolidation heartbeat", zap.Error(err))
	}
}
