// Package engine implements the façade: a single struct wiring together
// the Catalog, FileStore, SelectionPolicy, StateMachine, and ErrorRecovery
// watchdog behind the small set of operations a host actually calls
// (start, launchAssetFile, checkForUpdate, fetchUpdate, reload,
// getExtraParams/setExtraParam).
package engine

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/filestore"
	"github.com/tomekzaw/expo/internal/hostbridge"
	"github.com/tomekzaw/expo/internal/launcher"
	"github.com/tomekzaw/expo/internal/loader"
	"github.com/tomekzaw/expo/internal/loadertask"
	"github.com/tomekzaw/expo/internal/otalog"
	"github.com/tomekzaw/expo/internal/recovery"
	"github.com/tomekzaw/expo/internal/statemachine"
	"github.com/tomekzaw/expo/internal/syncutil"
)

// embeddedUpdateID identifies the binary-shipped manifest's catalog row.
const embeddedUpdateID = "embedded"

// Engine is constructed once per process via New and brought up via
// Start; the two-phase split lets a host register itself as the
// Reloader/StateChangeSender before any event can possibly fire.
type Engine struct {
	cfg Config

	cat   *catalog.Catalog
	store *filestore.Store

	machine *statemachine.Machine

	launchCond *syncutil.Cond

	mu                sync.Mutex
	currentLauncher   *launcher.Launcher
	isEmergencyLaunch bool
	watchdog          *recovery.Watchdog
}

// New validates cfg and returns an Engine that has not yet opened any
// storage or started any goroutine. This replaces ambient global state:
// the caller owns the returned value and passes it around explicitly.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		launchCond: syncutil.NewCond(),
	}, nil
}

// Start implements start(config): opens the Catalog and FileStore, runs
// the BuildData consistency check, starts the StateMachine, and kicks off
// the cold-start LoaderTask per CheckOnLaunch. It returns immediately;
// launchAssetFile is how callers wait for the result.
func (e *Engine) Start(ctx context.Context) error {
	cat, catErr := catalog.Open(e.cfg.UpdatesDir)
	store, storeErr := filestore.Open(e.cfg.UpdatesDir)
	if catErr != nil || storeErr != nil {
		log.WithContext(ctx).Warnf("engine: storage unavailable, entering emergency launch: catalog=%v filestore=%v", catErr, storeErr)
		e.mu.Lock()
		e.isEmergencyLaunch = true
		e.currentLauncher = launcher.Embedded(e.cfg.BundleAssetName)
		e.mu.Unlock()
		e.launchCond.Signal()
		return nil
	}
	e.cat = cat
	e.store = store

	reset, err := cat.CheckBuildFingerprint(catalog.BuildFingerprint{
		RuntimeVersion: e.cfg.RuntimeVersion,
		ScopeKey:       e.cfg.ScopeKey,
		UpdateURL:      e.cfg.UpdateURL,
	})
	if err != nil {
		log.WithContext(ctx).Warnf("engine: build fingerprint check failed: %v", err)
	} else if reset {
		log.WithContext(ctx).Infof("engine: build configuration changed, dropped stored updates")
	}

	if e.cfg.HasEmbeddedUpdate {
		if err := cat.InsertEmbeddedUpdate(catalog.NewPendingUpdate{
			ID:             embeddedUpdateID,
			CommitTime:     e.cfg.EmbeddedCommitTime,
			RuntimeVersion: e.cfg.RuntimeVersion,
			ScopeKey:       e.cfg.ScopeKey,
			ManifestJSON:   "{}",
			Assets: []catalog.NewAsset{
				{Key: embeddedUpdateID, EmbeddedAssetFilename: e.cfg.BundleAssetName, IsLaunchAsset: true},
			},
		}); err != nil {
			log.WithContext(ctx).Warnf("engine: failed to record embedded update: %v", err)
		}
	}

	sink := hostbridge.Sink{StateChange: e.cfg.StateChange, Legacy: e.cfg.LegacyEvent}
	e.machine = statemachine.New(machineSinkAdapter{sink})
	e.machine.Start(ctx)

	if *e.cfg.IsEnabled && e.cfg.CheckOnLaunch != CheckNever {
		go e.runColdStart(ctx)
	} else {
		e.resolveColdStartFromCacheOnly(ctx)
	}

	return nil
}

// machineSinkAdapter lets statemachine.Machine (which knows nothing about
// hostbridge) forward snapshots to hostbridge.Sink (which knows nothing
// about statemachine.Sink's exact method signature spelling).
type machineSinkAdapter struct {
	sink hostbridge.Sink
}

func (a machineSinkAdapter) SendUpdatesStateChangeEvent(kind statemachine.EventKind, ctx statemachine.Context) {
	a.sink.SendUpdatesStateChangeEvent(kind, ctx)
}

// LaunchAssetFile implements launchAssetFile(): it blocks the calling
// goroutine until the cold-start sequence (or emergency launch) has
// picked a Launcher, then returns it. An empty LaunchAssetPath with
// Embedded=true means the caller should fall back to bundleAssetName().
func (e *Engine) LaunchAssetFile() *launcher.Launcher {
	e.launchCond.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLauncher
}

// BundleAssetName implements bundleAssetName(): valid only once
// LaunchAssetFile has returned an Embedded launcher.
func (e *Engine) BundleAssetName() string {
	return e.cfg.BundleAssetName
}

// IsEmergencyLaunch reports whether Start could not open local storage at
// all (the DirectoryUnavailable path).
func (e *Engine) IsEmergencyLaunch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isEmergencyLaunch
}

func (e *Engine) setLauncherAndSignal(l *launcher.Launcher) {
	e.mu.Lock()
	e.currentLauncher = l
	e.mu.Unlock()
	e.launchCond.Signal()
}

// loaderConfig builds the loader.Config shared by the cold-start
// LoaderTask, checkForUpdate, and fetchUpdate.
func (e *Engine) loaderConfig() loader.Config {
	launchedID := ""
	e.mu.Lock()
	if e.currentLauncher != nil {
		launchedID = e.currentLauncher.UpdateID
	}
	e.mu.Unlock()

	return loader.Config{
		UpdateURL:        e.cfg.UpdateURL,
		ScopeKey:         e.cfg.ScopeKey,
		RuntimeVersion:   e.cfg.RuntimeVersion,
		RequestHeaders:   e.cfg.RequestHeaders,
		LaunchedUpdateID: launchedID,
	}
}

func (e *Engine) runColdStart(ctx context.Context) {
	ctx = otalog.WithSource(ctx, otalog.EngineSource)
	task := loadertask.New(loadertask.Config{
		ScopeKey:        e.cfg.ScopeKey,
		RuntimeVersion:  e.cfg.RuntimeVersion,
		LoaderConfig:    e.loaderConfig(),
		LaunchWaitMs:    e.cfg.LaunchWaitMs,
		Policy:          e.cfg.LauncherPolicy,
		Filters:         e.cfg.Filters,
		BundleAssetName: e.cfg.BundleAssetName,
	}, e.cat, e.store)

	task.Run(ctx, &coldStartCallback{engine: e})
}

// resolveColdStartFromCacheOnly handles CheckOnLaunch=Never and
// isEnabled=false: no remote check at all, launch straight from whatever
// the Catalog already has, falling back to embedded.
func (e *Engine) resolveColdStartFromCacheOnly(ctx context.Context) {
	candidates, err := e.cat.LaunchableCandidates(e.cfg.ScopeKey)
	if err != nil {
		log.WithContext(ctx).Warnf("engine: failed to load cached candidates: %v", err)
		e.setLauncherAndSignal(launcher.Embedded(e.cfg.BundleAssetName))
		return
	}
	best := e.cfg.LauncherPolicy.ChooseLauncherUpdate(entityCandidatesToSelection(candidates), e.cfg.Filters)
	if best == nil {
		e.setLauncherAndSignal(launcher.Embedded(e.cfg.BundleAssetName))
		return
	}
	if best.Embedded {
		e.setLauncherAndSignal(launcher.Embedded(e.cfg.BundleAssetName))
		return
	}
	built, err := launcher.Build(e.cat, e.store, catalog.UpdateEntity{ID: best.ID})
	if err != nil {
		log.WithContext(ctx).Warnf("engine: failed to build cached launcher: %v", err)
		e.setLauncherAndSignal(launcher.Embedded(e.cfg.BundleAssetName))
		return
	}
	e.setLauncherAndSignal(built)
}
