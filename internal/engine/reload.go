package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/tomekzaw/expo/internal/catalog"
	"github.com/tomekzaw/expo/internal/launcher"
	"github.com/tomekzaw/expo/internal/otaerrors"
	"github.com/tomekzaw/expo/internal/statemachine"
)

// Reload implements reload(cb): it rebuilds a Launcher from whatever is now
// the best LaunchableCandidate, swaps it in, restarts the host, and kicks
// off the Reaper to reclaim storage held by updates the new Launcher no
// longer needs. A pending rollback directive overrides the usual candidate
// selection and forces the embedded update instead.
func (e *Engine) Reload(ctx context.Context, cb func(error)) {
	go e.reload(ctx, cb)
}

func (e *Engine) reload(ctx context.Context, cb func(error)) {
	if commitTime, ok, err := e.cat.GetRollbackDirective(); err != nil {
		log.WithContext(ctx).Warnf("engine: failed to read rollback directive: %v", err)
	} else if ok {
		fallback := launcher.Embedded(e.cfg.BundleAssetName)
		e.setLauncherAndSignal(fallback)
		e.restartHost(fallback)
		e.machine.Post(statemachine.Event{Kind: statemachine.Restart})
		if err := e.cat.ClearRollbackDirective(); err != nil {
			log.WithContext(ctx).Warnf("engine: failed to clear rollback directive for commitTime %d: %v", commitTime, err)
		}
		cb(nil)
		return
	}

	candidates, err := e.cat.LaunchableCandidates(e.cfg.ScopeKey)
	if err != nil {
		cb(otaerrors.Wrap(otaerrors.AssetCorrupt, err, "load launchable candidates for reload"))
		return
	}

	best := e.cfg.LauncherPolicy.ChooseLauncherUpdate(entityCandidatesToSelection(candidates), e.cfg.Filters)
	if best == nil {
		fallback := launcher.Embedded(e.cfg.BundleAssetName)
		e.setLauncherAndSignal(fallback)
		e.restartHost(fallback)
		e.machine.Post(statemachine.Event{Kind: statemachine.Restart})
		cb(nil)
		return
	}

	var built *launcher.Launcher
	if best.Embedded {
		built = launcher.Embedded(e.cfg.BundleAssetName)
	} else {
		built, err = launcher.Build(e.cat, e.store, catalog.UpdateEntity{ID: best.ID})
		if err != nil {
			cb(otaerrors.Wrap(otaerrors.AssetCorrupt, err, "build reload launcher for %s", best.ID))
			return
		}
	}

	e.setLauncherAndSignal(built)
	e.armWatchdog(built)
	e.restartHost(built)
	e.machine.Post(statemachine.Event{Kind: statemachine.Restart})

	go e.runReaper(ctx, candidates, best.ID)

	cb(nil)
}

// runReaper implements the Reaper: it deletes every update the
// ReaperSelectionPolicy marks doomed, then sweeps asset rows no longer
// referenced by any remaining update and removes their on-disk files. It
// runs after the reload has already returned to the host, since reclaiming
// storage must never delay a restart.
func (e *Engine) runReaper(ctx context.Context, all []catalog.UpdateEntity, launchedID string) {
	newestCandidate := e.cfg.LauncherPolicy.ChooseLauncherUpdate(entityCandidatesToSelection(all), e.cfg.Filters)

	doomed := e.cfg.ReaperPolicy.UpdatesToDelete(entityCandidatesToSelection(all), launchedID, newestCandidate)
	if len(doomed) == 0 {
		return
	}

	ids := make([]string, 0, len(doomed))
	for _, d := range doomed {
		ids = append(ids, d.ID)
	}

	if err := e.cat.DeleteUpdates(ids); err != nil {
		log.WithContext(ctx).Warnf("engine: reaper failed to delete updates %v: %v", ids, err)
		return
	}

	orphaned, err := e.cat.SweepOrphanedAssets()
	if err != nil {
		log.WithContext(ctx).Warnf("engine: reaper failed to sweep orphaned assets: %v", err)
		return
	}
	if len(orphaned) == 0 {
		return
	}

	for _, key := range orphaned {
		if err := e.store.Remove(key); err != nil {
			log.WithContext(ctx).Warnf("engine: reaper failed to remove asset file %s: %v", key, err)
		}
	}
	if err := e.cat.DeleteAssets(orphaned); err != nil {
		log.WithContext(ctx).Warnf("engine: reaper failed to delete asset rows %v: %v", orphaned, err)
	}
}
