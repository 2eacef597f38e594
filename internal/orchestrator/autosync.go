// Package orchestrator owns the offline-first sync lifecycle.
package orchestrator

import (
	"context"
	"time"

	"github.com/offsitehq/fieldsync/internal/logging"
)

// StartAutoSync launches the periodic background sync loop at the
// configured interval. The loop shares the session semaphore with
// manual Sync calls, so an unattended tick can never overlap one.
// Calling StartAutoSync while a loop is already running is a no-op.
func (o *Orchestrator) StartAutoSync(ctx context.Context) {
	o.autoMu.Lock()
	defer o.autoMu.Unlock()

	if o.autoCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.autoCancel = cancel

	o.autoWG.Add(1)
	go o.autoSyncLoop(loopCtx)

	logging.Info("Auto-sync started", map[string]interface{}{
		"device_id": o.deviceID,
		"interval":  o.cfg.SyncInterval.String(),
	})
}

// StopAutoSync stops the background loop and waits for it to exit.
func (o *Orchestrator) StopAutoSync() {
	o.autoMu.Lock()
	cancel := o.autoCancel
	o.autoCancel = nil
	o.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	o.autoWG.Wait()

	logging.Info("Auto-sync stopped", map[string]interface{}{
		"device_id": o.deviceID,
	})
}

func (o *Orchestrator) autoSyncLoop(ctx context.Context) {
	defer o.autoWG.Done()

	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.online.Load() {
				continue
			}
			if o.isSyncing.Load() {
				logging.Debug("Sync already in progress, skipping scheduled run")
				continue
			}
			result := o.Sync(ctx)
			if !result.Success {
				logging.Warn("Scheduled sync finished with errors", map[string]interface{}{
					"session_id":  result.SessionID.String(),
					"error_count": len(result.Errors),
				})
			}
		}
	}
}
