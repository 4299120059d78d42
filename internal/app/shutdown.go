package app

import (
	"context"
	"time"
)

// Shutdown stops all components in reverse dependency order: the
// connector first so no new work arrives, then the scheduler, the
// metrics server and finally storage.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.cancel()

	if a.telegram != nil {
		a.telegram.Wait()
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop metrics server", err)
		}
	}

	var closeErr error
	if a.db != nil {
		closeErr = a.db.Close()
		if closeErr != nil {
			a.logger.Error("failed to close store", closeErr)
		}
	}

	a.started = false
	a.logger.Info("application shutdown complete")

	return closeErr
}
