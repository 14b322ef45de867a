package runs

import (
	"context"
	"fmt"

	"github.com/langline/langline/internal/storage"
)

// resolveMultitask applies the multitask strategy against the thread's
// active run. Callers must hold the thread lock.
func (e *Engine) resolveMultitask(ctx context.Context, threadID, strategy string) error {
	active, err := e.store.Runs().GetActiveRun(ctx, threadID)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	switch strategy {
	case storage.MultitaskReject:
		return fmt.Errorf("%w: run %s is %s", ErrRunConflict, active.RunID, active.Status)
	case storage.MultitaskInterrupt:
		return e.store.Runs().UpdateStatus(ctx, active.RunID, storage.RunStatusInterrupted)
	case storage.MultitaskRollback:
		return e.store.Runs().UpdateStatus(ctx, active.RunID, storage.RunStatusError)
	case storage.MultitaskEnqueue:
		// FIFO by created_at; pending runs are driven by a later wait or
		// stream call, not in the background.
		return nil
	default:
		return fmt.Errorf("unknown multitask strategy %q", strategy)
	}
}
