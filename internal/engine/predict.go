package engine

import (
	"context"
	"fmt"
	"sync"
)

// predictRun tracks one blocking in-process prediction. done closes once the
// native call has returned and no longer touches the model.
type predictRun struct {
	done chan struct{}
	once sync.Once
}

func newPredictRun() *predictRun { return &predictRun{done: make(chan struct{})} }

func (r *predictRun) finish() { r.once.Do(func() { close(r.done) }) }

func (r *predictRun) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseAfter stops run and calls free only after the prediction has
// returned. When ctx expires first, free is deferred to the end of the run
// and the context error is returned.
func releaseAfter(ctx context.Context, run *predictRun, stop, free func()) error {
	if run == nil {
		free()
		return nil
	}
	if stop != nil {
		stop()
	}
	if err := run.wait(ctx); err != nil {
		go func() {
			<-run.done
			free()
		}()
		return fmt.Errorf("unload: prediction still running, free deferred: %w", err)
	}
	free()
	return nil
}
