package relay

import "context"

// RunTick drives a single poll-and-drain cycle for tests, without waiting on
// the wall-clock ticker.
func (w *Worker) RunTick(ctx context.Context) {
	w.runTick(ctx)
}
