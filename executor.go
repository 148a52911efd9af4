package pregel

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/helixdata/pregel/message"
)

// ExecutorCallbacks encapsulates a set of optional callbacks the executor
// invokes at well-defined points of the coordination loop. Callbacks that are
// not specified default to no-ops.
type ExecutorCallbacks struct {
	// PreStep is invoked before running a global superstep.
	PreStep func(ctx context.Context, m *Master) error

	// PostStep is invoked after the superstep barrier completes.
	// activeInStep is the number of vertices that voted to remain active.
	PostStep func(ctx context.Context, m *Master, activeInStep int) error

	// PostStepKeepRunning is invoked after PostStep; returning false ends
	// the run even when the master would keep going.
	PostStepKeepRunning func(ctx context.Context, m *Master, activeInStep int) (bool, error)

	// PostRecovery is invoked after a completed or vetoed recovery, before
	// normal supersteps resume.
	PostRecovery func(ctx context.Context, m *Master) error
}

func patchEmptyCallbacks(cb *ExecutorCallbacks) {
	if cb.PreStep == nil {
		cb.PreStep = func(context.Context, *Master) error { return nil }
	}
	if cb.PostStep == nil {
		cb.PostStep = func(context.Context, *Master, int) error { return nil }
	}
	if cb.PostStepKeepRunning == nil {
		cb.PostStepKeepRunning = func(context.Context, *Master, int) (bool, error) { return true, nil }
	}
	if cb.PostRecovery == nil {
		cb.PostRecovery = func(context.Context, *Master) error { return nil }
	}
}

// Executor drives a computation across a master and a set of workers hosted in
// the same process: it runs the superstep loop, routes the flushed wire
// batches to the workers owning their destination shards and replays the
// recovery protocol when a partition loss is injected.
type Executor struct {
	master  *Master
	workers []*Worker
	owners  map[Shard]*Worker
	cb      ExecutorCallbacks

	mu          sync.Mutex
	pendingLost []Shard
}

// NewExecutor wires a master and a set of workers into an executor. Every
// shard must be owned by exactly one worker. The graph-wide vertex and edge
// totals are computed here and installed on all participants.
func NewExecutor(master *Master, workers []*Worker, cb ExecutorCallbacks) (*Executor, error) {
	patchEmptyCallbacks(&cb)

	owners := make(map[Shard]*Worker)
	var vertexCount, edgeCount int64
	for _, w := range workers {
		for _, shard := range w.LocalShards() {
			if other := owners[shard]; other != nil {
				return nil, xerrors.Errorf("shard %d claimed by both worker %q and worker %q", shard, other.ID(), w.ID())
			}
			owners[shard] = w
		}
		vertexCount += w.LocalVertexCount()
		edgeCount += w.LocalEdgeCount()
	}

	master.SetGraphTotals(vertexCount, edgeCount)
	for _, w := range workers {
		w.SetGraphTotals(vertexCount, edgeCount)
	}

	return &Executor{
		master:  master,
		workers: workers,
		owners:  owners,
		cb:      cb,
	}, nil
}

// Master returns the coordinated master instance.
func (e *Executor) Master() *Master { return e.master }

// InjectPartitionLoss marks the given shards as lost. The recovery protocol
// runs before the next superstep begins; the ongoing superstep, if any, is
// allowed to finish first.
func (e *Executor) InjectPartitionLoss(shards ...Shard) {
	e.mu.Lock()
	e.pendingLost = append(e.pendingLost, shards...)
	e.mu.Unlock()
}

func (e *Executor) takePendingLost() []Shard {
	e.mu.Lock()
	lost := e.pendingLost
	e.pendingLost = nil
	e.mu.Unlock()
	return lost
}

// RunSteps executes at most numSteps supersteps, or less if the computation
// converges or a callback ends the run early.
func (e *Executor) RunSteps(ctx context.Context, numSteps int) error {
	return e.run(ctx, numSteps)
}

// RunToCompletion executes supersteps until the computation converges or a
// callback ends the run.
func (e *Executor) RunToCompletion(ctx context.Context) error {
	return e.run(ctx, -1)
}

// Close shuts down the compute pools of all coordinated workers.
func (e *Executor) Close() error {
	var firstErr error
	for _, w := range e.workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Executor) run(ctx context.Context, maxSteps int) error {
	for ; maxSteps != 0; maxSteps-- {
		if err := ensureContextNotExpired(ctx); err != nil {
			return err
		}
		if lost := e.takePendingLost(); len(lost) != 0 {
			if err := e.runRecovery(ctx, lost); err != nil {
				return err
			}
		}

		keepRunning, err := e.runStep(ctx)
		if err != nil {
			return err
		}
		if !keepRunning {
			return nil
		}
	}
	return nil
}

// runStep executes one full global superstep: prepare, compute, route
// messages, merge reports and cross the barrier.
func (e *Executor) runStep(ctx context.Context) (bool, error) {
	if err := e.master.PreGlobalSuperstep(); err != nil {
		return false, err
	}
	if err := e.cb.PreStep(ctx, e.master); err != nil {
		return false, err
	}

	superstep := e.master.GlobalSuperstep()
	globals := e.master.GlobalValues()
	for _, w := range e.workers {
		if err := w.PrepareSuperstep(superstep, globals); err != nil {
			return false, xerrors.Errorf("worker %q: %w", w.ID(), err)
		}
	}
	for _, w := range e.workers {
		if err := w.RunSuperstep(); err != nil {
			return false, xerrors.Errorf("worker %q: %w", w.ID(), err)
		}
	}
	if err := e.routeBatches(); err != nil {
		return false, err
	}
	for _, w := range e.workers {
		rep, err := w.Report()
		if err != nil {
			return false, xerrors.Errorf("worker %q: %w", w.ID(), err)
		}
		if err := e.master.CollectReport(rep); err != nil {
			return false, err
		}
	}

	keepRunning, err := e.master.PostGlobalSuperstep()
	if err != nil {
		return false, err
	}
	for _, w := range e.workers {
		w.SwapCaches()
	}

	activeInStep := int(e.master.Stats().TotalActive())
	if err := e.cb.PostStep(ctx, e.master, activeInStep); err != nil {
		return false, err
	}
	cbKeepRunning, err := e.cb.PostStepKeepRunning(ctx, e.master, activeInStep)
	if err != nil {
		return false, err
	}
	return keepRunning && cbKeepRunning, nil
}

// routeBatches drains every worker's outgoing buffers and delivers each wire
// batch to the worker that owns its destination shard.
func (e *Executor) routeBatches() error {
	for _, w := range e.workers {
		batches, err := w.FlushOutgoing()
		if err != nil {
			return xerrors.Errorf("worker %q: %w", w.ID(), err)
		}
		for shard, entries := range batches {
			owner := e.owners[shard]
			if owner == nil {
				return xerrors.Errorf("route batch for shard %d: %w", shard, message.ErrUnknownShard)
			}
			if err := owner.DeliverBatch(shard, entries); err != nil {
				return xerrors.Errorf("worker %q: %w", owner.ID(), err)
			}
		}
	}
	return nil
}

// runRecovery replays the compensation protocol for the given lost shards:
// rounds of Compensate dispatches run until the master's hooks declare the
// algorithm's global invariant restored.
func (e *Executor) runRecovery(ctx context.Context, lost []Shard) error {
	if err := e.master.BeginRecovery(lost); err != nil {
		return err
	}
	for {
		if err := ensureContextNotExpired(ctx); err != nil {
			return err
		}
		proceed, err := e.master.PreCompensation()
		if err != nil {
			return err
		}
		if !proceed {
			break
		}

		globals := e.master.GlobalValues()
		for _, w := range e.workers {
			if err := w.PrepareCompensation(globals); err != nil {
				return xerrors.Errorf("worker %q: %w", w.ID(), err)
			}
		}
		for _, w := range e.workers {
			if err := w.RunCompensation(lost); err != nil {
				return xerrors.Errorf("worker %q: %w", w.ID(), err)
			}
		}
		for _, w := range e.workers {
			rep, err := w.Report()
			if err != nil {
				return xerrors.Errorf("worker %q: %w", w.ID(), err)
			}
			if err := e.master.CollectCompensationReport(rep); err != nil {
				return err
			}
		}

		done, err := e.master.PostCompensation()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return e.cb.PostRecovery(ctx, e.master)
}

func ensureContextNotExpired(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
