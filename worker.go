package pregel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/ptypes/any"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/helixdata/pregel/aggregator"
	"github.com/helixdata/pregel/message"
	"github.com/helixdata/pregel/stats"
)

var (
	// ErrUnknownEdgeSource is returned by AddEdge when the source vertex is
	// not present in any of the worker's local partitions.
	ErrUnknownEdgeSource = xerrors.New("source vertex is not part of the graph")

	// ErrCompensationUnsupported is returned when the recovery protocol is
	// invoked for an algorithm that does not provide a compensation hook.
	ErrCompensationUnsupported = xerrors.New("algorithm does not support compensation")
)

// workerMode selects the vertex hook the compute pool dispatches to.
type workerMode int32

const (
	modeCompute workerMode = iota
	modeCompensate
)

// Report captures everything a worker hands to the master at the end of a
// superstep or compensation round.
type Report struct {
	// WorkerID identifies the reporting worker.
	WorkerID string

	// Superstep is the global superstep the report belongs to.
	Superstep int

	// Stats holds the worker's message-exchange counters for the superstep.
	Stats stats.MessageStats

	// ActiveCount is the number of local vertices that voted to remain
	// active.
	ActiveCount int64

	// AggregatorValues holds the serialized per-aggregator deltas the
	// worker's vertices contributed during the superstep.
	AggregatorValues map[string]*any.Any
}

// Worker owns a set of graph partitions and executes the algorithm's vertex
// hooks over them superstep by superstep. It maintains two message caches: the
// read cache serving the messages sent during the previous superstep and the
// write cache accumulating the messages produced during the current one. The
// caches trade places at the superstep barrier, which is what makes messages
// invisible until the superstep after the one that produced them.
type Worker struct {
	cfg WorkerConfig

	computation  VertexComputation
	compensation VertexCompensation
	format       message.Format

	partitions     map[Shard]map[string]*Vertex
	localEdgeCount int64

	readCache  message.InCache
	writeCache message.InCache
	outCache   message.OutCache

	aggr    *aggregator.Handler
	globals map[string]interface{}

	superstep        int
	totalVertexCount int64
	totalEdgeCount   int64

	parsedCount int64
	parsedBytes int64
	activeCount int64
	lastRuntime time.Duration

	mode       workerMode
	lostShards map[Shard]bool

	wg              sync.WaitGroup
	closeOnce       sync.Once
	vertexCh        chan *Vertex
	errCh           chan error
	stepCompletedCh chan struct{}
	pendingInStep   int64
}

// NewWorker creates a worker with the specified configuration and starts its
// compute pool.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("worker config validation failed: %w", err)
	}

	format := cfg.Algorithm.MessageFormat()
	var readCache, writeCache message.InCache
	var outCache message.OutCache
	if combiner := cfg.Algorithm.MessageCombiner(); combiner != nil {
		readCache = message.NewCombiningInCache(cfg.LocalShards, format, combiner)
		writeCache = message.NewCombiningInCache(cfg.LocalShards, format, combiner)
		outCache = message.NewCombiningOutCache(cfg.GlobalShards, cfg.LocalShards, format, combiner)
	} else {
		readCache = message.NewArrayInCache(cfg.LocalShards, format)
		writeCache = message.NewArrayInCache(cfg.LocalShards, format)
		outCache = message.NewArrayOutCache(cfg.GlobalShards, cfg.LocalShards, format)
	}
	outCache.SetLocalCache(writeCache)

	partitions := make(map[Shard]map[string]*Vertex, len(cfg.LocalShards))
	for _, shard := range cfg.LocalShards {
		partitions[shard] = make(map[string]*Vertex)
	}

	w := &Worker{
		cfg:          cfg,
		computation:  cfg.Algorithm.CreateComputation(),
		compensation: cfg.Algorithm.CreateCompensation(),
		format:       format,
		partitions:   partitions,
		readCache:    readCache,
		writeCache:   writeCache,
		outCache:     outCache,
		aggr:         aggregator.NewHandler(cfg.Algorithm.AggregatorFactory),
		globals:      make(map[string]interface{}),
	}
	w.startWorkers(cfg.ComputeWorkers)
	return w, nil
}

// ID returns the unique identifier of this worker.
func (w *Worker) ID() string { return w.cfg.ID }

// LocalShards returns the shards whose partitions this worker owns.
func (w *Worker) LocalShards() []Shard {
	return append([]Shard(nil), w.cfg.LocalShards...)
}

// AddVertex inserts a new vertex with the given key and initial value into the
// partition that owns shard. If the vertex already exists, AddVertex overwrites
// its value. The vertex starts out active.
func (w *Worker) AddVertex(shard Shard, key string, initValue interface{}) error {
	part := w.partitions[shard]
	if part == nil {
		return xerrors.Errorf("add vertex %q: %w", key, message.ErrUnknownShard)
	}
	v := part[key]
	if v == nil {
		v = &Vertex{key: key, shard: shard, active: true}
		part[key] = v
	}
	v.value = initValue
	return nil
}

// AddEdge inserts a directed edge from the local vertex (srcShard, srcKey) to
// the possibly remote vertex (dstShard, dstKey) and annotates it with initValue.
func (w *Worker) AddEdge(srcShard Shard, srcKey string, dstShard Shard, dstKey string, initValue interface{}) error {
	part := w.partitions[srcShard]
	if part == nil {
		return xerrors.Errorf("create edge from %q to %q: %w", srcKey, dstKey, message.ErrUnknownShard)
	}
	src := part[srcKey]
	if src == nil {
		return xerrors.Errorf("create edge from %q to %q: %w", srcKey, dstKey, ErrUnknownEdgeSource)
	}
	src.edges = append(src.edges, &Edge{
		dstShard: dstShard,
		dstKey:   dstKey,
		value:    initValue,
	})
	w.localEdgeCount++
	return nil
}

// LocalVertexCount returns the number of vertices across the worker's local
// partitions.
func (w *Worker) LocalVertexCount() int64 {
	var count int64
	for _, part := range w.partitions {
		count += int64(len(part))
	}
	return count
}

// LocalEdgeCount returns the number of edges owned by the worker's local
// vertices.
func (w *Worker) LocalEdgeCount() int64 { return w.localEdgeCount }

// SetGraphTotals installs the graph-wide vertex and edge counts that vertex
// hooks observe via their context.
func (w *Worker) SetGraphTotals(vertexCount, edgeCount int64) {
	w.totalVertexCount = vertexCount
	w.totalEdgeCount = edgeCount
}

// ForEachVertex invokes fn for every vertex in the worker's local partitions.
// It may only be called while no superstep is executing.
func (w *Worker) ForEachVertex(fn func(v *Vertex)) {
	for _, part := range w.partitions {
		for _, v := range part {
			fn(v)
		}
	}
}

// PrepareSuperstep readies the worker for the given global superstep: it
// installs the master's aggregator snapshot, resets the local aggregator
// deltas and zeroes the per-superstep message counters.
func (w *Worker) PrepareSuperstep(superstep int, globalValues map[string]*any.Any) error {
	globals, err := w.unserializeValues(globalValues)
	if err != nil {
		return xerrors.Errorf("unable to install global aggregator values: %w", err)
	}
	w.superstep = superstep
	w.globals = globals
	w.aggr.ResetAll()
	w.outCache.Clear()
	atomic.StoreInt64(&w.parsedCount, 0)
	atomic.StoreInt64(&w.parsedBytes, 0)
	atomic.StoreInt64(&w.activeCount, 0)
	return nil
}

// RunSuperstep executes the algorithm's compute hook for every vertex that is
// active or has pending messages. It blocks until all local vertices have been
// processed.
func (w *Worker) RunSuperstep() error {
	start := w.cfg.Clock.Now()
	w.mode = modeCompute
	err := w.runVertices()
	w.lastRuntime = w.cfg.Clock.Now().Sub(start)
	if err != nil {
		return err
	}
	w.cfg.Logger.WithFields(logrus.Fields{
		"superstep": w.superstep,
		"active":    atomic.LoadInt64(&w.activeCount),
		"runtime":   w.lastRuntime,
	}).Debug("completed superstep")
	return nil
}

// FlushOutgoing drains the remote messages buffered during the current
// superstep into per-shard wire batches for the transport layer to route.
func (w *Worker) FlushOutgoing() (map[Shard][]interface{}, error) {
	batches, err := w.outCache.Batches()
	if err != nil {
		return nil, xerrors.Errorf("unable to flush outgoing messages: %w", err)
	}
	return batches, nil
}

// DeliverBatch stores a wire batch addressed to one of the worker's local
// shards into the write cache. It is safe for concurrent use.
func (w *Worker) DeliverBatch(shard Shard, entries []interface{}) error {
	stored, err := w.writeCache.ParseMessages(shard, entries)
	if err != nil {
		return xerrors.Errorf("unable to deliver message batch for shard %d: %w", shard, err)
	}
	atomic.AddInt64(&w.parsedCount, int64(stored))
	atomic.AddInt64(&w.parsedBytes, batchBytes(entries))
	return nil
}

// SwapCaches exchanges the read and write caches at the superstep barrier. The
// messages produced during the superstep that just ended become readable and
// the drained cache is recycled as the next write target.
func (w *Worker) SwapCaches() {
	w.readCache.Clear()
	w.readCache, w.writeCache = w.writeCache, w.readCache
	w.outCache.SetLocalCache(w.writeCache)
}

// Report assembles the worker's end-of-superstep report for the master.
func (w *Worker) Report() (Report, error) {
	aggrValues, err := w.serializeValues(w.aggr.DeltaValues())
	if err != nil {
		return Report{}, xerrors.Errorf("unable to serialize aggregator deltas: %w", err)
	}
	return Report{
		WorkerID:  w.cfg.ID,
		Superstep: w.superstep,
		Stats: stats.MessageStats{
			SendCount:        w.outCache.SentCount(),
			ReceivedCount:    w.outCache.LocalDeliveredCount() + atomic.LoadInt64(&w.parsedCount),
			MemoryBytesUsed:  atomic.LoadInt64(&w.parsedBytes),
			SuperstepRuntime: w.lastRuntime,
		},
		ActiveCount:      atomic.LoadInt64(&w.activeCount),
		AggregatorValues: aggrValues,
	}, nil
}

// PrepareCompensation readies the worker for a compensation round, installing
// the master's aggregator snapshot for the round.
func (w *Worker) PrepareCompensation(globalValues map[string]*any.Any) error {
	if w.compensation == nil {
		return xerrors.Errorf("prepare compensation: %w", ErrCompensationUnsupported)
	}
	globals, err := w.unserializeValues(globalValues)
	if err != nil {
		return xerrors.Errorf("unable to install global aggregator values: %w", err)
	}
	w.globals = globals
	w.aggr.ResetAll()
	w.outCache.Clear()
	atomic.StoreInt64(&w.parsedCount, 0)
	atomic.StoreInt64(&w.parsedBytes, 0)
	atomic.StoreInt64(&w.activeCount, 0)
	return nil
}

// RunCompensation executes the algorithm's compensation hook for every local
// vertex, flagging the vertices whose shard appears in lost.
func (w *Worker) RunCompensation(lost []Shard) error {
	if w.compensation == nil {
		return xerrors.Errorf("run compensation: %w", ErrCompensationUnsupported)
	}
	lostSet := make(map[Shard]bool, len(lost))
	for _, shard := range lost {
		lostSet[shard] = true
	}
	w.mode = modeCompensate
	w.lostShards = lostSet
	return w.runVertices()
}

// Close terminates the compute pool. The worker must not be used after Close
// returns. Close is idempotent.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.vertexCh)
		w.wg.Wait()
	})
	return nil
}

// startWorkers launches the long-lived pool of goroutines that execute vertex
// hooks. The pool stays up across supersteps.
func (w *Worker) startWorkers(numWorkers int) {
	w.vertexCh = make(chan *Vertex)
	w.errCh = make(chan error, 1)
	w.stepCompletedCh = make(chan struct{})

	w.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go w.stepWorker()
	}
}

// runVertices feeds every local vertex to the compute pool and blocks until
// the pool has processed all of them, surfacing the first hook error.
func (w *Worker) runVertices() error {
	pending := w.LocalVertexCount()
	if pending == 0 {
		return nil
	}
	atomic.StoreInt64(&w.pendingInStep, pending)
	for _, part := range w.partitions {
		for _, v := range part {
			w.vertexCh <- v
		}
	}
	<-w.stepCompletedCh

	select {
	case err := <-w.errCh:
		return err
	default:
		return nil
	}
}

// stepWorker implements the main loop of a compute pool goroutine.
func (w *Worker) stepWorker() {
	for v := range w.vertexCh {
		switch w.mode {
		case modeCompute:
			w.computeVertex(v)
		case modeCompensate:
			w.compensateVertex(v)
		}
		if atomic.AddInt64(&w.pendingInStep, -1) == 0 {
			w.stepCompletedCh <- struct{}{}
		}
	}
	w.wg.Done()
}

func (w *Worker) computeVertex(v *Vertex) {
	probe := w.readCache.MessagesFor(v.shard, v.key)
	if !v.active && !probe.Next() {
		return
	}

	// The vertex goes inactive unless Compute votes it back in.
	v.active = false
	vc := &VertexContext{vertex: v, worker: w}
	if err := w.computation.Compute(vc, w.readCache.MessagesFor(v.shard, v.key)); err != nil {
		tryEmitError(w.errCh, xerrors.Errorf("running compute for vertex %q failed: %w", v.key, err))
		return
	}
	if v.active {
		atomic.AddInt64(&w.activeCount, 1)
	}
}

func (w *Worker) compensateVertex(v *Vertex) {
	vc := &VertexContext{vertex: v, worker: w}
	if err := w.compensation.Compensate(vc, w.lostShards[v.shard]); err != nil {
		tryEmitError(w.errCh, xerrors.Errorf("running compensate for vertex %q failed: %w", v.key, err))
		return
	}
	if v.active {
		atomic.AddInt64(&w.activeCount, 1)
	}
}

func (w *Worker) serializeValues(values map[string]interface{}) (map[string]*any.Any, error) {
	serialized := make(map[string]*any.Any, len(values))
	for name, val := range values {
		raw, err := w.format.Serialize(val)
		if err != nil {
			return nil, xerrors.Errorf("value for aggregator %q: %w", name, err)
		}
		serialized[name] = raw
	}
	return serialized, nil
}

func (w *Worker) unserializeValues(values map[string]*any.Any) (map[string]interface{}, error) {
	unserialized := make(map[string]interface{}, len(values))
	for name, raw := range values {
		val, err := w.format.Unserialize(raw)
		if err != nil {
			return nil, xerrors.Errorf("value for aggregator %q: %w", name, err)
		}
		unserialized[name] = val
	}
	return unserialized, nil
}

// batchBytes estimates the wire size of a batch as the sum of its serialized
// payload lengths.
func batchBytes(entries []interface{}) int64 {
	var total int64
	for _, entry := range entries {
		switch payload := entry.(type) {
		case *any.Any:
			total += int64(len(payload.Value))
		case []*any.Any:
			for _, raw := range payload {
				total += int64(len(raw.Value))
			}
		}
	}
	return total
}

// tryEmitError queues err unless another error is already pending.
func tryEmitError(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}
