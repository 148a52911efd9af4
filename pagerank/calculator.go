package pagerank

import (
	"hash/fnv"

	"golang.org/x/xerrors"

	"github.com/helixdata/pregel"
)

// ExecutorFactory is a function that wires a master and a set of workers into
// an executor.
type ExecutorFactory func(m *pregel.Master, workers []*pregel.Worker, cb pregel.ExecutorCallbacks) (*pregel.Executor, error)

// Calculator executes the iterative version of the PageRank algorithm on a
// graph until the desired level of convergence is reached. It hosts the
// master and all workers in a single process, hashing vertex keys onto shards
// and splitting the shards evenly across the configured number of workers.
type Calculator struct {
	cfg    Config
	algo   *Algorithm
	master *pregel.Master

	workers    []*pregel.Worker
	shardOwner map[pregel.Shard]*pregel.Worker

	executorFactory ExecutorFactory
}

// NewCalculator returns a new Calculator instance using the provided config
// options.
func NewCalculator(cfg Config) (*Calculator, error) {
	algo, err := NewAlgorithm(cfg)
	if err != nil {
		return nil, err
	}
	cfg = algo.cfg

	master, err := pregel.NewMaster(pregel.MasterConfig{
		Algorithm: algo,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	globalShards := make([]pregel.Shard, cfg.Shards)
	for i := range globalShards {
		globalShards[i] = pregel.Shard(i)
	}

	c := &Calculator{
		cfg:             cfg,
		algo:            algo,
		master:          master,
		shardOwner:      make(map[pregel.Shard]*pregel.Worker, cfg.Shards),
		executorFactory: pregel.NewExecutor,
	}
	for _, localShards := range splitShards(globalShards, cfg.GraphWorkers) {
		w, err := pregel.NewWorker(pregel.WorkerConfig{
			Algorithm:      algo,
			LocalShards:    localShards,
			GlobalShards:   globalShards,
			ComputeWorkers: cfg.ComputeWorkers,
			Logger:         cfg.Logger,
		})
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.workers = append(c.workers, w)
		for _, shard := range localShards {
			c.shardOwner[shard] = w
		}
	}
	return c, nil
}

// Close releases any resources allocated by this PageRank calculator instance.
func (c *Calculator) Close() error {
	var firstErr error
	for _, w := range c.workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.workers = nil
	return firstErr
}

// SetExecutorFactory configures the calculator to use a custom executor
// factory when the Executor method is invoked.
func (c *Calculator) SetExecutorFactory(factory ExecutorFactory) {
	c.executorFactory = factory
}

// AddVertex inserts a new vertex to the graph with the given id.
func (c *Calculator) AddVertex(id string) error {
	shard := c.shardFor(id)
	return c.shardOwner[shard].AddVertex(shard, id, 0.0)
}

// AddEdge inserts a directed edge from src to dst. If both src and dst refer
// to the same vertex then this is a no-op.
func (c *Calculator) AddEdge(src, dst string) error {
	// Don't allow self-links
	if src == dst {
		return nil
	}
	srcShard := c.shardFor(src)
	return c.shardOwner[srcShard].AddEdge(srcShard, src, c.shardFor(dst), dst, nil)
}

// Executor creates and returns an executor for running the PageRank algorithm
// once the graph layout has been properly set up.
func (c *Calculator) Executor() (*pregel.Executor, error) {
	return c.executorFactory(c.master, c.workers, pregel.ExecutorCallbacks{})
}

// Master returns the coordinating master instance.
func (c *Calculator) Master() *pregel.Master { return c.master }

// Workers returns the worker instances hosting the graph partitions.
func (c *Calculator) Workers() []*pregel.Worker { return c.workers }

// Scores invokes the provided visitor function for each vertex in the graph.
func (c *Calculator) Scores(visitFn func(id string, score float64) error) error {
	var err error
	for _, w := range c.workers {
		if err != nil {
			break
		}
		w.ForEachVertex(func(v *pregel.Vertex) {
			if err != nil {
				return
			}
			if score, ok := v.Value().(float64); ok {
				err = visitFn(v.Key(), score)
			} else {
				err = xerrors.Errorf("vertex %q has no score", v.Key())
			}
		})
	}
	return err
}

func (c *Calculator) shardFor(id string) pregel.Shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return pregel.Shard(h.Sum32() % uint32(c.cfg.Shards))
}

// splitShards distributes the shards across numWorkers contiguous groups as
// evenly as possible.
func splitShards(shards []pregel.Shard, numWorkers int) [][]pregel.Shard {
	groups := make([][]pregel.Shard, 0, numWorkers)
	perWorker := len(shards) / numWorkers
	extra := len(shards) % numWorkers
	var next int
	for i := 0; i < numWorkers; i++ {
		size := perWorker
		if i < extra {
			size++
		}
		groups = append(groups, shards[next:next+size])
		next += size
	}
	return groups
}
