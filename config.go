package pregel

import (
	"io/ioutil"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/helixdata/pregel/stats"
)

// WorkerConfig encapsulates the settings for creating a Worker.
type WorkerConfig struct {
	// ID uniquely identifies this worker within a computation. A random ID
	// is assigned if unspecified.
	ID string

	// Algorithm is the graph algorithm this worker executes.
	Algorithm Algorithm

	// LocalShards enumerates the shards whose partitions this worker owns.
	LocalShards []Shard

	// GlobalShards enumerates every shard participating in the computation,
	// including this worker's local ones. Messages may only be addressed to
	// shards in this set.
	GlobalShards []Shard

	// ComputeWorkers is the number of goroutines executing vertex hooks in
	// parallel. Defaults to 1 if unspecified.
	ComputeWorkers int

	// Clock is the time source used for measuring superstep runtimes. The
	// wall clock is used if unspecified.
	Clock clock.Clock

	// Logger is the logger for worker events. A null logger is used if
	// unspecified.
	Logger *logrus.Entry
}

// Validate checks the config options and populates any missing defaults.
func (cfg *WorkerConfig) Validate() error {
	var err error
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Algorithm == nil {
		err = multierror.Append(err, xerrors.Errorf("algorithm not specified"))
	}
	if len(cfg.LocalShards) == 0 {
		err = multierror.Append(err, xerrors.Errorf("local shard list not specified"))
	}
	if len(cfg.GlobalShards) == 0 {
		err = multierror.Append(err, xerrors.Errorf("global shard list not specified"))
	} else {
		global := make(map[Shard]struct{}, len(cfg.GlobalShards))
		for _, shard := range cfg.GlobalShards {
			global[shard] = struct{}{}
		}
		for _, shard := range cfg.LocalShards {
			if _, exists := global[shard]; !exists {
				err = multierror.Append(err, xerrors.Errorf("local shard %d missing from global shard list", shard))
			}
		}
	}
	if cfg.ComputeWorkers <= 0 {
		cfg.ComputeWorkers = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = makeNullLogger()
	}
	return err
}

// MasterConfig encapsulates the settings for creating a Master.
type MasterConfig struct {
	// Algorithm is the graph algorithm whose hooks steer convergence and
	// recovery decisions.
	Algorithm Algorithm

	// MetricsCollector optionally exports the per-superstep message stats
	// as prometheus metrics.
	MetricsCollector *stats.Collector

	// Logger is the logger for master events. A null logger is used if
	// unspecified.
	Logger *logrus.Entry
}

// Validate checks the config options and populates any missing defaults.
func (cfg *MasterConfig) Validate() error {
	var err error
	if cfg.Algorithm == nil {
		err = multierror.Append(err, xerrors.Errorf("algorithm not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = makeNullLogger()
	}
	return err
}

func makeNullLogger() *logrus.Entry {
	nullLogger := logrus.New()
	nullLogger.SetOutput(ioutil.Discard)
	return logrus.NewEntry(nullLogger)
}
