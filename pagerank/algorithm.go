// Package pagerank implements the iterative version of the PageRank algorithm
// as an engine plugin, including the compensation hooks that restore the
// score distribution after a partition loss.
package pagerank

import (
	"golang.org/x/xerrors"

	"github.com/helixdata/pregel"
	"github.com/helixdata/pregel/aggregator"
	"github.com/helixdata/pregel/message"
)

// The aggregators the algorithm relies on. rank tracks the total score mass,
// convergence the sum of absolute score differences and residual the mass
// parked at dead ends. nonfailedCount and scale only carry values while the
// recovery protocol is redressing a partition loss.
const (
	rankAggregator           = "rank"
	convergenceAggregator    = "convergence"
	residualAggregator       = "residual"
	nonfailedCountAggregator = "nonfailedCount"
	scaleAggregator          = "scale"
)

// Algorithm implements pregel.Algorithm for PageRank.
type Algorithm struct {
	cfg Config
}

// NewAlgorithm returns a PageRank algorithm instance using the provided
// config options.
func NewAlgorithm(cfg Config) (*Algorithm, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("PageRank config validation failed: %w", err)
	}
	return &Algorithm{cfg: cfg}, nil
}

// Name implements pregel.Algorithm.
func (a *Algorithm) Name() string { return "pagerank" }

// MessageFormat implements pregel.Algorithm.
func (a *Algorithm) MessageFormat() message.Format { return scoreFormat{} }

// MessageCombiner implements pregel.Algorithm. Incoming scores are summed, so
// each vertex only ever observes a single combined message.
func (a *Algorithm) MessageCombiner() message.Combiner {
	return message.CombinerFunc(func(x, y interface{}) interface{} {
		return x.(float64) + y.(float64)
	})
}

// AggregatorFactory implements pregel.Algorithm.
func (a *Algorithm) AggregatorFactory(name string) aggregator.Aggregator {
	switch name {
	case rankAggregator, convergenceAggregator, residualAggregator:
		return new(aggregator.Float64Accumulator)
	case nonfailedCountAggregator:
		return new(aggregator.IntAccumulator)
	case scaleAggregator:
		return aggregator.NewOverwrite(1.0)
	case pregel.RecoveryStepAggregator:
		return aggregator.NewOverwrite(0)
	default:
		return nil
	}
}

// CreateComputation implements pregel.Algorithm.
func (a *Algorithm) CreateComputation() pregel.VertexComputation {
	return &computation{dampingFactor: a.cfg.DampingFactor}
}

// CreateCompensation implements pregel.Algorithm.
func (a *Algorithm) CreateCompensation() pregel.VertexCompensation {
	return compensation{}
}

// CreateMasterHooks implements pregel.Algorithm.
func (a *Algorithm) CreateMasterHooks() pregel.MasterHooks {
	return &masterHooks{cfg: a.cfg}
}
