package pagerank_test

import (
	"context"
	"math"
	"strconv"

	gc "gopkg.in/check.v1"

	"github.com/helixdata/pregel"
	"github.com/helixdata/pregel/pagerank"
)

var _ = gc.Suite(new(RecoveryTestSuite))

type RecoveryTestSuite struct {
}

// makeRingCalculator builds a 100-vertex ring split across two workers.
func (s *RecoveryTestSuite) makeRingCalculator(c *gc.C) *pagerank.Calculator {
	calc, err := pagerank.NewCalculator(pagerank.Config{
		Shards:       10,
		GraphWorkers: 2,
		Epsilon:      0.0001,
	})
	c.Assert(err, gc.IsNil)

	numVertices := 100
	names := make([]string, numVertices)
	for i := 0; i < numVertices; i++ {
		names[i] = strconv.Itoa(i)
		c.Assert(calc.AddVertex(names[i]), gc.IsNil)
	}
	for i := 0; i < numVertices; i++ {
		c.Assert(calc.AddEdge(names[i], names[(i+1)%numVertices]), gc.IsNil)
	}
	return calc
}

func (s *RecoveryTestSuite) scoreSum(c *gc.C, calc *pagerank.Calculator) float64 {
	var sum float64
	err := calc.Scores(func(_ string, score float64) error {
		sum += score
		return nil
	})
	c.Assert(err, gc.IsNil)
	return sum
}

func (s *RecoveryTestSuite) TestPartitionLossRecovery(c *gc.C) {
	calc := s.makeRingCalculator(c)
	defer func() { _ = calc.Close() }()

	var (
		ex              *pregel.Executor
		injected        bool
		recovered       bool
		sumAfterRecover float64
	)
	calc.SetExecutorFactory(func(m *pregel.Master, workers []*pregel.Worker, cb pregel.ExecutorCallbacks) (*pregel.Executor, error) {
		cb.PostStep = func(_ context.Context, m *pregel.Master, _ int) error {
			if m.GlobalSuperstep() >= 5 && !injected {
				injected = true
				// Drop one of the second worker's partitions.
				ex.InjectPartitionLoss(calc.Workers()[1].LocalShards()[0])
			}
			return nil
		}
		cb.PostRecovery = func(_ context.Context, m *pregel.Master) error {
			recovered = true
			c.Check(m.State(), gc.Equals, pregel.StateRunning)
			c.Check(m.RecoveryStep(), gc.Equals, 0)
			sumAfterRecover = s.scoreSum(c, calc)
			return nil
		}
		return pregel.NewExecutor(m, workers, cb)
	})

	ex, err := calc.Executor()
	c.Assert(err, gc.IsNil)
	c.Assert(ex.RunToCompletion(context.TODO()), gc.IsNil)

	c.Assert(injected, gc.Equals, true)
	c.Assert(recovered, gc.Equals, true)
	c.Assert(calc.Master().State(), gc.Equals, pregel.StateConverged)

	// The redistribution must restore the unit score mass before the
	// computation resumes, and the final distribution must preserve it.
	c.Assert(math.Abs(1.0-sumAfterRecover) <= 0.01, gc.Equals, true,
		gc.Commentf("expected score mass to be restored to 1.0 after recovery; got %f", sumAfterRecover))
	finalSum := s.scoreSum(c, calc)
	c.Assert(math.Abs(1.0-finalSum) <= 0.001, gc.Equals, true,
		gc.Commentf("expected converged scores to add up to 1.0; got %f", finalSum))
}

func (s *RecoveryTestSuite) TestRecoveryVetoedBeforeFirstSuperstep(c *gc.C) {
	calc := s.makeRingCalculator(c)
	defer func() { _ = calc.Close() }()

	var recoveryRan bool
	calc.SetExecutorFactory(func(m *pregel.Master, workers []*pregel.Worker, cb pregel.ExecutorCallbacks) (*pregel.Executor, error) {
		cb.PostRecovery = func(_ context.Context, m *pregel.Master) error {
			recoveryRan = true
			c.Check(m.State(), gc.Equals, pregel.StateRunning)
			return nil
		}
		return pregel.NewExecutor(m, workers, cb)
	})

	ex, err := calc.Executor()
	c.Assert(err, gc.IsNil)

	// With no score mass in the graph yet there is nothing to
	// redistribute, so the recovery must be skipped.
	ex.InjectPartitionLoss(calc.Workers()[0].LocalShards()[0])
	c.Assert(ex.RunToCompletion(context.TODO()), gc.IsNil)

	c.Assert(recoveryRan, gc.Equals, true)
	c.Assert(calc.Master().State(), gc.Equals, pregel.StateConverged)

	finalSum := s.scoreSum(c, calc)
	c.Assert(math.Abs(1.0-finalSum) <= 0.001, gc.Equals, true,
		gc.Commentf("expected converged scores to add up to 1.0; got %f", finalSum))
}

func (s *RecoveryTestSuite) TestTotalPartitionLoss(c *gc.C) {
	calc := s.makeRingCalculator(c)
	defer func() { _ = calc.Close() }()

	var (
		sumAfterRecover float64
		scaleUsed       interface{}
	)
	calc.SetExecutorFactory(func(m *pregel.Master, workers []*pregel.Worker, cb pregel.ExecutorCallbacks) (*pregel.Executor, error) {
		cb.PostRecovery = func(_ context.Context, m *pregel.Master) error {
			sumAfterRecover = s.scoreSum(c, calc)
			scaleUsed = m.AggregatedValue("scale")
			return nil
		}
		return pregel.NewExecutor(m, workers, cb)
	})

	ex, err := calc.Executor()
	c.Assert(err, gc.IsNil)

	c.Assert(ex.RunSteps(context.TODO(), 3), gc.IsNil)

	// Losing every shard leaves no residual mass and no survivors; the
	// scale factor must stay at its identity and every vertex must be
	// reinitialized to 1/N.
	var allShards []pregel.Shard
	for _, w := range calc.Workers() {
		allShards = append(allShards, w.LocalShards()...)
	}
	ex.InjectPartitionLoss(allShards...)
	c.Assert(ex.RunSteps(context.TODO(), 1), gc.IsNil)

	c.Assert(scaleUsed, gc.Equals, 1.0)
	c.Assert(math.Abs(1.0-sumAfterRecover) <= 1e-9, gc.Equals, true,
		gc.Commentf("expected reinitialized scores to add up to 1.0; got %f", sumAfterRecover))
}
