package pagerank_test

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/helixdata/pregel/pagerank"
)

var _ = gc.Suite(new(CalculatorTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type edge struct {
	src, dst string
}

type spec struct {
	descr     string
	vertices  []string
	edges     []edge
	expScores map[string]float64
}

type CalculatorTestSuite struct {
}

func (s *CalculatorTestSuite) TestSimpleGraphCase1(c *gc.C) {
	spec := spec{
		descr: `
 (A) -> (B) -> (C)
  ^             |
  |             |
  +-------------+

Expect PageRank score to be distributed evenly across the three nodes.
`,
		vertices: []string{"A", "B", "C"},
		edges: []edge{
			{"A", "B"},
			{"B", "C"},
			{"C", "A"},
		},
		expScores: map[string]float64{
			"A": 1.0 / 3.0,
			"B": 1.0 / 3.0,
			"C": 1.0 / 3.0,
		},
	}

	s.assertPageRankScores(c, spec)
}

func (s *CalculatorTestSuite) TestSimpleGraphCase2(c *gc.C) {
	spec := spec{
		descr: `
  +--(A)<-+
  |       |
  V       |
 (B) <-> (C)

Expect B and C to get better score than A due to the back-link between them.
Also, B should get slightly better score than C as there are two links pointing
to it.
`,
		vertices: []string{"A", "B", "C"},
		edges: []edge{
			{"A", "B"},
			{"B", "C"},
			{"C", "A"},
			{"C", "B"},
		},
		expScores: map[string]float64{
			"A": 0.2145,
			"B": 0.3937,
			"C": 0.3879,
		},
	}

	s.assertPageRankScores(c, spec)
}

func (s *CalculatorTestSuite) TestSimpleGraphCase3(c *gc.C) {
	spec := spec{
		descr: `
 (A) <-> (B) <-> (C)

Expect A and C to get the same score and B to get the largest score since there
are two links pointing to it.
`,
		vertices: []string{"A", "B", "C"},
		edges: []edge{
			{"A", "B"},
			{"B", "A"},
			{"B", "C"},
			{"C", "B"},
		},
		expScores: map[string]float64{
			"A": 0.2569,
			"B": 0.4860,
			"C": 0.2569,
		},
	}

	s.assertPageRankScores(c, spec)
}

func (s *CalculatorTestSuite) TestDeadEnd(c *gc.C) {
	spec := spec{
		descr: `
 (A) -> (B) -> (C)

Expect that S(A) < S(B) < S(C). C is a dead-end as it has no outgoing links.
The algorithm deals with such cases by spreading C's score across all vertices
in the graph; essentially, it's like C is connected to every other vertex.
`,
		vertices: []string{"A", "B", "C"},
		edges: []edge{
			{"A", "B"},
			{"B", "C"},
		},
		expScores: map[string]float64{
			"A": 0.1842,
			"B": 0.3411,
			"C": 0.4745,
		},
	}

	s.assertPageRankScores(c, spec)
}

func (s *CalculatorTestSuite) TestConvergenceForLargeGraphs(c *gc.C) {
	s.assertConvergence(c, 100000, 7)
}

func (s *CalculatorTestSuite) assertConvergence(c *gc.C, numLinks, maxOutLinks int) {
	calc, err := pagerank.NewCalculator(pagerank.Config{
		Shards:         32,
		GraphWorkers:   4,
		ComputeWorkers: 8,
		Epsilon:        0.001,
	})
	c.Assert(err, gc.IsNil)
	defer func() { _ = calc.Close() }()

	// Make the graph generation deterministic for each test.
	rand.Seed(42)

	names := make([]string, numLinks)
	for i := 0; i < numLinks; i++ {
		names[i] = strconv.FormatInt(int64(i), 10)
	}

	start := time.Now()
	for i := 0; i < numLinks; i++ {
		c.Assert(calc.AddVertex(names[i]), gc.IsNil)

		outLinks := rand.Intn(maxOutLinks)
		for j := 0; j < outLinks; j++ {
			dst := rand.Intn(numLinks)
			c.Assert(calc.AddEdge(names[i], names[dst]), gc.IsNil)
		}
	}
	c.Logf("constructed %d nodes in %v", numLinks, time.Since(start).Truncate(time.Millisecond).String())

	start = time.Now()
	ex, err := calc.Executor()
	c.Assert(err, gc.IsNil)
	err = ex.RunToCompletion(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Logf("converged %d nodes after %d steps in %v", numLinks, calc.Master().GlobalSuperstep(), time.Since(start).Truncate(time.Millisecond).String())

	var prSum float64
	err = calc.Scores(func(id string, score float64) error {
		prSum += score
		return nil
	})
	c.Assert(err, gc.IsNil)

	c.Assert(math.Abs(1.0-prSum) <= 0.001, gc.Equals, true, gc.Commentf("expected all pagerank scores to add up to 1.0; got %f", prSum))
}

func (s *CalculatorTestSuite) assertPageRankScores(c *gc.C, spec spec) {
	c.Log(spec.descr)

	calc, err := pagerank.NewCalculator(pagerank.Config{
		Shards:         4,
		GraphWorkers:   2,
		ComputeWorkers: 2,
		DampingFactor:  0.85,
	})
	c.Assert(err, gc.IsNil)
	defer func() { _ = calc.Close() }()

	for _, id := range spec.vertices {
		c.Assert(calc.AddVertex(id), gc.IsNil)
	}
	for _, e := range spec.edges {
		c.Assert(calc.AddEdge(e.src, e.dst), gc.IsNil)
	}

	ex, err := calc.Executor()
	c.Assert(err, gc.IsNil)
	err = ex.RunToCompletion(context.TODO())
	c.Assert(err, gc.IsNil)
	c.Logf("converged after %d steps", calc.Master().GlobalSuperstep())

	var prSum float64
	err = calc.Scores(func(id string, score float64) error {
		prSum += score
		absDelta := math.Abs(score - spec.expScores[id])
		c.Assert(absDelta <= 0.01, gc.Equals, true, gc.Commentf("expected score for %v to be %f ± 0.01; got %f (abs. delta %f)", id, spec.expScores[id], score, absDelta))
		return nil
	})
	c.Assert(err, gc.IsNil)

	c.Assert(math.Abs(1.0-prSum) <= 0.001, gc.Equals, true, gc.Commentf("expected all pagerank scores to add up to 1.0; got %f", prSum))
}
