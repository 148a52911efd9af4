package pagerank

import (
	"math"

	"github.com/helixdata/pregel"
	"github.com/helixdata/pregel/message"
)

// computation executes one PageRank iteration per superstep.
type computation struct {
	dampingFactor float64
}

// Compute implements pregel.VertexComputation.
func (c *computation) Compute(ctx *pregel.VertexContext, msgs message.Iterator) error {
	n := float64(ctx.VertexCount())

	var newScore float64
	if ctx.GlobalSuperstep() == 0 {
		// The total score mass of 1 is distributed evenly across all
		// vertices before the first iteration.
		newScore = 1.0 / n
	} else {
		newScore = (1.0 - c.dampingFactor) / n
		for msgs.Next() {
			newScore += c.dampingFactor * msgs.Message().(float64)
		}
		if err := msgs.Error(); err != nil {
			return err
		}

		// Integrate the residual mass that dead ends parked in the
		// previous superstep. A dead end behaves as if it linked to
		// every vertex in the graph.
		if residual, ok := ctx.AggregatedValue(residualAggregator).(float64); ok {
			newScore += c.dampingFactor * residual
		}
	}

	var oldScore float64
	if v, ok := ctx.Value().(float64); ok {
		oldScore = v
	}
	ctx.Aggregate(convergenceAggregator, math.Abs(newScore-oldScore))
	ctx.Aggregate(rankAggregator, newScore)
	ctx.SetValue(newScore)
	ctx.VoteActive()

	outDegree := ctx.EdgeCount()
	if outDegree == 0 {
		ctx.Aggregate(residualAggregator, newScore/n)
		return nil
	}
	return ctx.SendMessageToAllNeighbours(newScore / float64(outDegree))
}
