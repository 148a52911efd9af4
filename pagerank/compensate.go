package pagerank

import (
	"github.com/helixdata/pregel"
)

// compensation restores the unit score mass after a partition loss. Round 0
// tallies the rank that survived and the number of surviving vertices; round 1
// reinitializes the lost vertices and rescales the survivors so the total mass
// is 1 again.
type compensation struct{}

// Compensate implements pregel.VertexCompensation.
func (compensation) Compensate(ctx *pregel.VertexContext, inLostPartition bool) error {
	step, _ := ctx.AggregatedValue(pregel.RecoveryStepAggregator).(int)
	if step == 0 {
		if !inLostPartition {
			if score, ok := ctx.Value().(float64); ok {
				ctx.Aggregate(rankAggregator, score)
			}
			ctx.Aggregate(nonfailedCountAggregator, 1)
		}
		return nil
	}

	if inLostPartition {
		ctx.SetValue(1.0 / float64(ctx.VertexCount()))
	} else if scale, ok := ctx.AggregatedValue(scaleAggregator).(float64); ok && scale != 1.0 {
		ctx.SetValue(ctx.Value().(float64) * scale)
	}

	// Every vertex rejoins the computation so the redistributed mass
	// propagates once normal supersteps resume.
	ctx.VoteActive()
	return nil
}
