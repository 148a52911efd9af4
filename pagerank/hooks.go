package pagerank

import (
	"github.com/helixdata/pregel"
)

// masterHooks evaluates convergence after each superstep and steers the
// two-round recovery protocol after a partition loss.
type masterHooks struct {
	cfg Config

	// totalRank is the score mass observed at the end of the last
	// completed superstep. It is the reference mass the recovery protocol
	// restores.
	totalRank float64
}

// PreSuperstep implements pregel.MasterHooks.
func (h *masterHooks) PreSuperstep(*pregel.Master) error { return nil }

// PostSuperstep implements pregel.MasterHooks. Supersteps 0 and 1 initialize
// the score distribution, so the convergence predicate is only evaluated from
// superstep 2 onwards.
func (h *masterHooks) PostSuperstep(m *pregel.Master) (bool, error) {
	if rank, ok := m.AggregatedValue(rankAggregator).(float64); ok {
		h.totalRank = rank
	}
	if m.GlobalSuperstep()+1 >= h.cfg.MaxSupersteps {
		return false, nil
	}
	if m.GlobalSuperstep() > 1 {
		if conv, ok := m.AggregatedValue(convergenceAggregator).(float64); ok && conv < h.cfg.Epsilon {
			return false, nil
		}
	}
	return true, nil
}

// PreCompensation implements pregel.MasterHooks. With no score mass in the
// graph there is nothing to redistribute, so the recovery is skipped outright.
func (h *masterHooks) PreCompensation(*pregel.Master) bool {
	return h.totalRank > 0
}

// PostCompensation implements pregel.MasterHooks. After round 0 it derives the
// scale factor the survivors must apply so that their mass plus the
// reinitialized mass of the lost vertices adds up to the pre-failure total,
// and requests round 1 to apply it. After round 1 the invariant is restored.
func (h *masterHooks) PostCompensation(m *pregel.Master) bool {
	step, _ := m.AggregatedValue(pregel.RecoveryStepAggregator).(int)
	if step != 0 {
		return false
	}

	remainingRank, _ := m.AggregatedValue(rankAggregator).(float64)
	nonfailedCount, _ := m.AggregatedValue(nonfailedCountAggregator).(int)

	// With no surviving mass or no survivors at all there is nothing to
	// rescale; the identity factor keeps round 1 a pure reinitialization.
	scale := 1.0
	if remainingRank > 0 && nonfailedCount > 0 {
		scale = h.totalRank * float64(nonfailedCount) / (float64(m.VertexCount()) * remainingRank)
	}
	m.Aggregate(scaleAggregator, scale)
	return true
}
