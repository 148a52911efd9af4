package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ManagerTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type ManagerTestSuite struct {
}

func (s *ManagerTestSuite) TestAllMessagesProcessed(c *gc.C) {
	m := NewManager()

	// With no reports the balance trivially holds.
	c.Assert(m.AllMessagesProcessed(), gc.Equals, true)

	m.Accumulate("w0", MessageStats{SendCount: 10, ReceivedCount: 4})
	c.Assert(m.AllMessagesProcessed(), gc.Equals, false)

	// The 6 units w0 shipped to w1 arrive there; the ledger balances
	// across workers, not per worker.
	m.Accumulate("w1", MessageStats{SendCount: 0, ReceivedCount: 6})
	c.Assert(m.AllMessagesProcessed(), gc.Equals, true)

	c.Assert(m.TotalSent(), gc.Equals, int64(10))
	c.Assert(m.TotalReceived(), gc.Equals, int64(10))
}

func (s *ManagerTestSuite) TestAccumulateReplacesReport(c *gc.C) {
	m := NewManager()
	m.Accumulate("w0", MessageStats{SendCount: 3, ReceivedCount: 3})
	m.Accumulate("w0", MessageStats{SendCount: 5, ReceivedCount: 5, SuperstepRuntime: time.Second})

	c.Assert(m.TotalSent(), gc.Equals, int64(5))
	stats, exists := m.WorkerStats("w0")
	c.Assert(exists, gc.Equals, true)
	c.Assert(stats.SuperstepRuntime, gc.Equals, time.Second)
}

func (s *ManagerTestSuite) TestActiveCounts(c *gc.C) {
	m := NewManager()
	m.AccumulateActive("w0", 7)
	m.AccumulateActive("w1", 3)
	c.Assert(m.TotalActive(), gc.Equals, int64(10))

	m.ResetActive()
	c.Assert(m.TotalActive(), gc.Equals, int64(0))
}

func (s *ManagerTestSuite) TestReset(c *gc.C) {
	m := NewManager()
	m.Accumulate("w0", MessageStats{SendCount: 1, ReceivedCount: 0})
	m.AccumulateActive("w0", 1)

	m.Reset()
	c.Assert(m.AllMessagesProcessed(), gc.Equals, true)
	c.Assert(m.TotalActive(), gc.Equals, int64(0))
	_, exists := m.WorkerStats("w0")
	c.Assert(exists, gc.Equals, false)
}

func (s *ManagerTestSuite) TestCollectorObservesReports(c *gc.C) {
	reg := prometheus.NewRegistry()
	m := NewManager()
	m.SetCollector(NewCollector(reg))

	m.Accumulate("w0", MessageStats{SendCount: 4, ReceivedCount: 4})
	m.AccumulateActive("w0", 2)

	metrics, err := reg.Gather()
	c.Assert(err, gc.IsNil)

	found := make(map[string]float64)
	for _, mf := range metrics {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case "pregel_messages_sent_total":
				found[mf.GetName()] = metric.GetCounter().GetValue()
			case "pregel_messages_received_total":
				found[mf.GetName()] = metric.GetCounter().GetValue()
			case "pregel_active_vertices":
				found[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	c.Assert(found["pregel_messages_sent_total"], gc.Equals, 4.0)
	c.Assert(found["pregel_messages_received_total"], gc.Equals, 4.0)
	c.Assert(found["pregel_active_vertices"], gc.Equals, 2.0)
}
