package pregel

import (
	"github.com/golang/protobuf/ptypes/any"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/helixdata/pregel/aggregator"
	"github.com/helixdata/pregel/message"
	"github.com/helixdata/pregel/stats"
)

var (
	// ErrMessagesInFlight is returned by PostGlobalSuperstep when the total
	// number of messages reported as sent does not match the total reported
	// as received. Evaluating convergence at that point would act on data
	// that has not fully crossed the superstep barrier.
	ErrMessagesInFlight = xerrors.New("sent and received message counts do not match")

	// ErrInvalidStateTransition is returned when a coordination call does
	// not apply to the master's current state.
	ErrInvalidStateTransition = xerrors.New("operation not permitted in current state")
)

// State enumerates the phases of the master's coordination state machine.
type State int

const (
	// StateRunning indicates that ordinary supersteps are being executed.
	StateRunning State = iota

	// StateCompensating indicates that the recovery protocol is redressing
	// a partition loss before normal supersteps resume.
	StateCompensating

	// StateConverged indicates that the computation has completed.
	StateConverged
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompensating:
		return "compensating"
	case StateConverged:
		return "converged"
	default:
		return "unknown"
	}
}

// Master coordinates the global superstep barrier. It merges the aggregator
// deltas and message stats the workers report, decides whether the computation
// continues, converges or enters recovery, and publishes the aggregator
// snapshot each superstep reads.
type Master struct {
	cfg    MasterConfig
	jobID  string
	logger *logrus.Entry

	hooks  MasterHooks
	format message.Format

	state        State
	superstep    int
	recoveryStep int
	lostShards   []Shard

	aggr     *aggregator.Handler
	statsMgr *stats.Manager
	snapshot map[string]*any.Any

	totalVertexCount int64
	totalEdgeCount   int64
}

// NewMaster creates a master with the specified configuration.
func NewMaster(cfg MasterConfig) (*Master, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("master config validation failed: %w", err)
	}

	hooks := cfg.Algorithm.CreateMasterHooks()
	if hooks == nil {
		hooks = defaultMasterHooks{}
	}
	statsMgr := stats.NewManager()
	if cfg.MetricsCollector != nil {
		statsMgr.SetCollector(cfg.MetricsCollector)
	}

	jobID := uuid.New().String()
	return &Master{
		cfg:    cfg,
		jobID:  jobID,
		logger: cfg.Logger.WithFields(logrus.Fields{"job_id": jobID, "algorithm": cfg.Algorithm.Name()}),

		hooks:  hooks,
		format: cfg.Algorithm.MessageFormat(),

		state:    StateRunning,
		aggr:     aggregator.NewHandler(cfg.Algorithm.AggregatorFactory),
		statsMgr: statsMgr,
		snapshot: make(map[string]*any.Any),
	}, nil
}

// JobID returns the unique identifier assigned to this computation.
func (m *Master) JobID() string { return m.jobID }

// State returns the current phase of the coordination state machine.
func (m *Master) State() State { return m.state }

// GlobalSuperstep returns the current global superstep number.
func (m *Master) GlobalSuperstep() int { return m.superstep }

// RecoveryStep returns the active compensation round, or 0 outside recovery.
func (m *Master) RecoveryStep() int { return m.recoveryStep }

// LostShards returns the shards whose loss the active recovery redresses.
func (m *Master) LostShards() []Shard {
	return append([]Shard(nil), m.lostShards...)
}

// VertexCount returns the total number of vertices in the graph.
func (m *Master) VertexCount() int64 { return m.totalVertexCount }

// EdgeCount returns the total number of edges in the graph.
func (m *Master) EdgeCount() int64 { return m.totalEdgeCount }

// SetGraphTotals installs the graph-wide vertex and edge counts.
func (m *Master) SetGraphTotals(vertexCount, edgeCount int64) {
	m.totalVertexCount = vertexCount
	m.totalEdgeCount = edgeCount
}

// Stats returns the manager holding the current superstep's worker reports.
func (m *Master) Stats() *stats.Manager { return m.statsMgr }

// AggregatedValue returns the current globally merged value of the named
// aggregator.
func (m *Master) AggregatedValue(name string) interface{} { return m.aggr.Value(name) }

// Aggregate merges a master-side contribution into the named aggregator.
// Hooks use this to seed values that every vertex must observe in the next
// superstep or compensation round.
func (m *Master) Aggregate(name string, val interface{}) { m.aggr.Aggregate(name, val) }

// PreGlobalSuperstep begins a new global superstep: it clears the previous
// superstep's stats and aggregator values and lets the algorithm's hook seed
// fresh ones. The snapshot published at the end of the previous superstep is
// left untouched; it is the view the upcoming superstep's vertices must read.
// Hook-seeded values join the worker deltas at the next merge.
func (m *Master) PreGlobalSuperstep() error {
	if m.state != StateRunning {
		return xerrors.Errorf("cannot start superstep while %s: %w", m.state, ErrInvalidStateTransition)
	}
	m.statsMgr.Reset()
	m.aggr.ResetAll()
	if err := m.hooks.PreSuperstep(m); err != nil {
		return xerrors.Errorf("pre-superstep hook for superstep %d failed: %w", m.superstep, err)
	}
	m.logger.WithField("superstep", m.superstep).Debug("starting global superstep")
	return nil
}

// CollectReport folds one worker's end-of-superstep report into the global
// aggregator values and message stats.
func (m *Master) CollectReport(rep Report) error {
	if m.state != StateRunning {
		return xerrors.Errorf("cannot collect report while %s: %w", m.state, ErrInvalidStateTransition)
	}
	deltas, err := m.unserializeValues(rep.AggregatorValues)
	if err != nil {
		return xerrors.Errorf("report from worker %q: %w", rep.WorkerID, err)
	}
	m.aggr.MergeValues(deltas)
	m.statsMgr.Accumulate(rep.WorkerID, rep.Stats)
	m.statsMgr.AccumulateActive(rep.WorkerID, rep.ActiveCount)
	return nil
}

// PostGlobalSuperstep completes the current global superstep. It first
// verifies that every sent message has been received, then publishes the
// merged aggregator snapshot and asks the algorithm's hook whether the
// computation should continue. When the hook declines, the master transitions
// to the converged state.
func (m *Master) PostGlobalSuperstep() (keepRunning bool, err error) {
	if m.state != StateRunning {
		return false, xerrors.Errorf("cannot complete superstep while %s: %w", m.state, ErrInvalidStateTransition)
	}
	if !m.statsMgr.AllMessagesProcessed() {
		return false, xerrors.Errorf(
			"superstep %d: sent %d, received %d: %w",
			m.superstep, m.statsMgr.TotalSent(), m.statsMgr.TotalReceived(), ErrMessagesInFlight,
		)
	}

	keepRunning, err = m.hooks.PostSuperstep(m)
	if err != nil {
		return false, xerrors.Errorf("post-superstep hook for superstep %d failed: %w", m.superstep, err)
	}
	if err := m.publishSnapshot(); err != nil {
		return false, err
	}

	if !keepRunning {
		m.state = StateConverged
		m.logger.WithField("superstep", m.superstep).Info("computation converged")
		return false, nil
	}
	m.superstep++
	return true, nil
}

// GlobalValues returns the serialized aggregator snapshot workers must install
// before running the next superstep or compensation round.
func (m *Master) GlobalValues() map[string]*any.Any { return m.snapshot }

// BeginRecovery transitions the master into the compensating state after the
// partitions in lost became unavailable. The recovery protocol then executes
// compensation rounds until the algorithm's hooks declare the global invariant
// restored.
func (m *Master) BeginRecovery(lost []Shard) error {
	if m.state != StateRunning {
		return xerrors.Errorf("cannot begin recovery while %s: %w", m.state, ErrInvalidStateTransition)
	}
	if m.cfg.Algorithm.CreateCompensation() == nil {
		return xerrors.Errorf("begin recovery: %w", ErrCompensationUnsupported)
	}
	m.state = StateCompensating
	m.recoveryStep = 0
	m.lostShards = append([]Shard(nil), lost...)
	m.aggr.ResetAll()
	m.statsMgr.Reset()
	m.logger.WithFields(logrus.Fields{
		"superstep":   m.superstep,
		"lost_shards": lost,
	}).Warn("partition loss detected; entering recovery")
	return nil
}

// PreCompensation begins a compensation round. The round number is published
// through the step aggregator so every surviving worker knows which round is
// active. The aggregator values are deliberately not reset between rounds:
// the quantities round 0 established must remain visible throughout round 1.
// Returning proceed == false means the algorithm's hook vetoed the recovery
// and normal supersteps resume immediately.
func (m *Master) PreCompensation() (proceed bool, err error) {
	if m.state != StateCompensating {
		return false, xerrors.Errorf("cannot start compensation round while %s: %w", m.state, ErrInvalidStateTransition)
	}
	m.aggr.Aggregate(RecoveryStepAggregator, m.recoveryStep)
	proceed = m.hooks.PreCompensation(m)
	if err := m.publishSnapshot(); err != nil {
		return false, err
	}
	if !proceed {
		m.logger.WithField("superstep", m.superstep).Info("recovery vetoed; resuming computation")
		m.resumeRunning()
		return false, nil
	}
	m.statsMgr.ResetActive()
	m.logger.WithFields(logrus.Fields{
		"superstep":     m.superstep,
		"recovery_step": m.recoveryStep,
	}).Debug("starting compensation round")
	return true, nil
}

// CollectCompensationReport folds one worker's end-of-round report into the
// global aggregator values.
func (m *Master) CollectCompensationReport(rep Report) error {
	if m.state != StateCompensating {
		return xerrors.Errorf("cannot collect compensation report while %s: %w", m.state, ErrInvalidStateTransition)
	}
	deltas, err := m.unserializeValues(rep.AggregatorValues)
	if err != nil {
		return xerrors.Errorf("compensation report from worker %q: %w", rep.WorkerID, err)
	}
	m.aggr.MergeValues(deltas)
	m.statsMgr.AccumulateActive(rep.WorkerID, rep.ActiveCount)
	return nil
}

// PostCompensation completes the current compensation round. The algorithm's
// hook decides whether another round is required; once it declines, the master
// resumes normal supersteps.
func (m *Master) PostCompensation() (done bool, err error) {
	if m.state != StateCompensating {
		return false, xerrors.Errorf("cannot complete compensation round while %s: %w", m.state, ErrInvalidStateTransition)
	}
	if m.hooks.PostCompensation(m) {
		m.recoveryStep++
		return false, nil
	}
	m.logger.WithFields(logrus.Fields{
		"superstep":     m.superstep,
		"recovery_step": m.recoveryStep,
	}).Info("recovery complete; resuming computation")
	m.resumeRunning()
	return true, nil
}

func (m *Master) resumeRunning() {
	m.state = StateRunning
	m.recoveryStep = 0
	m.lostShards = nil
}

// publishSnapshot serializes the current aggregator values into the immutable
// snapshot workers install before the next dispatch.
func (m *Master) publishSnapshot() error {
	values := m.aggr.Snapshot()
	snapshot := make(map[string]*any.Any, len(values))
	for name, val := range values {
		raw, err := m.format.Serialize(val)
		if err != nil {
			return xerrors.Errorf("unable to serialize value for aggregator %q: %w", name, err)
		}
		snapshot[name] = raw
	}
	m.snapshot = snapshot
	return nil
}

func (m *Master) unserializeValues(values map[string]*any.Any) (map[string]interface{}, error) {
	unserialized := make(map[string]interface{}, len(values))
	for name, raw := range values {
		val, err := m.format.Unserialize(raw)
		if err != nil {
			return nil, xerrors.Errorf("unable to unserialize value for aggregator %q: %w", name, err)
		}
		unserialized[name] = val
	}
	return unserialized, nil
}

// defaultMasterHooks runs the computation until it goes quiescent and never
// permits compensation.
type defaultMasterHooks struct{}

func (defaultMasterHooks) PreSuperstep(*Master) error { return nil }

func (defaultMasterHooks) PostSuperstep(m *Master) (bool, error) {
	return m.Stats().TotalActive() > 0 || m.Stats().TotalSent() > 0, nil
}

func (defaultMasterHooks) PreCompensation(*Master) bool { return false }

func (defaultMasterHooks) PostCompensation(*Master) bool { return false }
