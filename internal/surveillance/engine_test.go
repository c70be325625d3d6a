package surveillance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/approval"
	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/capability"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

type testRig struct {
	engine *Engine
	lc     *lifecycle.Manager
	clock  *ids.FakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "surveillance_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := ids.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fr := freeze.New(db, nil, clock)
	caps := capability.NewRegistry(capability.Baseline)
	cfg := config.Default()
	lc := lifecycle.New(db, fr, caps, cfg, clock, zap.NewNop())
	al := audit.New(db)
	bus := approval.New(db, clock, nil, zap.NewNop())
	t.Cleanup(bus.Close)

	eng := New(lc, al, fr, bus, cfg, clock, zap.NewNop(), nil, nil)
	return &testRig{engine: eng, lc: lc, clock: clock}
}

func registerActiveAgent(t *testing.T, rig *testRig, name string) *model.Agent {
	t.Helper()
	ctx := context.Background()
	agent, err := rig.lc.RegisterAgent(ctx, "tenant-1", model.RegisterAgentSpec{
		Name: name, AgentType: "worker", RegisteredBy: "admin-1",
	}, ids.NewID())
	require.NoError(t, err)
	_, err = rig.lc.ExecuteAction(ctx, agent.AgentID, model.ActionActivate, "admin-1", "go live", "", ids.NewID())
	require.NoError(t, err)
	require.NoError(t, rig.lc.Heartbeat(ctx, agent.AgentID, map[string]interface{}{"cpu": 10.0}))
	agent, err = rig.lc.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	return agent
}

func TestRunCycleTicksGoodBehaviorForHealthyAgent(t *testing.T) {
	rig := newTestRig(t)
	agent := registerActiveAgent(t, rig, "worker-1")

	require.NoError(t, rig.engine.RunCycle(context.Background()))

	updated, err := rig.lc.GetAgent(context.Background(), agent.AgentID)
	require.NoError(t, err)
	require.Greater(t, updated.SecurityScore, 0)
}

func TestRunCycleMarksOfflineOnHeartbeatTimeout(t *testing.T) {
	rig := newTestRig(t)
	agent := registerActiveAgent(t, rig, "worker-2")

	rig.clock.Advance(time.Duration(rig.engine.cfg.Surveillance.HeartbeatTimeoutSeconds+1) * time.Second)
	require.NoError(t, rig.engine.RunCycle(context.Background()))

	updated, err := rig.lc.GetAgent(context.Background(), agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusOffline, updated.Status)
}

func TestRunCycleRaisesViolationOnThresholdBreach(t *testing.T) {
	rig := newTestRig(t)
	agent := registerActiveAgent(t, rig, "worker-3")
	require.NoError(t, rig.lc.Heartbeat(context.Background(), agent.AgentID, map[string]interface{}{"cpu": 99.0}))

	require.NoError(t, rig.engine.RunCycle(context.Background()))

	updated, err := rig.lc.GetAgent(context.Background(), agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuspended, updated.Status)
}

type fakeAnalyzer struct {
	result AnomalyResult
}

func (f fakeAnalyzer) Analyze(ctx context.Context, agentID string, history []*model.Activity) (AnomalyResult, error) {
	return f.result, nil
}

func TestCheckBehaviorSkippedWhenDisabled(t *testing.T) {
	rig := newTestRig(t)
	agent := registerActiveAgent(t, rig, "worker-4")
	rig.engine.analyzer = fakeAnalyzer{result: AnomalyResult{IsAnomaly: true, Score: 0.95, Confidence: 0.95}}

	violated, err := rig.engine.checkBehavior(context.Background(), agent)
	require.NoError(t, err)
	require.False(t, violated, "behavior analysis must stay off unless enable_behavior_analysis is set")
}

func TestCheckBehaviorRaisesOnConfidentAnomaly(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.cfg.Surveillance.EnableBehaviorAnalysis = true
	agent := registerActiveAgent(t, rig, "worker-5")
	rig.engine.analyzer = fakeAnalyzer{result: AnomalyResult{IsAnomaly: true, Score: 0.95, Confidence: 0.95, Explanation: "burst of data exfiltration calls"}}

	violated, err := rig.engine.checkBehavior(context.Background(), agent)
	require.NoError(t, err)
	require.True(t, violated)

	updated, err := rig.lc.GetAgent(context.Background(), agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuspended, updated.Status, "a single critical violation from active suspends first; compromise requires a second violation while already suspended")
}

func TestCheckBehaviorIgnoresLowConfidenceAnomaly(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.cfg.Surveillance.EnableBehaviorAnalysis = true
	agent := registerActiveAgent(t, rig, "worker-6")
	rig.engine.analyzer = fakeAnalyzer{result: AnomalyResult{IsAnomaly: true, Score: 0.95, Confidence: 0.5}}

	violated, err := rig.engine.checkBehavior(context.Background(), agent)
	require.NoError(t, err)
	require.False(t, violated)
}
