package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/capability"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *ids.FakeClock) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "lifecycle_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := ids.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fr := freeze.New(db, nil, clock)
	caps := capability.NewRegistry(capability.Baseline)
	cfg := config.Default()

	return New(db, fr, caps, cfg, clock, zap.NewNop()), clock
}

func TestRegisterAgentThenActivate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	agent, err := m.RegisterAgent(ctx, "tenant-1", model.RegisterAgentSpec{
		Name: "worker-1", AgentType: "data_processor", Capabilities: []string{"batch"}, RegisteredBy: "admin-1",
	}, "corr-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusRegistered, agent.Status)
	require.Equal(t, 100, agent.SecurityScore)

	result, err := m.ExecuteAction(ctx, agent.AgentID, model.ActionActivate, "admin-1", "go live", "", "corr-2")
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, result.Outcome)
	require.Equal(t, model.StatusActive, result.NewStatus)
}

func TestRegisterAgentRejectsUnknownCapability(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.RegisterAgent(context.Background(), "tenant-1", model.RegisterAgentSpec{
		Name: "worker-1", Capabilities: []string{"teleportation"},
	}, "corr-1")
	require.Error(t, err)
	require.Equal(t, cperr.KindValidation, cperr.KindOf(err))
}

func TestRegisterAgentEnforcesQuota(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.AgentLifecycle.MaxAgentsPerTenant = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.RegisterAgent(ctx, "tenant-1", model.RegisterAgentSpec{
			Name: "worker-" + string(rune('a'+i)),
		}, "corr-"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	_, err := m.RegisterAgent(ctx, "tenant-1", model.RegisterAgentSpec{Name: "worker-c"}, "corr-c")
	require.Error(t, err)
	require.Equal(t, cperr.KindPolicy, cperr.KindOf(err))
}

func TestRegisterAgentIsIdempotentOnCorrelationID(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	spec := model.RegisterAgentSpec{Name: "worker-1"}

	a1, err := m.RegisterAgent(ctx, "tenant-1", spec, "corr-1")
	require.NoError(t, err)
	a2, err := m.RegisterAgent(ctx, "tenant-1", spec, "corr-1")
	require.NoError(t, err)
	require.Equal(t, a1.AgentID, a2.AgentID)
}

func TestInvalidTransitionIsValidationError(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	agent, err := m.RegisterAgent(ctx, "tenant-1", model.RegisterAgentSpec{Name: "worker-1"}, "corr-1")
	require.NoError(t, err)

	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionDecommission, "admin-1", "cleanup", "", "corr-2")
	require.Error(t, err)
	require.Equal(t, cperr.KindValidation, cperr.KindOf(err))
}

func activateAgent(t *testing.T, m *Manager, ctx context.Context, tenant, name string) *model.Agent {
	t.Helper()
	agent, err := m.RegisterAgent(ctx, tenant, model.RegisterAgentSpec{Name: name}, name+"-register")
	require.NoError(t, err)
	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionActivate, "admin-1", "go live", "", name+"-activate")
	require.NoError(t, err)
	return agent
}

// TestCriticalViolationThenCompromised mirrors scenario S2: a Critical
// violation on an Active agent first suspends it (score 100→70); a
// subsequent Critical violation while Suspended promotes it to
// Compromised with an auto-freeze.
func TestCriticalViolationThenCompromised(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	agent := activateAgent(t, m, ctx, "tenant-1", "worker-1")

	out1, err := m.HandleSecurityViolation(ctx, agent.AgentID, "unauthorized_api_access", model.SeverityCritical, nil, "corr-v1")
	require.NoError(t, err)
	require.Equal(t, 70, out1.NewScore)
	require.Equal(t, model.StatusSuspended, out1.NewStatus)
	require.False(t, out1.AutoFroze)

	out2, err := m.HandleSecurityViolation(ctx, agent.AgentID, "unauthorized_api_access", model.SeverityCritical, nil, "corr-v2")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompromised, out2.NewStatus)
	require.True(t, out2.AutoFroze)
	require.NotEmpty(t, out2.FreezeID)

	frozen, err := m.freeze.IsFrozen(ctx, model.FreezeAgent, agent.AgentID)
	require.NoError(t, err)
	require.True(t, frozen)
}

// TestDecommissionRequiresApproval mirrors scenario S3.
func TestDecommissionRequiresApproval(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	agent := activateAgent(t, m, ctx, "tenant-1", "worker-1")

	_, err := m.HandleSecurityViolation(ctx, agent.AgentID, "secret_access", model.SeverityCritical, nil, "corr-v1")
	require.NoError(t, err)
	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionFreeze, "admin-A", "contain", "", "corr-f1")
	require.NoError(t, err)

	result, err := m.ExecuteAction(ctx, agent.AgentID, model.ActionDecommission, "admin-A", "cleanup", "", "corr-d1")
	require.NoError(t, err)
	require.Equal(t, OutcomePendingApproval, result.Outcome)
	approvalID := result.ApprovalID
	require.NotEmpty(t, approvalID)

	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionDecommission, "admin-A", "cleanup", approvalID, "corr-d2")
	require.Error(t, err)
	require.Equal(t, cperr.KindPolicy, cperr.KindOf(err))

	_, err = m.db.SQL.ExecContext(ctx, `UPDATE approval_requests SET status = ?, decided_by = ? WHERE approval_id = ?`,
		string(model.ApprovalApproved), "admin-B", approvalID)
	require.NoError(t, err)

	result, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionDecommission, "admin-A", "cleanup", approvalID, "corr-d3")
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, result.Outcome)
	require.Equal(t, model.StatusDecommissioned, result.NewStatus)

	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionDecommission, "admin-A", "cleanup", approvalID, "corr-d4")
	require.Error(t, err)
	require.Equal(t, cperr.KindPolicy, cperr.KindOf(err))
}

func TestHeartbeatResetsOfflineToActive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	agent := activateAgent(t, m, ctx, "tenant-1", "worker-1")

	_, err := m.db.SQL.ExecContext(ctx, `UPDATE agents SET status = ? WHERE agent_id = ?`, string(model.StatusOffline), agent.AgentID)
	require.NoError(t, err)

	require.NoError(t, m.Heartbeat(ctx, agent.AgentID, map[string]interface{}{"cpu": 10}))

	refreshed, err := m.GetAgent(ctx, agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, refreshed.Status)
	require.NotNil(t, refreshed.LastHeartbeatAt)
}

func TestExecuteActionFailsClosedWhenSystemFrozen(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	agent := activateAgent(t, m, ctx, "tenant-1", "worker-1")

	_, _, err := m.freeze.Freeze(ctx, model.FreezeSystem, freeze.SystemScope, "incident", "", model.RiskEmergency)
	require.NoError(t, err)

	_, err = m.ExecuteAction(ctx, agent.AgentID, model.ActionSuspend, "admin-1", "routine", "", "corr-x")
	require.Error(t, err)
	require.Equal(t, cperr.KindFrozen, cperr.KindOf(err))
}
