package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// ExecuteOutcome is what execute_action reports back to its caller.
type ExecuteOutcome string

const (
	OutcomeExecuted        ExecuteOutcome = "executed"
	OutcomePendingApproval ExecuteOutcome = "pending_approval"
	OutcomeRejected        ExecuteOutcome = "rejected"
)

// ExecuteActionResult is execute_action's return value.
type ExecuteActionResult struct {
	Outcome      ExecuteOutcome
	ApprovalID   string
	RejectReason string
	NewStatus    model.AgentStatus
}

type transitionRule struct {
	From             []model.AgentStatus
	Action           model.LifecycleAction
	To               model.AgentStatus
	RequiresApproval bool
}

// transitionTable is spec §4.2's admin-triggered transition rows, in the
// exact order the table lists them. Surveillance-only transitions
// (Active→Offline, Offline→Active) are not admin actions and are applied
// by the Surveillance Engine and Heartbeat directly, not here.
var transitionTable = []transitionRule{
	{From: []model.AgentStatus{model.StatusRegistered}, Action: model.ActionActivate, To: model.StatusActive},
	{From: []model.AgentStatus{model.StatusActive}, Action: model.ActionMaintain, To: model.StatusMaintenance},
	{From: []model.AgentStatus{model.StatusMaintenance}, Action: model.ActionUnmaintain, To: model.StatusActive},
	{From: []model.AgentStatus{model.StatusActive}, Action: model.ActionDeactivate, To: model.StatusInactive},
	{From: []model.AgentStatus{model.StatusActive}, Action: model.ActionSuspend, To: model.StatusSuspended},
	{From: []model.AgentStatus{model.StatusSuspended}, Action: model.ActionResume, To: model.StatusActive},
	{From: []model.AgentStatus{model.StatusSuspended}, Action: model.ActionFreeze, To: model.StatusFrozen},
	{From: []model.AgentStatus{model.StatusFrozen, model.StatusCompromised}, Action: model.ActionDecommission, To: model.StatusDecommissioned, RequiresApproval: true},
}

func findRule(from model.AgentStatus, action model.LifecycleAction) (transitionRule, bool) {
	for _, r := range transitionTable {
		if r.Action != action {
			continue
		}
		for _, f := range r.From {
			if f == from {
				return r, true
			}
		}
	}
	return transitionRule{}, false
}

func approvalActionFor(action model.LifecycleAction) model.ApprovalAction {
	switch action {
	case model.ActionDecommission:
		return model.ApprovalDecommission
	default:
		return model.ApprovalDecommission
	}
}

// ExecuteAction applies an admin-triggered lifecycle transition, per spec
// §4.2's state machine, gating destructive transitions on a consumed
// ApprovalRequest.
func (m *Manager) ExecuteAction(ctx context.Context, agentID string, action model.LifecycleAction, actor, reason, approvalID, correlationID string) (ExecuteActionResult, error) {
	return idempotent(m, ctx, agentID, correlationID, "execute_action:"+string(action), func() (ExecuteActionResult, error) {
		var result ExecuteActionResult
		var transitionActivityID string
		var tenantID string

		err := m.withAgentLock(agentID, func() error {
			return m.db.WithTx(func(tx *sql.Tx) error {
				agent, err := m.getAgent(ctx, tx, agentID)
				if err != nil {
					return err
				}
				if agent.Status.Terminal() {
					result = ExecuteActionResult{Outcome: OutcomeRejected, RejectReason: "agent is decommissioned"}
					return cperr.Policy("agent %s is decommissioned", agentID)
				}

				if action != model.ActionDecommission {
					frozen, ferr := m.freeze.IsAgentFrozen(ctx, agentID, agent.Module())
					if ferr != nil {
						return ferr
					}
					if frozen {
						result = ExecuteActionResult{Outcome: OutcomeRejected, RejectReason: "agent is frozen"}
						return cperr.Frozen("agent %s is frozen", agentID)
					}
				}

				rule, ok := findRule(agent.Status, action)
				if !ok {
					result = ExecuteActionResult{Outcome: OutcomeRejected, RejectReason: "invalid transition"}
					return cperr.Validation("invalid transition: action %q from status %q", action, agent.Status)
				}

				if rule.RequiresApproval {
					outcome, aerr := m.gateOnApproval(ctx, tx, agentID, approvalID, approvalActionFor(action), reason, actor)
					if aerr != nil {
						return aerr
					}
					if outcome.Outcome != OutcomeExecuted {
						result = outcome
						return nil
					}
				}

				actID, err := m.applyTransition(ctx, tx, agent, rule.To, action, actor, reason, correlationID)
				if err != nil {
					return err
				}
				transitionActivityID = actID
				tenantID = agent.TenantID

				if rule.To == model.StatusDecommissioned {
					if err := decrementQuota(ctx, tx, agent.TenantID); err != nil {
						return err
					}
				}

				result = ExecuteActionResult{Outcome: OutcomeExecuted, NewStatus: rule.To}
				return nil
			})
		})
		if err != nil && result.Outcome == "" {
			result = ExecuteActionResult{Outcome: OutcomeRejected, RejectReason: err.Error()}
		}
		if err == nil && result.Outcome == OutcomeExecuted && result.NewStatus == model.StatusFrozen {
			m.freezeAndNotify(ctx, agentID, tenantID, "admin freeze: "+reason, transitionActivityID, model.RiskHigh)
		}
		return result, err
	})
}

// freezeAndNotify records a FreezeRecord for an already-applied Frozen
// transition and surfaces it to administrators, closing spec §4.4's
// "every freeze and unfreeze emits an Activity and a Notification" for the
// admin-triggered path (the transition's own Activity already exists;
// this adds the Notification). Errors are logged, not propagated: the
// state transition itself already committed successfully.
func (m *Manager) freezeAndNotify(ctx context.Context, agentID, tenantID, reason, triggeringActivityID string, level model.RiskLevel) {
	_, created, err := m.freeze.Freeze(ctx, model.FreezeAgent, agentID, reason, triggeringActivityID, level)
	if err != nil {
		m.log.Error("failed to record freeze", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if !created || m.notifier == nil {
		return
	}
	_, err = m.notifier.Notify(ctx, &model.Notification{
		TenantID:    tenantID,
		RiskLevel:   level,
		Title:       "Agent frozen: " + agentID,
		Description: reason,
		AgentID:     agentID,
		ActivityID:  triggeringActivityID,
		RecommendedActions: []model.RecommendedAction{
			{Action: "review_activity", Priority: 1, Description: "Review the agent's recent activity before unfreezing"},
		},
		SystemActionTaken: model.ActionFreezeAgent,
	})
	if err != nil {
		m.log.Warn("failed to notify about freeze", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// gateOnApproval implements the single-use destructive-action gate: it
// consumes a supplied, Consumable approval in the same transaction as the
// caller's state transition, or creates a new pending request if none was
// supplied.
func (m *Manager) gateOnApproval(ctx context.Context, tx *sql.Tx, agentID, approvalID string, action model.ApprovalAction, reason, requestedBy string) (ExecuteActionResult, error) {
	if approvalID == "" {
		newID := ids.NewID()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_requests (
				approval_id, target_agent_id, action, requested_by, requested_at,
				reason, status, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			newID, agentID, string(action), requestedBy, m.clock.Now(),
			reason, string(model.ApprovalPending), m.clock.Now().Add(time.Duration(m.cfg.Approval.TTLSeconds)*time.Second))
		if err != nil {
			return ExecuteActionResult{}, cperr.Wrap(cperr.KindInternal, false, err, "create approval request")
		}
		return ExecuteActionResult{Outcome: OutcomePendingApproval, ApprovalID: newID}, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT status, expires_at, consumed_at FROM approval_requests WHERE approval_id = ?`, approvalID)
	var status string
	var expiresAt sql.NullTime
	var consumedAt sql.NullTime
	switch err := row.Scan(&status, &expiresAt, &consumedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return ExecuteActionResult{}, cperr.Policy("approval %s not found", approvalID)
	case err != nil:
		return ExecuteActionResult{}, cperr.Wrap(cperr.KindInternal, false, err, "read approval request")
	}

	now := m.clock.Now()
	consumable := model.ApprovalStatus(status) == model.ApprovalApproved &&
		!consumedAt.Valid &&
		(!expiresAt.Valid || now.Before(expiresAt.Time))
	if !consumable {
		return ExecuteActionResult{}, cperr.Policy("approval %s is not consumable (status=%s)", approvalID, status)
	}

	_, err := tx.ExecContext(ctx, `UPDATE approval_requests SET consumed_at = ? WHERE approval_id = ?`, now, approvalID)
	if err != nil {
		return ExecuteActionResult{}, cperr.Wrap(cperr.KindInternal, false, err, "consume approval request")
	}

	return ExecuteActionResult{Outcome: OutcomeExecuted}, nil
}

func (m *Manager) applyTransition(ctx context.Context, tx *sql.Tx, agent *model.Agent, to model.AgentStatus, action model.LifecycleAction, actor, reason, correlationID string) (string, error) {
	_, err := tx.ExecContext(ctx, `UPDATE agents SET status = ? WHERE agent_id = ?`, string(to), agent.AgentID)
	if err != nil {
		return "", cperr.Wrap(cperr.KindInternal, false, err, "update agent status")
	}

	activityID := ids.NewID()
	act := &model.Activity{
		ActivityID:       activityID,
		CorrelationID:    correlationID,
		AgentID:          agent.AgentID,
		TenantID:         agent.TenantID,
		Timestamp:        m.clock.Now(),
		ActivityType:     model.ActivitySystemModification,
		ActivityCategory: "lifecycle_transition",
		Description:      string(agent.Status) + "→" + string(to) + " via " + string(action) + ": " + reason,
		Context: map[string]interface{}{
			"from":   string(agent.Status),
			"to":     string(to),
			"action": string(action),
			"actor":  actor,
		},
		RiskLevel:       model.RiskLow,
		ComplianceFlags: []string{},
	}
	if err := audit.AppendTx(ctx, tx, act); err != nil {
		return "", err
	}
	return activityID, nil
}

func decrementQuota(ctx context.Context, tx *sql.Tx, tenantID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tenant_quotas SET current_count = current_count - 1
		WHERE tenant_id = ? AND current_count > 0`, tenantID)
	if err != nil {
		return cperr.Wrap(cperr.KindInternal, false, err, "decrement tenant quota")
	}
	return nil
}

