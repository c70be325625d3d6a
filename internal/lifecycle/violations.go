package lifecycle

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// ViolationOutcome summarizes how handle_security_violation resolved.
type ViolationOutcome struct {
	NewStatus  model.AgentStatus
	NewScore   int
	AutoFroze  bool
	FreezeID   string
	ActivityID string
}

type violationRule struct {
	From       []model.AgentStatus
	Severity   func(model.ViolationSeverity) bool
	To         model.AgentStatus
	AutoFreeze bool
}

func atLeastMedium(s model.ViolationSeverity) bool {
	return s == model.SeverityMedium || s == model.SeverityCritical
}

func isCritical(s model.ViolationSeverity) bool {
	return s == model.SeverityCritical
}

// violationTransitions mirrors spec §4.2's violation-triggered rows,
// evaluated top to bottom; the first row whose From/Severity both match
// the agent's current state wins. A fresh Active agent hit by a Critical
// violation lands on Suspended first (row 1); only a later violation
// arriving while already Suspended reaches row 2's promotion to
// Compromised — matching the two-step S2 scenario.
var violationTransitions = []violationRule{
	{From: []model.AgentStatus{model.StatusActive}, Severity: atLeastMedium, To: model.StatusSuspended},
	{From: []model.AgentStatus{model.StatusActive, model.StatusSuspended}, Severity: isCritical, To: model.StatusCompromised, AutoFreeze: true},
}

func findViolationRule(from model.AgentStatus, severity model.ViolationSeverity) (violationRule, bool) {
	for _, r := range violationTransitions {
		if !r.Severity(severity) {
			continue
		}
		for _, f := range r.From {
			if f == from {
				return r, true
			}
		}
	}
	return violationRule{}, false
}

// HandleSecurityViolation appends the violation Activity, adjusts the
// security score, re-evaluates the state machine and the score-threshold
// automatic enforcement, and requests a freeze when either demands one.
func (m *Manager) HandleSecurityViolation(ctx context.Context, agentID, violationType string, severity model.ViolationSeverity, details map[string]interface{}, correlationID string) (ViolationOutcome, error) {
	return idempotent(m, ctx, agentID, correlationID, "handle_security_violation", func() (ViolationOutcome, error) {
		var out ViolationOutcome

		err := m.withAgentLock(agentID, func() error {
			agent, err := m.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}
			if agent.Status.Terminal() {
				return cperr.Policy("agent %s is decommissioned", agentID)
			}

			systemFrozen, err := m.freeze.IsFrozen(ctx, model.FreezeSystem, freeze.SystemScope)
			if err != nil {
				return err
			}
			if systemFrozen {
				return cperr.Frozen("system is frozen")
			}

			newScore := clampScore(agent.SecurityScore + severity.ScoreDelta())

			targetStatus := agent.Status
			autoFreeze := false
			if rule, ok := findViolationRule(agent.Status, severity); ok {
				targetStatus = rule.To
				autoFreeze = rule.AutoFreeze
			}

			if newScore == 0 {
				targetStatus = model.StatusCompromised
				autoFreeze = true
			} else if newScore < m.cfg.Score.MandatoryFreezeBelow && statusRank(targetStatus) < statusRank(model.StatusFrozen) {
				targetStatus = model.StatusFrozen
				autoFreeze = true
			} else if newScore < m.cfg.Score.AutoSuspendBelow && m.cfg.AgentLifecycle.AutoSuspendOnSecurityViolation && targetStatus == model.StatusActive {
				targetStatus = model.StatusSuspended
			}

			actID := ids.NewID()
			err = m.db.WithTx(func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, `
					UPDATE agents SET security_score = ?, status = ?, last_score_update_at = ?
					WHERE agent_id = ?`, newScore, string(targetStatus), m.clock.Now(), agentID); err != nil {
					return cperr.Wrap(cperr.KindInternal, false, err, "update agent after violation")
				}

				act := &model.Activity{
					ActivityID:       actID,
					CorrelationID:    correlationID,
					AgentID:          agentID,
					TenantID:         agent.TenantID,
					Timestamp:        m.clock.Now(),
					ActivityType:     model.ActivitySecurityEvent,
					ActivityCategory: "security_violation",
					Description:      "security violation: " + violationType,
					Context: map[string]interface{}{
						"violation_type": violationType,
						"severity":       string(severity),
						"details":        details,
						"score_before":   agent.SecurityScore,
						"score_after":    newScore,
						"from":           string(agent.Status),
						"to":             string(targetStatus),
					},
					RiskLevel:       model.RiskHigh,
					ComplianceFlags: []string{},
					RequiresReview:  true,
				}
				return audit.AppendTx(ctx, tx, act)
			})
			if err != nil {
				return err
			}

			if autoFreeze {
				fr, created, ferr := m.freeze.Freeze(ctx, model.FreezeAgent, agentID, "security violation: "+violationType, actID, model.RiskCritical)
				if ferr != nil {
					return ferr
				}
				out.FreezeID = fr.FreezeID
				out.AutoFroze = true
				if created && m.notifier != nil {
					_, nerr := m.notifier.Notify(ctx, &model.Notification{
						TenantID:    agent.TenantID,
						RiskLevel:   model.RiskCritical,
						Title:       "Agent auto-frozen: " + agentID,
						Description: "security violation (" + violationType + ") auto-froze the agent",
						AgentID:     agentID,
						ActivityID:  actID,
						RecommendedActions: []model.RecommendedAction{
							{Action: "verify_agent_integrity", Priority: 1, Description: "Verify the agent's recent activity history"},
							{Action: "escalate_to_security_officer", Priority: 2, Description: "Page the security officer"},
						},
						SystemActionTaken: model.ActionFreezeAgent,
					})
					if nerr != nil {
						m.log.Warn("failed to notify about auto-freeze", zap.String("agent_id", agentID), zap.Error(nerr))
					}
				}
			}

			out.NewStatus = targetStatus
			out.NewScore = newScore
			out.ActivityID = actID
			return nil
		})

		return out, err
	})
}

var statusSeverity = map[model.AgentStatus]int{
	model.StatusActive:      0,
	model.StatusMaintenance: 0,
	model.StatusInactive:    0,
	model.StatusOffline:     0,
	model.StatusSuspended:   1,
	model.StatusFrozen:      2,
	model.StatusCompromised: 3,
}

func statusRank(s model.AgentStatus) int {
	return statusSeverity[s]
}
