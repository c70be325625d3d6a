package lifecycle

import (
	"context"
	"database/sql"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// heartbeatFailureScoreDelta is spec §4.2's "heartbeat failure −5".
const heartbeatFailureScoreDelta = -5

// goodBehaviorScoreDelta is spec §4.2's "successful daily good-behavior
// tick +5".
const goodBehaviorScoreDelta = 5

// MarkOffline applies the surveillance-only Active→Offline transition from
// spec §4.2's table: a heartbeat timeout, never an admin action, so it
// bypasses ExecuteAction's transitionTable entirely. No-op (not an error)
// if the agent is no longer Active by the time the Surveillance Engine's
// cycle reaches it.
func (m *Manager) MarkOffline(ctx context.Context, agentID, correlationID string) error {
	_, err := idempotent(m, ctx, agentID, correlationID, "surveillance:mark_offline", func() (struct{}, error) {
		return struct{}{}, m.withAgentLock(agentID, func() error {
			return m.db.WithTx(func(tx *sql.Tx) error {
				agent, err := m.getAgent(ctx, tx, agentID)
				if err != nil {
					return err
				}
				if agent.Status != model.StatusActive {
					return nil
				}

				newScore := clampScore(agent.SecurityScore + heartbeatFailureScoreDelta)
				if _, err := tx.ExecContext(ctx, `
					UPDATE agents SET status = ?, security_score = ?, last_score_update_at = ?
					WHERE agent_id = ?`, string(model.StatusOffline), newScore, m.clock.Now(), agentID); err != nil {
					return cperr.Wrap(cperr.KindInternal, false, err, "mark agent offline")
				}

				return audit.AppendTx(ctx, tx, &model.Activity{
					ActivityID:       ids.NewID(),
					CorrelationID:    correlationID,
					AgentID:          agent.AgentID,
					TenantID:         agent.TenantID,
					Timestamp:        m.clock.Now(),
					ActivityType:     model.ActivitySystemModification,
					ActivityCategory: "surveillance_transition",
					Description:      "active→offline: heartbeat timeout",
					Context: map[string]interface{}{
						"from":         string(model.StatusActive),
						"to":           string(model.StatusOffline),
						"score_before": agent.SecurityScore,
						"score_after":  newScore,
					},
					RiskLevel:       model.RiskMedium,
					ComplianceFlags: []string{},
					RequiresReview:  true,
				})
			})
		})
	})
	return err
}

// ApplyGoodBehaviorTick applies spec §4.2's "+5 successful daily
// good-behavior tick": the Surveillance Engine calls this once per agent
// per cycle when that cycle found no health or behavior violation.
func (m *Manager) ApplyGoodBehaviorTick(ctx context.Context, agentID, correlationID string) (int, error) {
	return idempotent(m, ctx, agentID, correlationID, "surveillance:good_behavior_tick", func() (int, error) {
		var newScore int
		err := m.withAgentLock(agentID, func() error {
			return m.db.WithTx(func(tx *sql.Tx) error {
				agent, err := m.getAgent(ctx, tx, agentID)
				if err != nil {
					return err
				}
				if agent.Status.Terminal() {
					newScore = agent.SecurityScore
					return nil
				}

				newScore = clampScore(agent.SecurityScore + goodBehaviorScoreDelta)
				if newScore == agent.SecurityScore {
					return nil
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE agents SET security_score = ?, last_score_update_at = ?
					WHERE agent_id = ?`, newScore, m.clock.Now(), agentID)
				if err != nil {
					return cperr.Wrap(cperr.KindInternal, false, err, "apply good behavior tick")
				}
				return nil
			})
		})
		return newScore, err
	})
}
