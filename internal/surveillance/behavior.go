package surveillance

import (
	"context"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// behaviorHistoryLimit bounds how much recent activity the Analyzer sees,
// per spec §4.5's note that behavior analysis works off a recent window
// rather than an agent's full lifetime log.
const behaviorHistoryLimit = 200

// checkBehavior is spec §4.5 step 2b: run the pluggable Analyzer over the
// agent's recent activity, raising a violation when the anomaly score
// clears the configured threshold at sufficient confidence.
func (e *Engine) checkBehavior(ctx context.Context, agent *model.Agent) (bool, error) {
	if e.analyzer == nil || !e.cfg.Surveillance.EnableBehaviorAnalysis {
		return false, nil
	}

	history, err := e.auditLog.Query(ctx, agent.AgentID, audit.QueryOptions{Limit: behaviorHistoryLimit, Ascending: false})
	if err != nil {
		return false, err
	}
	if len(history) == 0 {
		return false, nil
	}

	result, err := e.analyzer.Analyze(ctx, agent.AgentID, history)
	if err != nil {
		e.log.Warn("behavior analyzer failed", zap.String("agent_id", agent.AgentID), zap.Error(err))
		return false, nil
	}
	if !result.IsAnomaly || result.Confidence < 0.8 || result.Score < e.cfg.Surveillance.AnomalyThreshold {
		return false, nil
	}

	severity := severityForScore(result.Score)
	e.log.Info("behavior anomaly detected",
		zap.String("agent_id", agent.AgentID), zap.Float64("score", result.Score),
		zap.Float64("confidence", result.Confidence), zap.String("severity", string(severity)))

	_, err = e.lifecycle.HandleSecurityViolation(ctx, agent.AgentID, "behavior_anomaly", severity, map[string]interface{}{
		"score":       result.Score,
		"confidence":  result.Confidence,
		"explanation": result.Explanation,
	}, ids.NewID())
	if err != nil {
		return false, err
	}
	return true, nil
}

// severityForScore maps an Analyzer's anomaly score monotonically onto the
// violation severity scale, per spec §4.5 "confidence ≥ 0.8 produces a
// violation whose severity maps monotonically from score".
func severityForScore(score float64) model.ViolationSeverity {
	switch {
	case score >= 0.9:
		return model.SeverityCritical
	case score >= 0.7:
		return model.SeverityMedium
	default:
		return model.SeverityWarning
	}
}
