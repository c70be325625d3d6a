package surveillance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// apiPatternWindow and apiBurstLimit implement the "burst" half of spec
// §4.5 step 2c: an agent recording more than apiBurstLimit DataAccess/
// ProcessExecution activities inside apiPatternWindow is flagged, catching
// a compromised agent hammering the API faster than any single operation's
// own risk score would indicate on its own.
const (
	apiPatternWindow = 60 * time.Second
	apiBurstLimit    = 50
)

// sensitiveCategories lists the activity categories this check counts as
// sensitive operations, so a cluster of individually low-risk sensitive
// calls is still caught by volume.
var sensitiveCategories = map[string]bool{
	"credential_access":    true,
	"secret_store":         true,
	"privilege_escalation": true,
	"data_export":          true,
}

// checkAPIPattern is spec §4.5 step 2c: look for unusual volume or
// clustering of sensitive operations in the agent's most recent activity.
func (e *Engine) checkAPIPattern(ctx context.Context, agent *model.Agent) (bool, error) {
	recent, err := e.auditLog.Query(ctx, agent.AgentID, audit.QueryOptions{Limit: 500, Ascending: false})
	if err != nil {
		return false, err
	}
	if len(recent) == 0 {
		return false, nil
	}

	cutoff := e.clock.Now().Add(-apiPatternWindow)
	var burst, sensitive int
	for _, act := range recent {
		if act.Timestamp.Before(cutoff) {
			break // recent is newest-first; everything after this is out of window
		}
		switch act.ActivityType {
		case model.ActivityDataAccess, model.ActivityProcessExecution:
			burst++
		}
		if sensitiveCategories[act.ActivityCategory] {
			sensitive++
		}
	}

	switch {
	case burst > apiBurstLimit:
		return e.raiseAPIPatternViolation(ctx, agent, "request_burst", model.SeverityMedium, burst)
	case sensitive >= 10:
		return e.raiseAPIPatternViolation(ctx, agent, "sensitive_operation_cluster", model.SeverityCritical, sensitive)
	default:
		return false, nil
	}
}

func (e *Engine) raiseAPIPatternViolation(ctx context.Context, agent *model.Agent, violationType string, severity model.ViolationSeverity, count int) (bool, error) {
	e.log.Info("api pattern violation", zap.String("agent_id", agent.AgentID), zap.String("type", violationType), zap.Int("count", count))
	_, err := e.lifecycle.HandleSecurityViolation(ctx, agent.AgentID, violationType, severity, map[string]interface{}{
		"count":  count,
		"window": apiPatternWindow.String(),
	}, ids.NewID())
	if err != nil {
		return false, err
	}
	return true, nil
}
