package surveillance

import (
	"context"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// checkHealth is the first step of an agent's analysis (spec §4.5 step 2a):
// compare the agent's last reported metrics against the configured
// thresholds and the heartbeat timeout, emitting a surveillance-originated
// transition when either is breached.
//
// It returns true if a violation was raised this cycle.
func (e *Engine) checkHealth(ctx context.Context, agent *model.Agent) (bool, error) {
	if agent.LastHeartbeatAt == nil {
		return false, nil
	}

	timeout := e.cfg.Surveillance.HeartbeatTimeoutSeconds
	if timeout > 0 {
		age := e.clock.Now().Sub(*agent.LastHeartbeatAt)
		if int(age.Seconds()) > timeout {
			if err := e.lifecycle.MarkOffline(ctx, agent.AgentID, ids.NewID()); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	metrics, err := e.lifecycle.GetMetrics(ctx, agent.AgentID)
	if err != nil {
		return false, err
	}
	if metrics == nil {
		return false, nil
	}

	th := e.cfg.Thresholds
	breached, detail := thresholdBreach(metrics, th)
	if !breached {
		return false, nil
	}

	e.log.Info("health threshold breached", zap.String("agent_id", agent.AgentID), zap.String("detail", detail))
	_, err = e.lifecycle.HandleSecurityViolation(ctx, agent.AgentID, "health_threshold_breach", model.SeverityMedium, map[string]interface{}{
		"detail": detail,
		"cpu":    metrics.CPU, "memory": metrics.Memory,
		"error_rate": metrics.ErrorRate, "response_time": metrics.ResponseTime,
	}, ids.NewID())
	if err != nil {
		return false, err
	}
	return true, nil
}

func thresholdBreach(m *model.AgentMetrics, th config.ThresholdsConfig) (bool, string) {
	switch {
	case th.CPU > 0 && m.CPU > th.CPU:
		return true, "cpu"
	case th.Memory > 0 && m.Memory > th.Memory:
		return true, "memory"
	case th.ResponseTime > 0 && m.ResponseTime > th.ResponseTime:
		return true, "response_time"
	case th.ErrorRate > 0 && m.ErrorRate > th.ErrorRate:
		return true, "error_rate"
	default:
		return false, ""
	}
}
