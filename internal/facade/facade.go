// Package facade implements the Agent Manager Façade (spec §4.7): the
// single component the external API layer talks to. It composes the
// Lifecycle Manager, Audit Store, Risk Classifier, Freeze Registry, and
// Approval & Notification Bus into one coherent request path, including
// the synchronous "activity pipeline" hot path every log_* call runs
// through before a caller's operation is allowed to return.
package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/approval"
	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/metrics"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/risk"
)

// Publisher is the narrow event-bus slice the Façade needs to announce
// state changes by subject (spec §6's event bus subjects). Kept as an
// interface so tests don't need a live NATS connection.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Facade is the Agent Manager Façade.
type Facade struct {
	lifecycle *lifecycle.Manager
	auditLog  *audit.Store
	freeze    *freeze.Registry
	bus       *approval.Bus
	cfg       *config.Config
	clock     ids.Clock
	log       *zap.Logger
	publisher Publisher
	metrics   *metrics.Collector
}

// New wires a Façade over its dependencies. publisher may be nil, in
// which case events are simply not announced.
func New(lc *lifecycle.Manager, auditLog *audit.Store, freezeRegistry *freeze.Registry, bus *approval.Bus, cfg *config.Config, clock ids.Clock, log *zap.Logger, publisher Publisher) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{
		lifecycle: lc,
		auditLog:  auditLog,
		freeze:    freezeRegistry,
		bus:       bus,
		cfg:       cfg,
		clock:     clock,
		log:       log,
		publisher: publisher,
	}
}

// SetMetrics wires the Prometheus Collector the same way the Lifecycle
// Manager's SetNotifier wires the notification bus: a plain setter so callers that don't care about metrics
// (most tests) never need to construct one.
func (f *Facade) SetMetrics(c *metrics.Collector) {
	f.metrics = c
}

func (f *Facade) publish(ctx context.Context, subject string, payload interface{}) {
	if f.publisher == nil {
		return
	}
	if err := f.publisher.Publish(ctx, subject, payload); err != nil {
		f.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// failClosedIfSystemFrozen is the Façade-level guard spec §4.4's failure
// semantics demand: "If the registry backing store is unreachable, the
// Façade fails closed." A reachable registry reporting the system frozen
// is reported back to the caller as FrozenError. RegisterAgent runs this
// guard before delegating; the log_* pipeline gets the same system-scope
// check through the registry's IsAgentFrozen instead.
func (f *Facade) failClosedIfSystemFrozen(ctx context.Context) error {
	frozen, err := f.freeze.IsFrozen(ctx, model.FreezeSystem, freeze.SystemScope)
	if err != nil {
		return cperr.Unavailable("freeze registry unreachable: %v", err)
	}
	if frozen {
		return cperr.Frozen("system is frozen")
	}
	return nil
}

// RegisterAgent delegates to the Lifecycle Manager and announces the new
// agent on the event bus.
func (f *Facade) RegisterAgent(ctx context.Context, tenantID string, spec model.RegisterAgentSpec, correlationID string) (*model.Agent, error) {
	if err := f.failClosedIfSystemFrozen(ctx); err != nil {
		return nil, err
	}
	agent, err := f.lifecycle.RegisterAgent(ctx, tenantID, spec, correlationID)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, "agents.registered", agent)
	return agent, nil
}

// ExecuteAction delegates to the Lifecycle Manager's state-machine
// transition and announces any resulting status change.
func (f *Facade) ExecuteAction(ctx context.Context, agentID string, action model.LifecycleAction, actor, reason, approvalID, correlationID string) (lifecycle.ExecuteActionResult, error) {
	result, err := f.lifecycle.ExecuteAction(ctx, agentID, action, actor, reason, approvalID, correlationID)
	if err != nil {
		if f.metrics != nil {
			f.metrics.LifecycleActions.WithLabelValues(string(action), "error").Inc()
		}
		return result, err
	}
	if f.metrics != nil {
		f.metrics.LifecycleActions.WithLabelValues(string(action), string(result.Outcome)).Inc()
	}
	switch result.Outcome {
	case lifecycle.OutcomeExecuted:
		f.publish(ctx, "agents.status_changed", map[string]interface{}{
			"agent_id": agentID, "new_status": result.NewStatus, "actor": actor,
		})
	case lifecycle.OutcomePendingApproval:
		f.publish(ctx, "approvals.requested", map[string]interface{}{
			"approval_id": result.ApprovalID, "agent_id": agentID, "action": string(action),
		})
	}
	return result, nil
}

// HandleSecurityViolation delegates to the Lifecycle Manager and publishes
// the agent's resulting status and score on agents.status_changed after
// every handled violation, plus agents.frozen when it auto-froze the agent.
func (f *Facade) HandleSecurityViolation(ctx context.Context, agentID, violationType string, severity model.ViolationSeverity, details map[string]interface{}, correlationID string) (lifecycle.ViolationOutcome, error) {
	outcome, err := f.lifecycle.HandleSecurityViolation(ctx, agentID, violationType, severity, details, correlationID)
	if err != nil {
		return outcome, err
	}
	f.publish(ctx, "agents.status_changed", map[string]interface{}{
		"agent_id": agentID, "new_status": outcome.NewStatus, "new_score": outcome.NewScore,
	})
	if outcome.AutoFroze {
		f.publish(ctx, "agents.frozen", map[string]interface{}{"agent_id": agentID, "freeze_id": outcome.FreezeID})
	}
	return outcome, nil
}

// ApproveAction approves a pending ApprovalRequest, records the decision
// as a linked Activity against the request's target agent, and announces
// the decision — closing spec §4.6's "single-transition, audited, and
// emits an Activity" contract that the Bus's own Approve/Reject leave to
// their caller.
func (f *Facade) ApproveAction(ctx context.Context, approvalID, adminID, notes string, approved bool) error {
	if approved {
		if err := f.bus.Approve(ctx, approvalID, adminID, notes); err != nil {
			return err
		}
	} else {
		if err := f.bus.Reject(ctx, approvalID, adminID, notes); err != nil {
			return err
		}
	}

	req, err := f.bus.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}

	decision := "rejected"
	if approved {
		decision = "approved"
	}
	if f.metrics != nil {
		f.metrics.ApprovalsDecided.WithLabelValues(decision).Inc()
	}
	if err := f.auditLog.Append(ctx, &model.Activity{
		ActivityID:       ids.NewID(),
		CorrelationID:    ids.NewID(),
		AgentID:          req.TargetAgentID,
		Timestamp:        f.clock.Now(),
		ActivityType:     model.ActivitySystemModification,
		ActivityCategory: "approval_decision",
		Description:      "approval " + approvalID + " " + decision + " by " + adminID,
		Context: map[string]interface{}{
			"approval_id": approvalID, "action": string(req.Action), "decision": decision, "notes": notes,
		},
		RiskLevel:       model.RiskMedium,
		ComplianceFlags: []string{},
	}); err != nil {
		return err
	}

	f.publish(ctx, "approvals.decided", map[string]interface{}{"approval_id": approvalID, "decision": decision})
	return nil
}

// GetActivityLog is get_activity_log (spec §4.7): a windowed, filterable
// view of one agent's audit trail.
func (f *Facade) GetActivityLog(ctx context.Context, agentID string, opts audit.QueryOptions) ([]*model.Activity, error) {
	return f.auditLog.Query(ctx, agentID, opts)
}

// GetFrozenEntities is get_frozen_entities: every currently-active freeze
// record, system scope first.
func (f *Facade) GetFrozenEntities(ctx context.Context) ([]*model.FreezeRecord, error) {
	return f.freeze.ActiveRecords(ctx)
}

// recentWindow fetches the most recent activities for agentID within the
// configured risk window, newest-first, bounded to a sane page size.
func (f *Facade) recentWindow(ctx context.Context, agentID string) ([]*model.Activity, error) {
	recent, err := f.auditLog.Query(ctx, agentID, audit.QueryOptions{Limit: 500, Ascending: false})
	if err != nil {
		return nil, err
	}
	windowSeconds := f.cfg.Risk.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 300
	}
	cutoff := f.clock.Now().Add(-time.Duration(windowSeconds) * time.Second)
	out := recent[:0:0]
	for _, act := range recent {
		if act.Timestamp.Before(cutoff) {
			break
		}
		out = append(out, act)
	}
	return out, nil
}

// snapshotFor assembles the risk.Snapshot the classifier needs from an
// agent's current state and its recent activity window.
func (f *Facade) snapshotFor(ctx context.Context, agent *model.Agent) (risk.Snapshot, error) {
	recent, err := f.recentWindow(ctx, agent.AgentID)
	if err != nil {
		return risk.Snapshot{}, err
	}

	var errCount int
	var dataVolume int
	for _, act := range recent {
		if act.ActivityType == model.ActivityError {
			errCount++
		}
		if act.ActivityType == model.ActivityDataAccess {
			if size, ok := act.Context["payload_size"].(float64); ok {
				dataVolume += int(size)
			} else if size, ok := act.Context["payload_size"].(int); ok {
				dataVolume += size
			}
		}
	}

	return risk.Snapshot{
		SecurityScore:        agent.SecurityScore,
		Status:               agent.Status,
		RecentErrorCount:     errCount,
		RecentDataAccessSize: dataVolume,
		ErrorThreshold:       f.cfg.Risk.ErrorCountThreshold,
		DataVolumeThreshold:  f.cfg.Risk.DataVolumeThreshold,
	}, nil
}
