package facade

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/risk"
	"github.com/SUPREMEAGENTMANAGER/internal/telemetry"
)

// LogResult is what every log_* call in spec §4.7's activity pipeline
// returns: the committed activity_id, confirmation that risk assessment
// ran, and whatever system action it triggered.
type LogResult struct {
	ActivityID     string
	RiskAssessed   bool
	RiskLevel      model.RiskLevel
	RequiresReview bool
	SystemAction   model.SystemAction
	FreezeID       string
}

// LogEntry is the caller-supplied payload shared by every log_* operation;
// only ActivityType and a subset of fields differ per call.
type LogEntry struct {
	AgentID          string
	ActivityCategory string
	Description      string
	Context          map[string]interface{}
	UserID           string
	SessionID        string
	InputHash        string
	OutputHash       string
	KnowledgePayload string
	ComplianceFlags  []string
	CorrelationID    string
	ParentActivityID string
}

// LogInteraction is log_interaction: a worker-agent conversational turn.
func (f *Facade) LogInteraction(ctx context.Context, e LogEntry) (LogResult, error) {
	return f.logActivity(ctx, model.ActivityInteraction, e)
}

// LogKnowledge is log_knowledge: a worker agent recording something it
// learned.
func (f *Facade) LogKnowledge(ctx context.Context, e LogEntry) (LogResult, error) {
	return f.logActivity(ctx, model.ActivityKnowledgeGained, e)
}

// LogProcess is log_process: a worker agent's process execution / tool
// invocation / data access, as tagged by ActivityCategory.
func (f *Facade) LogProcess(ctx context.Context, activityType model.ActivityType, e LogEntry) (LogResult, error) {
	return f.logActivity(ctx, activityType, e)
}

// ReportError is report_error: a worker agent surfacing a failure it hit.
func (f *Facade) ReportError(ctx context.Context, e LogEntry) (LogResult, error) {
	return f.logActivity(ctx, model.ActivityError, e)
}

// logActivity is the Code of Conduct hot path (spec §4.7): build the
// Activity, classify it synchronously, notify and freeze before the
// append if the classification demands it, then append to the
// hash-chained log. Only steps 2-4 may short-circuit the caller; a step-5
// append failure is always fatal and propagates.
func (f *Facade) logActivity(ctx context.Context, activityType model.ActivityType, e LogEntry) (result LogResult, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "facade.log_activity",
		oteltrace.WithAttributes(
			attribute.String("acp.agent_id", e.AgentID),
			attribute.String("acp.activity_type", string(activityType)),
			attribute.String("acp.correlation_id", e.CorrelationID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("acp.risk_level", string(result.RiskLevel)))
		}
		span.End()
	}()

	agent, err := f.lifecycle.GetAgent(ctx, e.AgentID)
	if err != nil {
		return LogResult{}, err
	}
	if agent.Status.Terminal() {
		return LogResult{}, cperr.Policy("agent %s is decommissioned", e.AgentID)
	}

	frozen, err := f.freeze.IsAgentFrozen(ctx, agent.AgentID, agent.Module())
	if err != nil {
		return LogResult{}, cperr.Unavailable("freeze registry unreachable: %v", err)
	}
	if frozen {
		return LogResult{}, cperr.Frozen("agent %s is frozen", agent.AgentID)
	}

	correlationID := e.CorrelationID
	if correlationID == "" {
		correlationID = ids.CorrelationID(ctx)
	}

	act := &model.Activity{
		ActivityID:       ids.NewID(),
		CorrelationID:    correlationID,
		ParentActivityID: e.ParentActivityID,
		AgentID:          agent.AgentID,
		TenantID:         agent.TenantID,
		Timestamp:        f.clock.Now(),
		ActivityType:     activityType,
		ActivityCategory: e.ActivityCategory,
		Description:      e.Description,
		Context:          e.Context,
		UserID:           e.UserID,
		SessionID:        e.SessionID,
		InputHash:        e.InputHash,
		OutputHash:       e.OutputHash,
		KnowledgePayload: e.KnowledgePayload,
		ComplianceFlags:  e.ComplianceFlags,
	}
	if act.Context == nil {
		act.Context = map[string]interface{}{}
	}

	snap, err := f.snapshotFor(ctx, agent)
	if err != nil {
		return LogResult{}, err
	}

	assessment := risk.Classify(act, snap)
	if risk.Emergency(act, snap, f.cfg.Score.MandatoryFreezeBelow) {
		assessment.RiskLevel = model.RiskEmergency
		assessment.SystemAction = model.ActionFreezeSystem
	}

	act.RiskLevel = assessment.RiskLevel
	act.ComplianceFlags = assessment.ComplianceFlags
	act.RequiresReview = assessment.RequiresReview

	result = LogResult{
		RiskAssessed:   true,
		RiskLevel:      assessment.RiskLevel,
		RequiresReview: assessment.RequiresReview,
		SystemAction:   assessment.SystemAction,
	}

	if f.metrics != nil {
		f.metrics.ActivitiesLogged.WithLabelValues(string(activityType)).Inc()
		f.metrics.RiskAssessments.WithLabelValues(string(assessment.RiskLevel)).Inc()
	}

	if assessment.RequiresReview || assessment.RiskLevel.AtLeast(model.RiskHigh) {
		if err := f.notifyRisk(ctx, agent, act, assessment); err != nil {
			f.log.Warn("failed to enqueue risk notification", zap.String("agent_id", agent.AgentID), zap.Error(err))
		}
	}

	if freezeID, err := f.enforceSystemAction(ctx, agent, act, assessment); err != nil {
		return LogResult{}, err
	} else if freezeID != "" {
		result.FreezeID = freezeID
		act.Context["freeze_id"] = freezeID
	}

	if err := f.auditLog.Append(ctx, act); err != nil {
		return LogResult{}, err
	}
	result.ActivityID = act.ActivityID

	f.publish(ctx, "activity.logged", map[string]interface{}{
		"agent_id": agent.AgentID, "activity_id": act.ActivityID, "risk_level": string(act.RiskLevel),
	})

	return result, nil
}

// notifyRisk enqueues the admin-visible Notification the classifier's
// recommended actions describe, per spec §4.7 step 3: "before returning".
func (f *Facade) notifyRisk(ctx context.Context, agent *model.Agent, act *model.Activity, assessment risk.Result) error {
	_, err := f.bus.Notify(ctx, &model.Notification{
		TenantID:           agent.TenantID,
		RiskLevel:           assessment.RiskLevel,
		Title:               "Activity flagged: " + act.ActivityCategory,
		Description:         act.Description,
		AgentID:             agent.AgentID,
		RecommendedActions:  assessment.RecommendedActions,
		SystemActionTaken:   assessment.SystemAction,
	})
	return err
}

// enforceSystemAction carries out the classifier's system_action_taken
// directive synchronously (spec §4.7 step 4), returning the resulting
// FreezeRecord's id when one was created so the caller's Activity can link
// to it.
func (f *Facade) enforceSystemAction(ctx context.Context, agent *model.Agent, act *model.Activity, assessment risk.Result) (string, error) {
	var freezeType model.FreezeType
	var target string

	switch assessment.SystemAction {
	case model.ActionFreezeAgent:
		freezeType, target = model.FreezeAgent, agent.AgentID
	case model.ActionFreezeModule:
		freezeType, target = model.FreezeModule, agent.Module()
	case model.ActionFreezeSystem:
		freezeType, target = model.FreezeSystem, freeze.SystemScope
	default:
		return "", nil
	}

	fr, created, err := f.freeze.Freeze(ctx, freezeType, target, "risk classifier: "+act.ActivityCategory, act.ActivityID, assessment.RiskLevel)
	if err != nil {
		return "", cperr.Unavailable("freeze registry unreachable: %v", err)
	}
	if created {
		if f.metrics != nil {
			f.metrics.FreezesTriggered.WithLabelValues(string(freezeType)).Inc()
		}
		f.publish(ctx, "agents.frozen", map[string]interface{}{
			"freeze_type": string(freezeType), "target": target, "freeze_id": fr.FreezeID,
		})
		if _, err := f.bus.Notify(ctx, &model.Notification{
			TenantID:           agent.TenantID,
			RiskLevel:           assessment.RiskLevel,
			Title:               string(freezeType) + " frozen: " + target,
			Description:         "automatic freeze triggered by activity " + act.ActivityID,
			AgentID:             agent.AgentID,
			ActivityID:          act.ActivityID,
			RecommendedActions:  assessment.RecommendedActions,
			SystemActionTaken:   assessment.SystemAction,
		}); err != nil {
			f.log.Warn("failed to notify about synchronous freeze", zap.String("agent_id", agent.AgentID), zap.Error(err))
		}
	}
	return fr.FreezeID, nil
}
