package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// attentionScoreBelow mirrors the dashboard's "agents needing attention"
// threshold: a security score under this, or a Suspended, Frozen or
// Compromised status, surfaces an agent on the admin dashboard.
const attentionScoreBelow = 70

// ListPendingNotifications is get_pending (admin-facing GET
// /admin/notifications): the newest-first pending notifications for a
// tenant.
func (f *Facade) ListPendingNotifications(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error) {
	return f.bus.ListPending(ctx, tenantID, limit)
}

// RespondToNotification is POST /admin/notifications/{id}/respond.
func (f *Facade) RespondToNotification(ctx context.Context, notificationID string, admin model.AdminPrincipal, resolved bool, response, resolution string) error {
	return f.bus.Respond(ctx, notificationID, admin.AdminID, resolved, response, resolution)
}

// UnfreezeScope is unfreeze(scope, authorized_by, reason) (spec §4.4): only
// a named admin principal may clear a freeze. Closes the "every freeze and
// unfreeze emits an Activity and a Notification" invariant for the
// unfreeze half — Freeze's half is closed by its callers (lifecycle,
// facade's own activity pipeline).
func (f *Facade) UnfreezeScope(ctx context.Context, admin model.AdminPrincipal, freezeType model.FreezeType, target, reason string) error {
	if admin.AdminID == "" {
		return cperr.Policy("unfreeze requires a named admin principal")
	}

	if err := f.freeze.Unfreeze(ctx, freezeType, target, admin.AdminID, reason); err != nil {
		return err
	}

	activityID := ids.NewID()
	act := &model.Activity{
		ActivityID:       activityID,
		CorrelationID:    ids.NewID(),
		AgentID:          agentIDForFreezeTarget(freezeType, target),
		Timestamp:        f.clock.Now(),
		ActivityType:     model.ActivitySystemModification,
		ActivityCategory: "unfreeze",
		Description:      string(freezeType) + " " + target + " unfrozen by " + admin.AdminID + ": " + reason,
		Context: map[string]interface{}{
			"freeze_type": string(freezeType), "target": target, "authorized_by": admin.AdminID,
		},
		RiskLevel:       model.RiskMedium,
		ComplianceFlags: []string{},
	}
	if err := f.auditLog.Append(ctx, act); err != nil {
		f.log.Warn("failed to record unfreeze activity", zap.Error(err))
	}

	if _, err := f.bus.Notify(ctx, &model.Notification{
		RiskLevel:   model.RiskMedium,
		Title:       string(freezeType) + " unfrozen: " + target,
		Description: reason,
		ActivityID:  activityID,
		RecommendedActions: []model.RecommendedAction{
			{Action: "verify_agent_integrity", Priority: 1, Description: "Confirm the scope is safe to resume before further activity"},
		},
		SystemActionTaken: model.ActionNone,
	}); err != nil {
		f.log.Warn("failed to notify about unfreeze", zap.Error(err))
	}

	f.publish(ctx, "agents.unfrozen", map[string]interface{}{
		"freeze_type": string(freezeType), "target": target, "authorized_by": admin.AdminID,
	})
	return nil
}

// agentIDForFreezeTarget records the target as the Activity's agent_id only
// when the freeze scope actually is one agent; module and system scopes
// have no single agent to attribute the unfreeze Activity to.
func agentIDForFreezeTarget(freezeType model.FreezeType, target string) string {
	if freezeType == model.FreezeAgent {
		return target
	}
	return ""
}

// GetAgent is GET /agents/{id}.
func (f *Facade) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	return f.lifecycle.GetAgent(ctx, agentID)
}

// ListAgents is GET /agents, filtered and paginated per spec §6.
func (f *Facade) ListAgents(ctx context.Context, opts lifecycle.ListAgentsOptions) ([]*model.Agent, error) {
	return f.lifecycle.ListAgents(ctx, opts)
}

// GetSurveillanceReport is GET /agents/{id}/surveillance-report: the
// agent's current standing plus the evidence the Surveillance Engine would
// act on at its next cycle.
type SurveillanceReport struct {
	Agent           *model.Agent
	Frozen          bool
	RecentActivity  []*model.Activity
	PendingReviews  int
	LastHeartbeatAt *time.Time
}

func (f *Facade) GetSurveillanceReport(ctx context.Context, agentID string) (*SurveillanceReport, error) {
	agent, err := f.lifecycle.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	frozen, err := f.freeze.IsAgentFrozen(ctx, agent.AgentID, agent.Module())
	if err != nil {
		return nil, cperr.Unavailable("freeze registry unreachable: %v", err)
	}
	recent, err := f.auditLog.Query(ctx, agentID, audit.QueryOptions{Limit: 50})
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, a := range recent {
		if a.RequiresReview && a.ReviewedBy == "" {
			pending++
		}
	}
	return &SurveillanceReport{
		Agent:           agent,
		Frozen:          frozen,
		RecentActivity:  recent,
		PendingReviews:  pending,
		LastHeartbeatAt: agent.LastHeartbeatAt,
	}, nil
}

// Dashboard is GET /admin/dashboard's payload: a tenant-scoped summary an
// admin principal can act on at a glance.
type Dashboard struct {
	TenantID               string
	TotalAgents            int
	AgentsByStatus         map[model.AgentStatus]int
	AgentsNeedingAttention []*model.Agent
	FrozenEntities         []*model.FreezeRecord
	PendingNotifications   int
	Recommendations        []string
}

// GetDashboard assembles the admin dashboard for tenantID, scoped to what
// admin is permitted to see.
func (f *Facade) GetDashboard(ctx context.Context, tenantID string, admin model.AdminPrincipal) (*Dashboard, error) {
	if !admin.CanActOnTenant(tenantID) {
		return nil, cperr.Policy("admin %s has no scope for tenant %s", admin.AdminID, tenantID)
	}

	agents, err := f.lifecycle.ListAgents(ctx, lifecycle.ListAgentsOptions{TenantID: tenantID, Limit: 1000})
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		TenantID:       tenantID,
		TotalAgents:    len(agents),
		AgentsByStatus: map[model.AgentStatus]int{},
	}
	for _, a := range agents {
		dash.AgentsByStatus[a.Status]++
		if needsAttention(a) {
			dash.AgentsNeedingAttention = append(dash.AgentsNeedingAttention, a)
		}
	}

	frozen, err := f.freeze.ActiveRecords(ctx)
	if err != nil {
		return nil, err
	}
	dash.FrozenEntities = frozen

	pendingNotifs, err := f.bus.ListPending(ctx, tenantID, 500)
	if err != nil {
		return nil, err
	}
	dash.PendingNotifications = len(pendingNotifs)

	dash.Recommendations = recommendationsFor(dash)
	return dash, nil
}

func needsAttention(a *model.Agent) bool {
	if a.SecurityScore < attentionScoreBelow {
		return true
	}
	switch a.Status {
	case model.StatusSuspended, model.StatusFrozen, model.StatusCompromised:
		return true
	default:
		return false
	}
}

func recommendationsFor(d *Dashboard) []string {
	var recs []string
	if len(d.AgentsNeedingAttention) > 0 {
		recs = append(recs, "review agents with low security scores or non-operational status")
	}
	if len(d.FrozenEntities) > 0 {
		recs = append(recs, "review active freezes and unfreeze scopes that are no longer a risk")
	}
	if d.PendingNotifications > 0 {
		recs = append(recs, "triage pending admin notifications")
	}
	if len(recs) == 0 {
		recs = append(recs, "no outstanding action required")
	}
	return recs
}

// ComplianceReport is GET /admin/compliance-report: a windowed summary of
// audited activity. Reports are generated over the live log, never by
// deleting or archiving rows — the Audit Store retains every record for
// the lifetime of the agent per spec §3's append-only invariant, and this
// repo does not resolve a retention/purge policy on top of that.
type ComplianceReport struct {
	GeneratedAt       time.Time
	WindowStart       time.Time
	WindowEnd         time.Time
	TotalActivities   int
	ByRiskLevel       map[model.RiskLevel]int
	RequiresReviewCount int
	UnreviewedCount   int
	FreezeEvents      int
	ViolationEvents   int
}

// GenerateComplianceReport scans agentIDs' activity within [from, to] and
// summarizes it. Passing no agentIDs reports across every agent the
// Lifecycle Manager knows about.
func (f *Facade) GenerateComplianceReport(ctx context.Context, from, to time.Time, agentIDs []string) (*ComplianceReport, error) {
	if len(agentIDs) == 0 {
		tenants, err := f.lifecycle.ListTenants(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tenants {
			agents, err := f.lifecycle.ListAgents(ctx, lifecycle.ListAgentsOptions{TenantID: t, Limit: 1000})
			if err != nil {
				return nil, err
			}
			for _, a := range agents {
				agentIDs = append(agentIDs, a.AgentID)
			}
		}
	}

	// Bounds use the text layout the sqlite driver stores timestamps in, so
	// the store's string comparison orders them correctly.
	const storedLayout = "2006-01-02 15:04:05.999999999-07:00"
	fromStr, toStr := from.UTC().Format(storedLayout), to.UTC().Format(storedLayout)
	report := &ComplianceReport{
		GeneratedAt: f.clock.Now(),
		WindowStart: from,
		WindowEnd:   to,
		ByRiskLevel: map[model.RiskLevel]int{},
	}

	for _, agentID := range agentIDs {
		// Query caps a page at 1000 rows, so each agent's window is read page by page.
		var acts []*model.Activity
		for offset := 0; ; offset += 1000 {
			page, err := f.auditLog.Query(ctx, agentID, audit.QueryOptions{From: &fromStr, To: &toStr, Ascending: true, Limit: 1000, Offset: offset})
			if err != nil {
				return nil, err
			}
			acts = append(acts, page...)
			if len(page) < 1000 {
				break
			}
		}
		for _, a := range acts {
			report.TotalActivities++
			report.ByRiskLevel[a.RiskLevel]++
			if a.RequiresReview {
				report.RequiresReviewCount++
				if a.ReviewedBy == "" {
					report.UnreviewedCount++
				}
			}
			switch a.ActivityCategory {
			case "lifecycle_transition":
				if a.Context["to"] == string(model.StatusFrozen) {
					report.FreezeEvents++
				}
			case "security_violation":
				report.ViolationEvents++
			}
		}
	}

	return report, nil
}
