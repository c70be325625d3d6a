package model

// AgentStatus is the closed set of lifecycle states from spec §4.2.
type AgentStatus string

const (
	StatusRegistered    AgentStatus = "registered"
	StatusActive        AgentStatus = "active"
	StatusInactive      AgentStatus = "inactive"
	StatusMaintenance   AgentStatus = "maintenance"
	StatusOffline       AgentStatus = "offline"
	StatusSuspended     AgentStatus = "suspended"
	StatusFrozen        AgentStatus = "frozen"
	StatusCompromised   AgentStatus = "compromised"
	StatusDecommissioned AgentStatus = "decommissioned"
)

// Terminal reports whether the status is immutable per the Agent invariant
// in spec §3: a Decommissioned agent never transitions again.
func (s AgentStatus) Terminal() bool {
	return s == StatusDecommissioned
}

// ActivityType is the closed tagged-variant for what an Activity records.
type ActivityType string

const (
	ActivityInteraction        ActivityType = "interaction"
	ActivityKnowledgeGained    ActivityType = "knowledge_gained"
	ActivityProcessExecution   ActivityType = "process_execution"
	ActivityDataAccess         ActivityType = "data_access"
	ActivitySystemModification ActivityType = "system_modification"
	ActivityError              ActivityType = "error"
	ActivitySecurityEvent      ActivityType = "security_event"
)

// RiskLevel is the closed, ordered enum the Risk Classifier assigns.
type RiskLevel string

const (
	RiskNegligible RiskLevel = "negligible"
	RiskLow        RiskLevel = "low"
	RiskMedium     RiskLevel = "medium"
	RiskHigh       RiskLevel = "high"
	RiskCritical   RiskLevel = "critical"
	RiskEmergency  RiskLevel = "emergency"
)

// riskRank gives RiskLevel a total order so callers can compare severities
// ("risk_level >= High") without string switches scattered everywhere.
var riskRank = map[RiskLevel]int{
	RiskNegligible: 0,
	RiskLow:        1,
	RiskMedium:     2,
	RiskHigh:       3,
	RiskCritical:   4,
	RiskEmergency:  5,
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// SystemAction is the directive the Risk Classifier and Freeze Registry
// hand back to the Façade's hot path.
type SystemAction string

const (
	ActionNone         SystemAction = "none"
	ActionAlert        SystemAction = "alert"
	ActionFreezeAgent  SystemAction = "freeze_agent"
	ActionFreezeModule SystemAction = "freeze_module"
	ActionFreezeSystem SystemAction = "freeze_system"
	ActionEscalate     SystemAction = "escalate"
)

// FreezeType is the closed set of freeze scopes, in precedence order
// (System > Module > Agent) per spec §4.4.
type FreezeType string

const (
	FreezeAgent  FreezeType = "agent"
	FreezeModule FreezeType = "module"
	FreezeSystem FreezeType = "system"
)

// NotificationStatus tracks an admin-visible notification's lifecycle.
type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationAcknowledged NotificationStatus = "acknowledged"
	NotificationResolved     NotificationStatus = "resolved"
)

// ApprovalAction is the closed set of actions that require an explicit,
// single-use admin approval before the Lifecycle Manager will execute them.
type ApprovalAction string

const (
	ApprovalDecommission       ApprovalAction = "decommission"
	ApprovalPermanentDelete    ApprovalAction = "permanent_delete"
	ApprovalTenantModification ApprovalAction = "tenant_modification"
)

// ApprovalStatus is the closed set of states an ApprovalRequest moves
// through; once Approved it is single-use (see ApprovalRequest.ConsumedAt).
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// LifecycleAction is the closed set of admin-triggerable transitions that
// flow through execute_action (spec §4.2's table).
type LifecycleAction string

const (
	ActionActivate    LifecycleAction = "activate"
	ActionDeactivate  LifecycleAction = "deactivate"
	ActionMaintain    LifecycleAction = "maintain"
	ActionUnmaintain  LifecycleAction = "unmaintain"
	ActionSuspend     LifecycleAction = "suspend"
	ActionResume      LifecycleAction = "resume"
	ActionFreeze      LifecycleAction = "freeze"
	ActionDecommission LifecycleAction = "decommission"
)
