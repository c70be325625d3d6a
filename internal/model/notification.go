package model

import "time"

// RecommendedAction is one entry in a Notification's prioritized response
// list, produced by the Risk Classifier's policy table.
type RecommendedAction struct {
	Action      string
	Priority    int
	Description string
}

// Notification is an admin-visible record surfaced by the Approval &
// Notification Bus (spec §3 "Notification").
type Notification struct {
	NotificationID      string
	CreatedAt           time.Time
	TenantID            string
	RiskLevel           RiskLevel
	Title               string
	Description         string
	AgentID             string
	ActivityID          string
	RecommendedActions  []RecommendedAction
	SystemActionTaken   SystemAction
	Status              NotificationStatus
	AdminResponse       string
	RespondedBy         string
	RespondedAt         *time.Time
	Resolution          string
}

// FreezeRecord tracks one freeze/unfreeze cycle for a scope (spec §3
// "FreezeRecord"). At most one record per (FreezeType, Target) is active
// (UnfreezeTimestamp == nil) at a time.
type FreezeRecord struct {
	FreezeID             string
	FreezeTimestamp      time.Time
	UnfreezeTimestamp    *time.Time
	FreezeType           FreezeType
	Target               string
	Reason               string
	TriggeringActivityID string
	RiskLevel            RiskLevel
	UnfreezeAuthorizedBy string
	UnfreezeReason       string
}

// Active reports whether this freeze record is still in effect.
func (f *FreezeRecord) Active() bool {
	return f.UnfreezeTimestamp == nil
}

// ApprovalRequest gates destructive lifecycle actions behind a single-use,
// TTL-bounded admin authorization (spec §3 "ApprovalRequest").
type ApprovalRequest struct {
	ApprovalID    string
	TargetAgentID string
	Action        ApprovalAction
	RequestedBy   string
	RequestedAt   time.Time
	Reason        string
	Status        ApprovalStatus
	DecidedBy     string
	DecidedAt     *time.Time
	ApprovalNotes string
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
}

// Consumable reports whether this approval can still satisfy the
// destructive-action gate: approved, unexpired, and not already consumed.
func (a *ApprovalRequest) Consumable(now time.Time) bool {
	return a.Status == ApprovalApproved && a.ConsumedAt == nil && now.Before(a.ExpiresAt)
}
