package model

import "time"

// Agent is the control plane's record of a registered worker agent. It is
// mutated only through the Lifecycle Manager; every status change is
// accompanied by an Activity (spec §3 invariant c).
type Agent struct {
	AgentID         string
	TenantID        string
	Name            string
	AgentType       string
	Version         string
	Capabilities    []string
	Permissions     []string
	Status          AgentStatus
	SecurityScore   int
	CreatedAt       time.Time
	RegisteredBy    string
	LastHeartbeatAt *time.Time
	LastScoreUpdateAt time.Time
}

// Module returns the opaque module-freeze target for this agent, per the
// SPEC_FULL.md resolution of the "module" Open Question: one module per
// agent type.
func (a *Agent) Module() string {
	return "module:" + a.AgentType
}

// RegisterAgentSpec is the caller-supplied payload for register_agent.
type RegisterAgentSpec struct {
	Name         string
	AgentType    string
	Version      string
	Capabilities []string
	Permissions  []string
	RegisteredBy string
}

// TenantQuota tracks the concurrency-safe agent count against a tenant's
// configured ceiling (spec §3 "Tenant Quota").
type TenantQuota struct {
	TenantID     string
	MaxAgents    int
	CurrentCount int
}
