// Package lifecycle owns the agent state machine: registration, quotas,
// admin-triggered transitions, security-score bookkeeping, and the
// approval gate on destructive actions. Every public operation is
// serialized per agent_id and idempotent on (agent_id, correlation_id).
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/capability"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

// Notifier is the narrow slice of the Approval & Notification Bus the
// Lifecycle Manager needs to satisfy spec §4.4's "every freeze and
// unfreeze emits ... a Notification" on the paths where the Manager
// itself triggers a freeze (admin `freeze` action, auto-freeze on a
// Critical violation). Kept as an interface so tests can wire the Manager
// without a live Bus.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

// Manager is the Lifecycle Manager.
type Manager struct {
	db       *store.DB
	freeze   *freeze.Registry
	caps     *capability.Registry
	cfg      *config.Config
	clock    ids.Clock
	log      *zap.Logger
	notifier Notifier

	agentLocks sync.Map // agent_id -> *sync.Mutex
	sf         singleflight.Group
}

// New wires a Lifecycle Manager over its dependencies. Call SetNotifier
// afterward to wire freeze notifications; a Manager with no notifier
// still freezes correctly, it just can't alert admins on its own.
func New(db *store.DB, freezeRegistry *freeze.Registry, caps *capability.Registry, cfg *config.Config, clock ids.Clock, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{db: db, freeze: freezeRegistry, caps: caps, cfg: cfg, clock: clock, log: log}
}

// SetNotifier wires the Approval & Notification Bus after construction,
// breaking the lifecycle/approval import cycle (the Bus doesn't depend on
// the Manager, so this stays a plain setter rather than a constructor
// argument every existing caller would need to thread through).
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) lockFor(agentID string) *sync.Mutex {
	v, _ := m.agentLocks.LoadOrStore(agentID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withAgentLock serializes every mutation for agentID, implementing the
// per-agent total order required by the concurrency model.
func (m *Manager) withAgentLock(agentID string, fn func() error) error {
	mu := m.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// idempotent runs fn only if (scopeID, correlationID, operation) has not
// already completed; otherwise it returns the previously recorded result.
// singleflight collapses concurrent duplicate calls within this process;
// the idempotency_ledger table makes the same guarantee durable across
// retries that arrive after the first one has already finished.
func idempotent[T any](m *Manager, ctx context.Context, scopeID, correlationID, operation string, fn func() (T, error)) (T, error) {
	var zero T
	if correlationID == "" {
		return fn()
	}

	key := scopeID + "|" + correlationID + "|" + operation

	var prior sql.NullString
	err := m.db.SQL.QueryRowContext(ctx, `
		SELECT result_json FROM idempotency_ledger
		WHERE agent_id = ? AND correlation_id = ? AND operation = ?`,
		scopeID, correlationID, operation).Scan(&prior)
	if err == nil {
		var out T
		if jerr := json.Unmarshal([]byte(prior.String), &out); jerr != nil {
			return zero, cperr.Wrap(cperr.KindInternal, false, jerr, "decode idempotency ledger entry")
		}
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return zero, cperr.Unavailable("idempotency ledger unreachable: %v", err)
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		result, ferr := fn()
		if ferr != nil {
			return result, ferr
		}
		payload, jerr := json.Marshal(result)
		if jerr != nil {
			return result, cperr.Wrap(cperr.KindInternal, false, jerr, "encode idempotency ledger entry")
		}
		_, dberr := m.db.SQL.ExecContext(ctx, `
			INSERT INTO idempotency_ledger (agent_id, correlation_id, operation, result_json, created_at)
			VALUES (?, ?, ?, ?, ?)`, scopeID, correlationID, operation, string(payload), m.clock.Now())
		if dberr != nil {
			m.log.Warn("failed to persist idempotency ledger entry", zap.Error(dberr), zap.String("key", key))
		}
		return result, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (m *Manager) getAgent(ctx context.Context, tx *sql.Tx, agentID string) (*model.Agent, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT agent_id, tenant_id, name, agent_type, version, capabilities, permissions,
		       status, security_score, created_at, registered_by, last_heartbeat_at, last_score_update_at
		FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

func (m *Manager) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	row := m.db.SQL.QueryRowContext(ctx, `
		SELECT agent_id, tenant_id, name, agent_type, version, capabilities, permissions,
		       status, security_score, created_at, registered_by, last_heartbeat_at, last_score_update_at
		FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var capsJSON, permsJSON, status string
	var lastHeartbeat sql.NullTime

	err := row.Scan(&a.AgentID, &a.TenantID, &a.Name, &a.AgentType, &a.Version, &capsJSON, &permsJSON,
		&status, &a.SecurityScore, &a.CreatedAt, &a.RegisteredBy, &lastHeartbeat, &a.LastScoreUpdateAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cperr.NotFound("agent not found")
	}
	if err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "scan agent row")
	}

	a.Status = model.AgentStatus(status)
	if lastHeartbeat.Valid {
		a.LastHeartbeatAt = &lastHeartbeat.Time
	}
	if err := json.Unmarshal([]byte(capsJSON), &a.Capabilities); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "unmarshal capabilities")
	}
	if err := json.Unmarshal([]byte(permsJSON), &a.Permissions); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "unmarshal permissions")
	}
	return &a, nil
}

// RegisterAgent validates capabilities, enforces the tenant quota, and
// inserts the Agent, all inside one transaction, per spec §3's "Tenant
// Quota" invariant.
func (m *Manager) RegisterAgent(ctx context.Context, tenantID string, spec model.RegisterAgentSpec, correlationID string) (*model.Agent, error) {
	systemFrozen, err := m.freeze.IsFrozen(ctx, model.FreezeSystem, freeze.SystemScope)
	if err != nil {
		return nil, err
	}
	if systemFrozen {
		return nil, cperr.Frozen("system is frozen")
	}

	return idempotent(m, ctx, tenantID, correlationID, "register_agent", func() (*model.Agent, error) {
		for _, c := range spec.Capabilities {
			if !m.caps.IsKnown(c) {
				return nil, cperr.Validation("unknown capability %q", c)
			}
		}

		agent := &model.Agent{
			AgentID:           ids.NewID(),
			TenantID:          tenantID,
			Name:              spec.Name,
			AgentType:         spec.AgentType,
			Version:           spec.Version,
			Capabilities:      spec.Capabilities,
			Permissions:       spec.Permissions,
			Status:            model.StatusRegistered,
			SecurityScore:     100,
			CreatedAt:         m.clock.Now(),
			RegisteredBy:      spec.RegisteredBy,
			LastScoreUpdateAt: m.clock.Now(),
		}

		err := m.db.WithTx(func(tx *sql.Tx) error {
			maxAgents, currentCount, err := quotaFor(ctx, tx, tenantID, m.cfg.AgentLifecycle.MaxAgentsPerTenant)
			if err != nil {
				return err
			}
			if currentCount >= maxAgents {
				return cperr.Policy("tenant %s quota exceeded (%d/%d)", tenantID, currentCount, maxAgents)
			}

			capsJSON, _ := json.Marshal(agent.Capabilities)
			permsJSON, _ := json.Marshal(agent.Permissions)

			_, err = tx.ExecContext(ctx, `
				INSERT INTO agents (
					agent_id, tenant_id, name, agent_type, version, capabilities, permissions,
					status, security_score, created_at, registered_by, last_score_update_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				agent.AgentID, agent.TenantID, agent.Name, agent.AgentType, agent.Version,
				string(capsJSON), string(permsJSON), string(agent.Status), agent.SecurityScore,
				agent.CreatedAt, agent.RegisteredBy, agent.LastScoreUpdateAt)
			if err != nil {
				if isUniqueNameConflict(err) {
					return cperr.Policy("agent name %q already registered for tenant %s", agent.Name, tenantID)
				}
				return cperr.Wrap(cperr.KindInternal, false, err, "insert agent")
			}

			return upsertQuotaCount(ctx, tx, tenantID, maxAgents, currentCount+1)
		})
		if err != nil {
			return nil, err
		}
		return agent, nil
	})
}

func quotaFor(ctx context.Context, tx *sql.Tx, tenantID string, defaultMax int) (maxAgents, currentCount int, err error) {
	row := tx.QueryRowContext(ctx, `SELECT max_agents, current_count FROM tenant_quotas WHERE tenant_id = ?`, tenantID)
	switch serr := row.Scan(&maxAgents, &currentCount); {
	case errors.Is(serr, sql.ErrNoRows):
		return defaultMax, 0, nil
	case serr != nil:
		return 0, 0, cperr.Wrap(cperr.KindInternal, false, serr, "read tenant quota")
	}
	return maxAgents, currentCount, nil
}

func upsertQuotaCount(ctx context.Context, tx *sql.Tx, tenantID string, maxAgents, newCount int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_quotas (tenant_id, max_agents, current_count) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET current_count = excluded.current_count`,
		tenantID, maxAgents, newCount)
	if err != nil {
		return cperr.Wrap(cperr.KindInternal, false, err, "upsert tenant quota")
	}
	return nil
}

func isUniqueNameConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "agents.tenant_id, agents.name")
}

// Heartbeat updates last_heartbeat_at and resets an Offline agent to
// Active, per spec §4.2's "Offline → Active | heartbeat resume" row. The
// resume leg is a status transition like any other in §4.2's table, so it
// records an Activity the same way MarkOffline does for the opposite leg.
func (m *Manager) Heartbeat(ctx context.Context, agentID string, metrics map[string]interface{}) error {
	return m.withAgentLock(agentID, func() error {
		return m.db.WithTx(func(tx *sql.Tx) error {
			agent, err := m.getAgent(ctx, tx, agentID)
			if err != nil {
				return err
			}
			if agent.Status.Terminal() {
				return cperr.Policy("agent %s is decommissioned", agentID)
			}

			now := m.clock.Now()
			newStatus := agent.Status
			resuming := agent.Status == model.StatusOffline
			if resuming {
				newStatus = model.StatusActive
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE agents SET last_heartbeat_at = ?, status = ? WHERE agent_id = ?`,
				now, string(newStatus), agentID)
			if err != nil {
				return cperr.Wrap(cperr.KindInternal, false, err, "update heartbeat")
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO agent_metrics (agent_id, cpu, memory, error_rate, response_time, recorded_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(agent_id) DO UPDATE SET
					cpu = excluded.cpu, memory = excluded.memory,
					error_rate = excluded.error_rate, response_time = excluded.response_time,
					recorded_at = excluded.recorded_at`,
				agentID, model.FloatMetric(metrics, "cpu"), model.FloatMetric(metrics, "memory"),
				model.FloatMetric(metrics, "error_rate"), model.FloatMetric(metrics, "response_time"), now)
			if err != nil {
				return cperr.Wrap(cperr.KindInternal, false, err, "record agent metrics")
			}

			if !resuming {
				return nil
			}
			return audit.AppendTx(ctx, tx, &model.Activity{
				ActivityID:       ids.NewID(),
				AgentID:          agent.AgentID,
				TenantID:         agent.TenantID,
				Timestamp:        now,
				ActivityType:     model.ActivitySystemModification,
				ActivityCategory: "surveillance_transition",
				Description:      "offline→active: heartbeat resume",
				Context: map[string]interface{}{
					"from": string(model.StatusOffline),
					"to":   string(model.StatusActive),
				},
				RiskLevel:       model.RiskNegligible,
				ComplianceFlags: []string{},
			})
		})
	})
}

// GetMetrics returns agentID's latest self-reported health sample, or nil
// if it has never sent one.
func (m *Manager) GetMetrics(ctx context.Context, agentID string) (*model.AgentMetrics, error) {
	row := m.db.SQL.QueryRowContext(ctx, `
		SELECT agent_id, cpu, memory, error_rate, response_time, recorded_at
		FROM agent_metrics WHERE agent_id = ?`, agentID)

	var am model.AgentMetrics
	switch err := row.Scan(&am.AgentID, &am.CPU, &am.Memory, &am.ErrorRate, &am.ResponseTime, &am.RecordedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "read agent metrics for %s", agentID)
	}
	return &am, nil
}
