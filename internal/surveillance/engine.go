// Package surveillance implements the Surveillance Engine (spec §4.5): a
// long-running supervisory loop that independently evaluates agent health
// and behavior between user-driven events, re-architected per §9 as a
// supervised worker pool with an explicit concurrency limit, a
// cancellation token, and per-agent serialization — not the teacher's
// ad-hoc background coroutines.
package surveillance

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SUPREMEAGENTMANAGER/internal/approval"
	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/metrics"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// Analyzer is the pluggable behavior analyzer spec §4.5 calls for:
// "analyze(agent_history) → { is_anomaly, score, confidence, explanation }".
// A nil Analyzer disables the behavior check entirely, independent of the
// enable_behavior_analysis config flag.
type Analyzer interface {
	Analyze(ctx context.Context, agentID string, history []*model.Activity) (AnomalyResult, error)
}

// AnomalyResult is one Analyzer invocation's verdict.
type AnomalyResult struct {
	IsAnomaly   bool
	Score       float64
	Confidence  float64
	Explanation string
}

// CycleSummary is handed to Publisher after each cycle completes, backing
// the surveillance.cycle_completed event subject (spec §6).
type CycleSummary struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	TenantsScanned int
	AgentsScanned  int
	ViolationsRaised int
	ApprovalsExpired int64
}

// Publisher is the narrow slice of the event bus the engine needs; kept
// as an interface so tests don't need a live NATS connection.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Engine is the Surveillance Engine.
type Engine struct {
	lifecycle *lifecycle.Manager
	auditLog  *audit.Store
	freeze    *freeze.Registry
	bus       *approval.Bus
	cfg       *config.Config
	clock     ids.Clock
	log       *zap.Logger
	analyzer  Analyzer
	publisher Publisher
	metrics   *metrics.Collector
}

// SetMetrics wires the Prometheus Collector the engine reports each
// cycle's duration and expired-approval count through. The engine does not
// set the per-status agent gauge.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// New wires a Surveillance Engine over its dependencies. analyzer and
// publisher may both be nil.
func New(lc *lifecycle.Manager, auditLog *audit.Store, freezeRegistry *freeze.Registry, bus *approval.Bus, cfg *config.Config, clock ids.Clock, log *zap.Logger, analyzer Analyzer, publisher Publisher) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		lifecycle: lc,
		auditLog:  auditLog,
		freeze:    freezeRegistry,
		bus:       bus,
		cfg:       cfg,
		clock:     clock,
		log:       log,
		analyzer:  analyzer,
		publisher: publisher,
	}
}

// Run drives the periodic surveillance loop until ctx is cancelled. Each
// cycle's in-flight work completes before Run observes cancellation
// between agents (spec §4.5 "Cancellation"); no transition is partially
// applied.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.Surveillance.MonitoringIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("surveillance engine started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("surveillance engine stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				e.log.Error("surveillance cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle performs exactly one pass of spec §4.5's cycle: fetch agents
// per tenant, run bounded-concurrency analyses, and sweep expired
// approvals. An analyzer error for one agent never aborts the cycle for
// others (spec §4.5 "Failure semantics").
func (e *Engine) RunCycle(ctx context.Context) error {
	summary := CycleSummary{StartedAt: e.clock.Now()}

	tenants, err := e.lifecycle.ListTenants(ctx)
	if err != nil {
		return err
	}
	summary.TenantsScanned = len(tenants)

	maxConcurrent := e.cfg.Surveillance.MaxConcurrentAnalyses
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		if err := e.scanTenant(ctx, tenantID, maxConcurrent, &summary); err != nil {
			e.log.Error("tenant scan failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	if n, err := e.bus.SweepExpired(ctx); err != nil {
		e.log.Warn("approval expiry sweep failed", zap.Error(err))
	} else {
		summary.ApprovalsExpired = n
	}

	summary.FinishedAt = e.clock.Now()
	if e.metrics != nil {
		e.metrics.SurveillanceCycle.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
		e.metrics.ApprovalsDecided.WithLabelValues("expired").Add(float64(summary.ApprovalsExpired))
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, "surveillance.cycle_completed", summary); err != nil {
			e.log.Warn("failed to publish cycle summary", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) scanTenant(ctx context.Context, tenantID string, maxConcurrent int, summary *CycleSummary) error {
	const pageSize = 200
	offset := 0
	for {
		agents, err := e.lifecycle.ListAgents(ctx, lifecycle.ListAgentsOptions{
			TenantID: tenantID,
			Statuses: []model.AgentStatus{model.StatusActive, model.StatusMaintenance},
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrent)
		var violations int64
		for _, agent := range agents {
			agent := agent
			summary.AgentsScanned++
			g.Go(func() error {
				if violated, err := e.analyzeAgent(gctx, agent); err != nil {
					e.log.Error("agent analysis failed", zap.String("agent_id", agent.AgentID), zap.Error(err))
				} else if violated {
					atomic.AddInt64(&violations, 1)
				}
				return nil // per-agent errors never fail the group; see Failure semantics above
			})
		}
		_ = g.Wait()
		summary.ViolationsRaised += int(atomic.LoadInt64(&violations))

		if len(agents) < pageSize {
			return nil
		}
		offset += pageSize
	}
}

// analyzeAgent runs one agent through the ordered per-agent cycle from
// spec §4.5: health, then behavior, then API pattern. The first check to
// raise a violation short-circuits the rest — HandleSecurityViolation has
// already escalated status and possibly frozen the agent, so running a
// second check against a frozen agent this same cycle would be wasted
// work. An agent with no violation this cycle earns a good-behavior tick.
func (e *Engine) analyzeAgent(ctx context.Context, agent *model.Agent) (bool, error) {
	if violated, err := e.checkHealth(ctx, agent); err != nil || violated {
		return violated, err
	}
	if violated, err := e.checkBehavior(ctx, agent); err != nil || violated {
		return violated, err
	}
	if violated, err := e.checkAPIPattern(ctx, agent); err != nil || violated {
		return violated, err
	}
	if _, err := e.lifecycle.ApplyGoodBehaviorTick(ctx, agent.AgentID, ids.NewID()); err != nil {
		return false, err
	}
	return false, nil
}
