package lifecycle

import (
	"context"
	"strings"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// ListAgentsOptions narrows ListAgents, backing both the §6 "GET /agents"
// filtered listing and the Surveillance Engine's per-tenant scan.
type ListAgentsOptions struct {
	TenantID string
	Statuses []model.AgentStatus
	Limit    int
	Offset   int
}

// ListAgents returns agents matching opts, ordered by agent_id for stable
// pagination.
func (m *Manager) ListAgents(ctx context.Context, opts ListAgentsOptions) ([]*model.Agent, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := strings.Builder{}
	q.WriteString(`SELECT agent_id, tenant_id, name, agent_type, version, capabilities, permissions,
		status, security_score, created_at, registered_by, last_heartbeat_at, last_score_update_at
		FROM agents WHERE 1=1`)
	var args []interface{}

	if opts.TenantID != "" {
		q.WriteString(" AND tenant_id = ?")
		args = append(args, opts.TenantID)
	}
	if len(opts.Statuses) > 0 {
		q.WriteString(" AND status IN (")
		for i, s := range opts.Statuses {
			if i > 0 {
				q.WriteString(",")
			}
			q.WriteString("?")
			args = append(args, string(s))
		}
		q.WriteString(")")
	}
	q.WriteString(" ORDER BY agent_id LIMIT ? OFFSET ?")
	args = append(args, limit, opts.Offset)

	rows, err := m.db.SQL.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "list agents")
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListTenants returns the distinct tenant IDs with at least one registered
// agent, so the Surveillance Engine can iterate "for each tenant" per spec
// §4.5 step 1 without a separate tenant directory.
func (m *Manager) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := m.db.SQL.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM agents ORDER BY tenant_id`)
	if err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "list tenants")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, cperr.Wrap(cperr.KindInternal, false, err, "scan tenant id")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
