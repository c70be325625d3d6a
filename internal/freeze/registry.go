// Package freeze implements the Freeze Registry: the single authoritative
// answer to "is this agent/module/system currently frozen", consulted
// before every state-changing Façade operation. SQLite is the
// authoritative backing store; Redis is a synchronously-invalidated read
// cache in front of it, so a cache outage degrades to a slower registry
// rather than an incorrect one.
package freeze

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

// SystemScope is the single well-known target for a system-wide freeze.
const SystemScope = "global"

const cacheTTL = 30 * time.Second

// Registry is the Freeze Registry.
type Registry struct {
	db    *store.DB
	cache *redis.Client
	clock ids.Clock
}

// New wires a Freeze Registry over db, optionally fronted by a Redis
// client. cache may be nil, in which case every read goes straight to
// SQLite.
func New(db *store.DB, cache *redis.Client, clock ids.Clock) *Registry {
	return &Registry{db: db, cache: cache, clock: clock}
}

func cacheKey(t model.FreezeType, target string) string {
	return fmt.Sprintf("freeze:%s:%s", t, target)
}

// IsFrozen reports whether scope (freezeType, target) is frozen, checking
// the cache first and falling through to SQLite on a miss or cache error.
func (r *Registry) IsFrozen(ctx context.Context, freezeType model.FreezeType, target string) (bool, error) {
	if r.cache != nil {
		if v, err := r.cache.Get(ctx, cacheKey(freezeType, target)).Result(); err == nil {
			return v == "1", nil
		}
	}

	active, err := r.activeRecord(ctx, freezeType, target)
	if err != nil {
		return false, err
	}
	frozen := active != nil

	if r.cache != nil {
		val := "0"
		if frozen {
			val = "1"
		}
		r.cache.Set(ctx, cacheKey(freezeType, target), val, cacheTTL)
	}

	return frozen, nil
}

// IsAgentFrozen applies scope precedence (System > Module > Agent): an
// agent is effectively frozen if it, its module, or the system is frozen.
func (r *Registry) IsAgentFrozen(ctx context.Context, agentID, module string) (bool, error) {
	systemFrozen, err := r.IsFrozen(ctx, model.FreezeSystem, SystemScope)
	if err != nil {
		return false, err
	}
	if systemFrozen {
		return true, nil
	}

	moduleFrozen, err := r.IsFrozen(ctx, model.FreezeModule, module)
	if err != nil {
		return false, err
	}
	if moduleFrozen {
		return true, nil
	}

	return r.IsFrozen(ctx, model.FreezeAgent, agentID)
}

func (r *Registry) activeRecord(ctx context.Context, freezeType model.FreezeType, target string) (*model.FreezeRecord, error) {
	row := r.db.SQL.QueryRowContext(ctx, `
		SELECT freeze_id, freeze_timestamp, freeze_type, target, reason,
		       triggering_activity_id, risk_level
		FROM freeze_records
		WHERE freeze_type = ? AND target = ? AND unfreeze_timestamp IS NULL`,
		string(freezeType), target)

	var fr model.FreezeRecord
	var freezeTypeStr, riskLevelStr string
	var triggeringID sql.NullString
	err := row.Scan(&fr.FreezeID, &fr.FreezeTimestamp, &freezeTypeStr, &fr.Target, &fr.Reason,
		&triggeringID, &riskLevelStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, cperr.Unavailable("freeze registry backing store unreachable: %v", err)
	}

	fr.FreezeType = model.FreezeType(freezeTypeStr)
	fr.RiskLevel = model.RiskLevel(riskLevelStr)
	fr.TriggeringActivityID = triggeringID.String
	return &fr, nil
}

// ActiveRecords returns every currently-active freeze record (system
// scope first, then module, then agent), backing get_frozen_entities and
// the dashboard's frozen-entities summary.
func (r *Registry) ActiveRecords(ctx context.Context) ([]*model.FreezeRecord, error) {
	rows, err := r.db.SQL.QueryContext(ctx, `
		SELECT freeze_id, freeze_timestamp, freeze_type, target, reason,
		       triggering_activity_id, risk_level
		FROM freeze_records
		WHERE unfreeze_timestamp IS NULL
		ORDER BY CASE freeze_type WHEN 'system' THEN 0 WHEN 'module' THEN 1 ELSE 2 END, freeze_timestamp`)
	if err != nil {
		return nil, cperr.Unavailable("freeze registry backing store unreachable: %v", err)
	}
	defer rows.Close()

	var out []*model.FreezeRecord
	for rows.Next() {
		var fr model.FreezeRecord
		var freezeTypeStr, riskLevelStr string
		var triggeringID sql.NullString
		if err := rows.Scan(&fr.FreezeID, &fr.FreezeTimestamp, &freezeTypeStr, &fr.Target, &fr.Reason,
			&triggeringID, &riskLevelStr); err != nil {
			return nil, cperr.Wrap(cperr.KindInternal, false, err, "scan freeze record")
		}
		fr.FreezeType = model.FreezeType(freezeTypeStr)
		fr.RiskLevel = model.RiskLevel(riskLevelStr)
		fr.TriggeringActivityID = triggeringID.String
		out = append(out, &fr)
	}
	return out, rows.Err()
}

// Freeze freezes scope (freezeType, target), idempotently. Freezing an
// already-frozen scope returns the existing FreezeRecord and created=false
// so the caller knows not to emit a duplicate notification.
func (r *Registry) Freeze(ctx context.Context, freezeType model.FreezeType, target, reason, triggeringActivityID string, level model.RiskLevel) (*model.FreezeRecord, bool, error) {
	existing, err := r.activeRecord(ctx, freezeType, target)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	fr := &model.FreezeRecord{
		FreezeID:             ids.NewID(),
		FreezeTimestamp:      r.clock.Now(),
		FreezeType:           freezeType,
		Target:               target,
		Reason:               reason,
		TriggeringActivityID: triggeringActivityID,
		RiskLevel:            level,
	}

	_, err = r.db.SQL.ExecContext(ctx, `
		INSERT INTO freeze_records (
			freeze_id, freeze_timestamp, freeze_type, target, reason,
			triggering_activity_id, risk_level
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fr.FreezeID, fr.FreezeTimestamp, string(fr.FreezeType), fr.Target, fr.Reason,
		nullableString(fr.TriggeringActivityID), string(fr.RiskLevel))
	if err != nil {
		if isUniqueConstraintErr(err) {
			existing, rerr := r.activeRecord(ctx, freezeType, target)
			if rerr != nil {
				return nil, false, rerr
			}
			return existing, false, nil
		}
		return nil, false, cperr.Unavailable("freeze registry backing store unreachable: %v", err)
	}

	r.invalidate(ctx, freezeType, target, true)
	return fr, true, nil
}

// Unfreeze clears an active freeze, recording who authorized it and why.
func (r *Registry) Unfreeze(ctx context.Context, freezeType model.FreezeType, target, authorizedBy, reason string) error {
	res, err := r.db.SQL.ExecContext(ctx, `
		UPDATE freeze_records
		SET unfreeze_timestamp = ?, unfreeze_authorized_by = ?, unfreeze_reason = ?
		WHERE freeze_type = ? AND target = ? AND unfreeze_timestamp IS NULL`,
		r.clock.Now(), authorizedBy, reason, string(freezeType), target)
	if err != nil {
		return cperr.Unavailable("freeze registry backing store unreachable: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cperr.Unavailable("freeze registry backing store unreachable: %v", err)
	}
	if n == 0 {
		return cperr.NotFound("no active freeze for %s:%s", freezeType, target)
	}

	r.invalidate(ctx, freezeType, target, false)
	return nil
}

// invalidate writes the known state synchronously, satisfying the ordering
// guarantee that any is_frozen call after freeze/unfreeze returns observes
// it immediately, with no reliance on TTL expiry.
func (r *Registry) invalidate(ctx context.Context, freezeType model.FreezeType, target string, frozen bool) {
	if r.cache == nil {
		return
	}
	val := "0"
	if frozen {
		val = "1"
	}
	r.cache.Set(ctx, cacheKey(freezeType, target), val, cacheTTL)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "idx_freeze_active"))
}
