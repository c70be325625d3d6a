// Package audit implements the tamper-evident, append-only Activity log:
// every record carries hash_signature = sha256(prev_hash || canonical
// bytes), chained per agent, so any retroactive edit or reordering is
// detectable by recomputing the chain.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

// Store is the Audit Store: the only component allowed to write to
// agent_activity_logs.
type Store struct {
	db *store.DB
}

// New wraps an open store.DB as an Audit Store.
func New(db *store.DB) *Store {
	return &Store{db: db}
}

// Append writes act as the next link in its agent's hash chain, filling in
// PrevHash, HashSignature, and the monotonic sequence number. Two
// concurrent Append calls for the same agent_id race on the chain's tail;
// the loser observes a ConflictError and is expected to retry, which the
// lifecycle manager's per-agent critical section is designed to prevent in
// the first place.
func (s *Store) Append(ctx context.Context, act *model.Activity) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		return AppendTx(ctx, tx, act)
	})
}

// AppendTx runs the same hash-chain append Append does, but inside a
// transaction the caller already owns. The Lifecycle Manager uses this to
// keep an agent's status change and its recording Activity atomic, per
// spec §5's per-agent total-order guarantee.
func AppendTx(ctx context.Context, tx *sql.Tx, act *model.Activity) error {
	prevHash := model.GenesisHash
	var lastSeq int64

	row := tx.QueryRowContext(ctx,
		`SELECT seq, hash_signature FROM agent_activity_logs
		 WHERE agent_id = ? ORDER BY seq DESC LIMIT 1`, act.AgentID)
	switch err := row.Scan(&lastSeq, &prevHash); {
	case errors.Is(err, sql.ErrNoRows):
		lastSeq, prevHash = 0, model.GenesisHash
	case err != nil:
		return cperr.Wrap(cperr.KindInternal, false, err, "read chain tail for %s", act.AgentID)
	}

	act.PrevHash = prevHash

	canonical, err := canonicalBytes(act)
	if err != nil {
		return cperr.Wrap(cperr.KindInternal, false, err, "canonicalize activity %s", act.ActivityID)
	}
	act.HashSignature = signHash(prevHash, canonical)

	contextJSON, err := json.Marshal(act.Context)
	if err != nil {
		return cperr.Wrap(cperr.KindValidation, false, err, "marshal activity context")
	}
	flagsJSON, err := json.Marshal(act.ComplianceFlags)
	if err != nil {
		return cperr.Wrap(cperr.KindValidation, false, err, "marshal compliance flags")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_activity_logs (
			activity_id, correlation_id, parent_activity_id, agent_id, tenant_id,
			timestamp, activity_type, activity_category, description, context,
			user_id, session_id, input_hash, output_hash, knowledge_payload,
			risk_level, compliance_flags, requires_review, reviewed_by, reviewed_at,
			hash_signature, prev_hash, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		act.ActivityID, act.CorrelationID, nullable(act.ParentActivityID), act.AgentID, act.TenantID,
		act.Timestamp, string(act.ActivityType), act.ActivityCategory, act.Description, string(contextJSON),
		nullable(act.UserID), nullable(act.SessionID), nullable(act.InputHash), nullable(act.OutputHash), nullable(act.KnowledgePayload),
		string(act.RiskLevel), string(flagsJSON), act.RequiresReview, nullable(act.ReviewedBy), act.ReviewedAt,
		act.HashSignature, act.PrevHash, lastSeq+1,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return cperr.Conflict("activity chain for agent %s advanced concurrently, retry", act.AgentID)
		}
		return cperr.Wrap(cperr.KindInternal, false, err, "insert activity %s", act.ActivityID)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// QueryOptions narrows Query's results.
type QueryOptions struct {
	From           *string
	To             *string
	ActivityType   *model.ActivityType
	RiskLevel      *model.RiskLevel
	RequiresReview *bool
	Limit          int
	Offset         int
	// Ascending requests oldest-first ordering (seq ASC). The public
	// contract defaults to newest-first; VerifyChain sets this to replay
	// the chain from genesis forward.
	Ascending bool
}

// Query returns an agent's activity log within the requested window and
// filters, newest-first (spec §4.1) unless opts.Ascending reverses it.
func (s *Store) Query(ctx context.Context, agentID string, opts QueryOptions) ([]*model.Activity, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := strings.Builder{}
	q.WriteString(`SELECT activity_id, correlation_id, parent_activity_id, agent_id, tenant_id,
		timestamp, activity_type, activity_category, description, context,
		user_id, session_id, input_hash, output_hash, knowledge_payload,
		risk_level, compliance_flags, requires_review, reviewed_by, reviewed_at,
		hash_signature, prev_hash
		FROM agent_activity_logs WHERE agent_id = ?`)
	args := []interface{}{agentID}

	if opts.From != nil {
		q.WriteString(" AND timestamp >= ?")
		args = append(args, *opts.From)
	}
	if opts.To != nil {
		q.WriteString(" AND timestamp <= ?")
		args = append(args, *opts.To)
	}
	if opts.ActivityType != nil {
		q.WriteString(" AND activity_type = ?")
		args = append(args, string(*opts.ActivityType))
	}
	if opts.RiskLevel != nil {
		q.WriteString(" AND risk_level = ?")
		args = append(args, string(*opts.RiskLevel))
	}
	if opts.RequiresReview != nil {
		q.WriteString(" AND requires_review = ?")
		args = append(args, *opts.RequiresReview)
	}

	order := "DESC"
	if opts.Ascending {
		order = "ASC"
	}
	q.WriteString(" ORDER BY seq " + order + " LIMIT ? OFFSET ?")
	args = append(args, limit, opts.Offset)

	rows, err := s.db.SQL.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "query activity log for %s", agentID)
	}
	defer rows.Close()

	var out []*model.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (*model.Activity, error) {
	var a model.Activity
	var parentID, userID, sessionID, inputHash, outputHash, knowledge, reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	var contextJSON, flagsJSON string
	var activityType, riskLevel string

	if err := row.Scan(
		&a.ActivityID, &a.CorrelationID, &parentID, &a.AgentID, &a.TenantID,
		&a.Timestamp, &activityType, &a.ActivityCategory, &a.Description, &contextJSON,
		&userID, &sessionID, &inputHash, &outputHash, &knowledge,
		&riskLevel, &flagsJSON, &a.RequiresReview, &reviewedBy, &reviewedAt,
		&a.HashSignature, &a.PrevHash,
	); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "scan activity row")
	}

	a.ParentActivityID = parentID.String
	a.UserID = userID.String
	a.SessionID = sessionID.String
	a.InputHash = inputHash.String
	a.OutputHash = outputHash.String
	a.KnowledgePayload = knowledge.String
	a.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		a.ReviewedAt = &reviewedAt.Time
	}
	a.ActivityType = model.ActivityType(activityType)
	a.RiskLevel = model.RiskLevel(riskLevel)

	if err := json.Unmarshal([]byte(contextJSON), &a.Context); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "unmarshal activity context")
	}
	if err := json.Unmarshal([]byte(flagsJSON), &a.ComplianceFlags); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "unmarshal compliance flags")
	}

	return &a, nil
}

// VerifyChain recomputes the hash chain for agentID across its full history
// and reports the first broken link, if any.
func (s *Store) VerifyChain(ctx context.Context, agentID string) (ok bool, brokenAt string, err error) {
	// Query caps a page at 1000 rows, so the full history is read page by page.
	var acts []*model.Activity
	for offset := 0; ; offset += 1000 {
		page, err := s.Query(ctx, agentID, QueryOptions{Limit: 1000, Offset: offset, Ascending: true})
		if err != nil {
			return false, "", err
		}
		acts = append(acts, page...)
		if len(page) < 1000 {
			break
		}
	}

	prevHash := model.GenesisHash
	for _, a := range acts {
		if a.PrevHash != prevHash {
			return false, a.ActivityID, nil
		}
		canonical, cerr := canonicalBytes(a)
		if cerr != nil {
			return false, "", cperr.Wrap(cperr.KindInternal, false, cerr, "canonicalize activity %s", a.ActivityID)
		}
		expected := signHash(prevHash, canonical)
		if expected != a.HashSignature {
			return false, a.ActivityID, nil
		}
		prevHash = a.HashSignature
	}
	return true, "", nil
}

// MarkReviewed records that an admin has reviewed activityID. Per spec §3,
// the original row is never mutated: this appends a new, linked
// SystemModification Activity to the reviewed activity's own agent chain
// instead of updating reviewed_by/reviewed_at in place.
func (s *Store) MarkReviewed(ctx context.Context, activityID, reviewedBy string) error {
	row := s.db.SQL.QueryRowContext(ctx, `
		SELECT agent_id, tenant_id, correlation_id FROM agent_activity_logs WHERE activity_id = ?`, activityID)
	var agentID, tenantID, correlationID string
	switch err := row.Scan(&agentID, &tenantID, &correlationID); {
	case errors.Is(err, sql.ErrNoRows):
		return cperr.NotFound("activity %s not found", activityID)
	case err != nil:
		return cperr.Wrap(cperr.KindInternal, false, err, "look up activity %s for review", activityID)
	}

	review := &model.Activity{
		ActivityID:       ids.NewID(),
		CorrelationID:    correlationID,
		ParentActivityID: activityID,
		AgentID:          agentID,
		TenantID:         tenantID,
		Timestamp:        time.Now().UTC(),
		ActivityType:     model.ActivitySystemModification,
		ActivityCategory: "activity_review",
		Description:      "activity " + activityID + " reviewed by " + reviewedBy,
		Context: map[string]interface{}{
			"reviewed_activity_id": activityID,
			"reviewed_by":          reviewedBy,
		},
		RiskLevel:       model.RiskNegligible,
		ComplianceFlags: []string{},
	}
	return s.Append(ctx, review)
}
