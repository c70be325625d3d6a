// Package approval implements the Approval & Notification Bus: a
// persistent notification queue fronting fire-and-forget channel delivery,
// and the single-use, TTL-bounded ApprovalRequest gate on destructive
// lifecycle actions.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

// Channel is one outbound notification adapter (email, Slack, PagerDuty).
type Channel interface {
	Name() string
	MinSeverity() model.RiskLevel
	Send(ctx context.Context, n *model.Notification) error
}

// Publisher is the narrow event-bus slice the Bus needs to announce
// "notifications.created" and "approvals.requested" (spec §6), kept
// local to avoid importing the eventbus package from here.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Bus is the Approval & Notification Bus.
type Bus struct {
	db        *store.DB
	clock     ids.Clock
	channels  []Channel
	log       *zap.Logger
	deliver   *deliveryQueue
	publisher Publisher
}

// New wires a Bus over db, delivering to the given channels. Delivery
// never blocks the caller of Notify: each notification is hashed off to a
// bounded-retry background worker.
func New(db *store.DB, clock ids.Clock, channels []Channel, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{db: db, clock: clock, channels: channels, log: log}
	b.deliver = newDeliveryQueue(channels, log)
	return b
}

// SetPublisher wires the event bus the same way lifecycle.SetNotifier
// does: a plain setter taking the narrow Publisher interface, not a
// constructor arg, so the approval package never imports eventbus.
func (b *Bus) SetPublisher(p Publisher) {
	b.publisher = p
}

func (b *Bus) publish(ctx context.Context, subject string, payload interface{}) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, subject, payload); err != nil {
		b.log.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close stops the background delivery workers.
func (b *Bus) Close() {
	b.deliver.close()
}

// Notify enqueues a Notification and fans it out to every channel whose
// minimum severity the risk level satisfies, without blocking on delivery.
func (b *Bus) Notify(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	n.NotificationID = ids.NewID()
	n.CreatedAt = b.clock.Now()
	n.Status = model.NotificationPending

	recsJSON, err := json.Marshal(n.RecommendedActions)
	if err != nil {
		return nil, cperr.Wrap(cperr.KindValidation, false, err, "marshal recommended actions")
	}

	_, err = b.db.SQL.ExecContext(ctx, `
		INSERT INTO admin_notifications (
			notification_id, created_at, tenant_id, risk_level, title, description,
			agent_id, activity_id, recommended_actions, system_action_taken, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.NotificationID, n.CreatedAt, n.TenantID, string(n.RiskLevel), n.Title, n.Description,
		nullableString(n.AgentID), nullableString(n.ActivityID), string(recsJSON), string(n.SystemActionTaken), string(n.Status))
	if err != nil {
		return nil, cperr.Unavailable("notification bus backing store unreachable: %v", err)
	}

	b.deliver.enqueue(n)
	b.publish(ctx, "notifications.created", n)
	return n, nil
}

// ListPending returns the newest-first pending notifications for a tenant,
// bounded by limit.
func (b *Bus) ListPending(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := b.db.SQL.QueryContext(ctx, `
		SELECT notification_id, created_at, tenant_id, risk_level, title, description,
		       agent_id, activity_id, recommended_actions, system_action_taken, status,
		       admin_response, responded_by, responded_at, resolution
		FROM admin_notifications
		WHERE tenant_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT ?`, tenantID, string(model.NotificationPending), limit)
	if err != nil {
		return nil, cperr.Unavailable("notification bus backing store unreachable: %v", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Respond transitions a notification Pending→Acknowledged or
// Pending→Resolved and records the admin's response.
func (b *Bus) Respond(ctx context.Context, notificationID, adminID string, resolved bool, response, resolution string) error {
	newStatus := model.NotificationAcknowledged
	if resolved {
		newStatus = model.NotificationResolved
	}

	res, err := b.db.SQL.ExecContext(ctx, `
		UPDATE admin_notifications
		SET status = ?, admin_response = ?, responded_by = ?, responded_at = ?, resolution = ?
		WHERE notification_id = ? AND status = ?`,
		string(newStatus), response, adminID, b.clock.Now(), resolution,
		notificationID, string(model.NotificationPending))
	if err != nil {
		return cperr.Unavailable("notification bus backing store unreachable: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cperr.Unavailable("notification bus backing store unreachable: %v", err)
	}
	if n == 0 {
		return cperr.NotFound("pending notification %s not found", notificationID)
	}
	return nil
}

// RequestApproval creates an ApprovalRequest in Pending and emits a
// High-priority notification, per spec §4.6.
func (b *Bus) RequestApproval(ctx context.Context, agentID string, action model.ApprovalAction, requestedBy, reason string, ttl time.Duration) (string, error) {
	id := ids.NewID()
	now := b.clock.Now()

	_, err := b.db.SQL.ExecContext(ctx, `
		INSERT INTO approval_requests (
			approval_id, target_agent_id, action, requested_by, requested_at, reason, status, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, agentID, string(action), requestedBy, now, reason, string(model.ApprovalPending), now.Add(ttl))
	if err != nil {
		return "", cperr.Unavailable("approval request store unreachable: %v", err)
	}

	_, err = b.Notify(ctx, &model.Notification{
		TenantID:    "",
		RiskLevel:   model.RiskHigh,
		Title:       "Approval requested: " + string(action),
		Description: reason,
		AgentID:     agentID,
		RecommendedActions: []model.RecommendedAction{
			{Action: "review_approval", Priority: 1, Description: "Review approval request " + id},
		},
		SystemActionTaken: model.ActionNone,
	})
	if err != nil {
		b.log.Warn("failed to notify about new approval request", zap.Error(err))
	}

	b.publish(ctx, "approvals.requested", map[string]interface{}{
		"approval_id": id, "agent_id": agentID, "action": string(action),
	})

	return id, nil
}

// decide transitions a Pending ApprovalRequest to Approved or Rejected.
func (b *Bus) decide(ctx context.Context, approvalID, adminID, notes string, status model.ApprovalStatus) error {
	res, err := b.db.SQL.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, decided_by = ?, decided_at = ?, approval_notes = ?
		WHERE approval_id = ? AND status = ?`,
		string(status), adminID, b.clock.Now(), notes, approvalID, string(model.ApprovalPending))
	if err != nil {
		return cperr.Unavailable("approval request store unreachable: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cperr.Unavailable("approval request store unreachable: %v", err)
	}
	if n == 0 {
		return cperr.Policy("approval %s is not pending", approvalID)
	}
	return nil
}

// Approve transitions approvalID Pending→Approved.
func (b *Bus) Approve(ctx context.Context, approvalID, adminID, notes string) error {
	return b.decide(ctx, approvalID, adminID, notes, model.ApprovalApproved)
}

// Reject transitions approvalID Pending→Rejected.
func (b *Bus) Reject(ctx context.Context, approvalID, adminID, notes string) error {
	return b.decide(ctx, approvalID, adminID, notes, model.ApprovalRejected)
}

// GetApproval returns one ApprovalRequest by id, letting callers that sit
// above the Bus (the Façade) discover the target agent to link an
// approve/reject Activity back to.
func (b *Bus) GetApproval(ctx context.Context, approvalID string) (*model.ApprovalRequest, error) {
	row := b.db.SQL.QueryRowContext(ctx, `
		SELECT approval_id, target_agent_id, action, requested_by, requested_at, reason, status,
		       decided_by, decided_at, approval_notes, expires_at, consumed_at
		FROM approval_requests WHERE approval_id = ?`, approvalID)

	var a model.ApprovalRequest
	var action, status string
	var decidedBy, notes sql.NullString
	var decidedAt, consumedAt sql.NullTime
	err := row.Scan(&a.ApprovalID, &a.TargetAgentID, &action, &a.RequestedBy, &a.RequestedAt, &a.Reason, &status,
		&decidedBy, &decidedAt, &notes, &a.ExpiresAt, &consumedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, cperr.NotFound("approval %s not found", approvalID)
	case err != nil:
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "read approval %s", approvalID)
	}
	a.Action = model.ApprovalAction(action)
	a.Status = model.ApprovalStatus(status)
	a.DecidedBy = decidedBy.String
	a.ApprovalNotes = notes.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		a.ConsumedAt = &t
	}
	return &a, nil
}

// SweepExpired marks every Pending approval past its expires_at as
// Expired. Run periodically by the Surveillance Engine's scheduler.
func (b *Bus) SweepExpired(ctx context.Context) (int64, error) {
	res, err := b.db.SQL.ExecContext(ctx, `
		UPDATE approval_requests SET status = ?
		WHERE status = ? AND expires_at < ?`,
		string(model.ApprovalExpired), string(model.ApprovalPending), b.clock.Now())
	if err != nil {
		return 0, cperr.Unavailable("approval request store unreachable: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cperr.Unavailable("approval request store unreachable: %v", err)
	}
	return n, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var riskLevel, recsJSON, systemAction, status string
	var agentID, activityID, adminResponse, respondedBy, resolution sql.NullString
	var respondedAt sql.NullTime

	if err := row.Scan(&n.NotificationID, &n.CreatedAt, &n.TenantID, &riskLevel, &n.Title, &n.Description,
		&agentID, &activityID, &recsJSON, &systemAction, &status,
		&adminResponse, &respondedBy, &respondedAt, &resolution); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cperr.NotFound("notification not found")
		}
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "scan notification row")
	}

	n.RiskLevel = model.RiskLevel(riskLevel)
	n.SystemActionTaken = model.SystemAction(systemAction)
	n.Status = model.NotificationStatus(status)
	n.AgentID = agentID.String
	n.ActivityID = activityID.String
	n.AdminResponse = adminResponse.String
	n.RespondedBy = respondedBy.String
	n.Resolution = resolution.String
	if respondedAt.Valid {
		n.RespondedAt = &respondedAt.Time
	}
	if err := json.Unmarshal([]byte(recsJSON), &n.RecommendedActions); err != nil {
		return nil, cperr.Wrap(cperr.KindInternal, false, err, "unmarshal recommended actions")
	}
	return &n, nil
}
