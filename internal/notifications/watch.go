package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// approvalRequestedPrefix is the Title prefix Bus.RequestApproval gives a
// Notification backing an ApprovalRequest (spec §4.6); it's the only
// signal available to a caller holding just the Notification, since
// Notification itself carries no "this blocks on a decision" flag.
const approvalRequestedPrefix = "Approval requested:"

// PendingLister is the narrow façade slice the watch poller needs: listing
// the tenant's newest-first pending notifications (spec §4.6 list_pending).
type PendingLister interface {
	ListPendingNotifications(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error)
}

// Watcher polls the Approval & Notification Bus on behalf of the acpctl
// watch CLI and fans newly-seen High+ notifications out through Manager,
// so an admin sitting at a terminal gets a toast/title-flash/banner alert
// even when they aren't looking at the web dashboard.
type Watcher struct {
	lister   PendingLister
	alerter  *Manager
	tenantID string
	seen     map[string]struct{}
}

// NewWatcher builds a Watcher over lister, alerting through alerter for
// tenantID's pending notifications.
func NewWatcher(lister PendingLister, alerter *Manager, tenantID string) *Watcher {
	return &Watcher{
		lister:   lister,
		alerter:  alerter,
		tenantID: tenantID,
		seen:     make(map[string]struct{}),
	}
}

// Poll fetches the current pending notifications and alerts on any this
// Watcher has not already surfaced, returning how many were new.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	pending, err := w.lister.ListPendingNotifications(ctx, w.tenantID, 200)
	if err != nil {
		return 0, err
	}

	fresh := 0
	for _, n := range pending {
		if _, ok := w.seen[n.NotificationID]; ok {
			continue
		}
		w.seen[n.NotificationID] = struct{}{}
		if !n.RiskLevel.AtLeast(model.RiskHigh) {
			continue
		}
		fresh++
		isApprovalGate := strings.HasPrefix(n.Title, approvalRequestedPrefix)
		if err := w.alerter.NotifyNotification(n, isApprovalGate); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

// Run polls on interval until ctx is cancelled, the way the Surveillance
// Engine's own cycle loop runs until its cancellation token fires.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := w.Poll(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				return err
			}
		}
	}
}
