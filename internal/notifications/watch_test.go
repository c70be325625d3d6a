package notifications

import (
	"context"
	"testing"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

type fakeLister struct {
	notifications []*model.Notification
}

func (f *fakeLister) ListPendingNotifications(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error) {
	return f.notifications, nil
}

func TestWatcherPollAlertsOnlyOnceAndOnlyHighPlus(t *testing.T) {
	lister := &fakeLister{notifications: []*model.Notification{
		{NotificationID: "n1", RiskLevel: model.RiskHigh, Title: "destructive action pending"},
		{NotificationID: "n2", RiskLevel: model.RiskLow, Title: "routine interaction flagged"},
	}}
	manager := NewDefaultManager()
	w := NewWatcher(lister, manager, "tenant-1")

	fresh, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if fresh != 1 {
		t.Errorf("expected 1 fresh High+ notification, got %d", fresh)
	}

	fresh, err = w.Poll(context.Background())
	if err != nil {
		t.Fatalf("second Poll returned error: %v", err)
	}
	if fresh != 0 {
		t.Errorf("expected 0 fresh notifications on second poll, got %d", fresh)
	}
}

func TestWatcherPollPropagatesListerError(t *testing.T) {
	lister := &errLister{}
	w := NewWatcher(lister, NewDefaultManager(), "tenant-1")
	if _, err := w.Poll(context.Background()); err == nil {
		t.Error("expected Poll to propagate the lister's error")
	}
}

type errLister struct{}

func (errLister) ListPendingNotifications(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error) {
	return nil, errBoom
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
