package notifications

import (
	"testing"
	"time"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

func TestNewBannerNotifier(t *testing.T) {
	banner := NewBannerNotifier()
	if banner == nil {
		t.Fatal("NewBannerNotifier returned nil")
	}

	state := banner.GetState()
	if state.Visible {
		t.Error("Expected new banner to be hidden")
	}
}

func TestBannerShow(t *testing.T) {
	banner := NewBannerNotifier()

	n := &model.Notification{NotificationID: "n-1", AgentID: "agent-1", Title: "Test message", RiskLevel: model.RiskLow}
	err := banner.Show(n, false)
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	state := banner.GetState()
	if !state.Visible {
		t.Error("Expected banner to be visible after Show")
	}
	if state.Message != "Test message" {
		t.Errorf("Expected message 'Test message', got '%s'", state.Message)
	}
	if state.Type != BannerTypeInfo {
		t.Errorf("Expected type 'info', got '%s'", state.Type)
	}
	if state.AgentID != "agent-1" || state.NotificationID != "n-1" {
		t.Errorf("expected banner to carry the notification's agent/notification id, got %+v", state)
	}
}

func TestBannerApprovalGateAlwaysRendersAsApproval(t *testing.T) {
	banner := NewBannerNotifier()

	n := &model.Notification{NotificationID: "n-2", Title: "Approval pending", RiskLevel: model.RiskLow}
	err := banner.Show(n, true)
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	state := banner.GetState()
	if !state.Visible {
		t.Error("Expected banner to be visible")
	}
	if state.Type != BannerTypeApproval {
		t.Errorf("Expected type 'approval' regardless of risk level, got '%s'", state.Type)
	}
	if state.Message != "Approval pending" {
		t.Errorf("Expected message 'Approval pending', got '%s'", state.Message)
	}
}

func TestBannerClear(t *testing.T) {
	banner := NewBannerNotifier()

	banner.Show(&model.Notification{Title: "Test message", RiskLevel: model.RiskLow}, false)
	if !banner.IsVisible() {
		t.Error("Expected banner to be visible")
	}

	err := banner.Clear()
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if banner.IsVisible() {
		t.Error("Expected banner to be hidden after Clear")
	}
}

func TestBannerThreadSafety(t *testing.T) {
	banner := NewBannerNotifier()
	n := &model.Notification{Title: "Test", RiskLevel: model.RiskLow}

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(n2 int) {
			for j := 0; j < 100; j++ {
				if n2%2 == 0 {
					banner.Show(n, false)
				} else {
					banner.Clear()
				}
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				banner.GetState()
				banner.IsVisible()
			}
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}

func TestBannerTimestamp(t *testing.T) {
	banner := NewBannerNotifier()

	before := time.Now()
	banner.Show(&model.Notification{Title: "Test", RiskLevel: model.RiskLow}, false)
	after := time.Now()

	state := banner.GetState()
	if state.Timestamp.Before(before) || state.Timestamp.After(after) {
		t.Error("Timestamp not set correctly")
	}
}

func TestBannerTypeForRisk(t *testing.T) {
	tests := []struct {
		level    model.RiskLevel
		expected BannerType
	}{
		{model.RiskNegligible, BannerTypeInfo},
		{model.RiskLow, BannerTypeInfo},
		{model.RiskMedium, BannerTypeWarning},
		{model.RiskHigh, BannerTypeWarning},
		{model.RiskCritical, BannerTypeError},
		{model.RiskEmergency, BannerTypeError},
	}

	banner := NewBannerNotifier()
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			banner.Show(&model.Notification{Title: "Test", RiskLevel: tt.level}, false)
			state := banner.GetState()
			if state.Type != tt.expected {
				t.Errorf("risk level %s: expected banner type %s, got %s", tt.level, tt.expected, state.Type)
			}
		})
	}
}
