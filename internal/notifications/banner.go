package notifications

import (
	"sync"
	"time"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// BannerType represents the visual severity of a dashboard banner. Unlike
// a free-form "info/warning/error" string, this control plane's banners
// are driven off the same RiskLevel enum the Risk Classifier assigns, so
// the desktop surface and the admin dashboard never disagree about how
// alarming a given Notification is.
type BannerType string

const (
	BannerTypeInfo     BannerType = "info"
	BannerTypeWarning  BannerType = "warning"
	BannerTypeError    BannerType = "error"
	BannerTypeApproval BannerType = "approval"
)

// bannerTypeForRisk maps a Notification's RiskLevel to the banner severity
// it renders as.
func bannerTypeForRisk(level model.RiskLevel) BannerType {
	switch {
	case level.AtLeast(model.RiskCritical):
		return BannerTypeError
	case level.AtLeast(model.RiskMedium):
		return BannerTypeWarning
	default:
		return BannerTypeInfo
	}
}

// BannerState holds the current state of the banner notification.
type BannerState struct {
	Visible        bool            `json:"visible"`
	Message        string          `json:"message"`
	Type           BannerType      `json:"type"`
	AgentID        string          `json:"agent_id,omitempty"`
	NotificationID string          `json:"notification_id,omitempty"`
	RiskLevel      model.RiskLevel `json:"risk_level,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// BannerNotifier manages the dashboard banner notification state.
type BannerNotifier struct {
	state BannerState
	mu    sync.RWMutex
}

// NewBannerNotifier creates a new banner notifier.
func NewBannerNotifier() *BannerNotifier {
	return &BannerNotifier{
		state: BannerState{Visible: false},
	}
}

// Show surfaces n as a banner. An ApprovalRequest waiting on a decision
// always renders as BannerTypeApproval regardless of n's own RiskLevel,
// since it demands an action rather than just attention; every other
// Notification's banner severity is derived from its RiskLevel.
func (b *BannerNotifier) Show(n *model.Notification, isApprovalGate bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	typ := bannerTypeForRisk(n.RiskLevel)
	if isApprovalGate {
		typ = BannerTypeApproval
	}

	b.state = BannerState{
		Visible:        true,
		Message:        n.Title,
		Type:           typ,
		AgentID:        n.AgentID,
		NotificationID: n.NotificationID,
		RiskLevel:      n.RiskLevel,
		Timestamp:      time.Now(),
	}
	return nil
}

// Clear hides the banner.
func (b *BannerNotifier) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Visible = false
	return nil
}

// GetState returns the current banner state (thread-safe).
func (b *BannerNotifier) GetState() BannerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsVisible returns true if the banner is currently visible.
func (b *BannerNotifier) IsVisible() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Visible
}
