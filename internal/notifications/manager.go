// Package notifications implements the desktop-side alert surface for the
// acpctl watch CLI: when the Approval & Notification Bus has something an
// admin needs to see right now (a pending destructive-action approval, a
// High+ risk notification), this package is how it reaches a human sitting
// at a terminal, independent of whatever transport delivered the
// notification in the first place (§4.6's email/Slack/pager channels are
// the tenant-facing side; this is the operator's local machine).
package notifications

import (
	"fmt"
	"log"
	"sync"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// Alerter is the unified interface every local alert channel satisfies.
type Alerter interface {
	NotifyNotification(n *model.Notification, isApprovalGate bool) error
	ShowToast(title, message string) error
	FlashTerminal(message string) error
	ShowDashboardBanner(message string) error
	ClearAlert() error
	IsEnabled() bool
}

// Manager fans one alert out across every enabled local channel.
type Manager struct {
	toast    *ToastNotifier
	terminal *TerminalNotifier
	banner   *BannerNotifier
	enabled  bool
	mu       sync.RWMutex
	logger   *log.Logger
}

// Config holds configuration for the notification manager.
type Config struct {
	AppID          string
	DashboardURL   string
	EnableToast    bool
	EnableTerminal bool
	EnableBanner   bool
	Logger         *log.Logger
}

// NewManager creates a new notification manager with all notification channels.
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	m := &Manager{
		toast:    NewToastNotifier(config.AppID),
		terminal: NewTerminalNotifier(),
		banner:   NewBannerNotifier(),
		enabled:  config.EnableToast || config.EnableTerminal || config.EnableBanner,
		logger:   config.Logger,
	}

	m.logSupport()

	return m
}

// NewDefaultManager creates a manager with default settings (all channels enabled).
func NewDefaultManager() *Manager {
	return NewManager(Config{
		AppID:          "acpctl",
		DashboardURL:   "http://localhost:8080",
		EnableToast:    true,
		EnableTerminal: true,
		EnableBanner:   true,
		Logger:         log.Default(),
	})
}

// NotifyNotification fans n (spec §3 "Notification") out across every
// enabled local channel: it is the acpctl watch CLI's equivalent of the
// admin dashboard badge, for an operator who isn't staring at the
// dashboard. isApprovalGate marks n as a destructive action genuinely
// blocked on an admin decision (spec §4.6's ApprovalRequest) rather than
// an ordinary risk alert; every channel renders that distinction in its
// own way (louder sound, fixed title, approval-colored banner).
func (m *Manager) NotifyNotification(n *model.Notification, isApprovalGate bool) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	if m.toast.IsSupported() {
		if err := m.toast.NotifyNotification(n, isApprovalGate); err != nil {
			m.logger.Printf("[NOTIFICATION] Toast notification failed: %v", err)
			errs = append(errs, fmt.Errorf("toast: %w", err))
		} else {
			m.logger.Printf("[NOTIFICATION] Toast notification sent: agent=%s risk=%s %s", n.AgentID, n.RiskLevel, n.Title)
		}
	}

	if m.terminal.IsSupported() {
		if err := m.terminal.NotifyNotification(n, isApprovalGate); err != nil {
			m.logger.Printf("[NOTIFICATION] Terminal notification failed: %v", err)
			errs = append(errs, fmt.Errorf("terminal: %w", err))
		} else {
			m.logger.Printf("[NOTIFICATION] Terminal title updated: agent=%s risk=%s %s", n.AgentID, n.RiskLevel, n.Title)
		}
	}

	if err := m.banner.Show(n, isApprovalGate); err != nil {
		m.logger.Printf("[NOTIFICATION] Banner notification failed: %v", err)
		errs = append(errs, fmt.Errorf("banner: %w", err))
	} else {
		m.logger.Printf("[NOTIFICATION] Dashboard banner shown: agent=%s risk=%s %s", n.AgentID, n.RiskLevel, n.Title)
	}

	if len(errs) > 0 {
		return fmt.Errorf("some notifications failed: %v", errs)
	}

	return nil
}

// ShowToast displays a desktop toast notification (Windows only; it
// returns an error elsewhere — see ToastNotifier.IsSupported).
func (m *Manager) ShowToast(title, message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}
	if !m.toast.IsSupported() {
		return fmt.Errorf("toast notifications not supported on this platform")
	}
	if err := m.toast.ShowToast(title, message); err != nil {
		m.logger.Printf("[NOTIFICATION] Toast failed: %v", err)
		return err
	}
	m.logger.Printf("[NOTIFICATION] Toast sent: %s - %s", title, message)
	return nil
}

// FlashTerminal changes the terminal title to show a message.
func (m *Manager) FlashTerminal(message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}
	if !m.terminal.IsSupported() {
		return fmt.Errorf("terminal notifications not supported")
	}
	if err := m.terminal.FlashTerminal(message); err != nil {
		m.logger.Printf("[NOTIFICATION] Terminal flash failed: %v", err)
		return err
	}
	m.logger.Printf("[NOTIFICATION] Terminal title updated: %s", message)
	return nil
}

// ShowDashboardBanner displays a plain informational banner on the admin
// dashboard, for ad-hoc operator messages with no backing Notification
// record (e.g. "surveillance cycle starting").
func (m *Manager) ShowDashboardBanner(message string) error {
	if !m.enabled {
		return fmt.Errorf("notifications are disabled")
	}
	if err := m.banner.Show(&model.Notification{Title: message, RiskLevel: model.RiskNegligible}, false); err != nil {
		m.logger.Printf("[NOTIFICATION] Banner failed: %v", err)
		return err
	}
	m.logger.Printf("[NOTIFICATION] Dashboard banner shown: %s", message)
	return nil
}

// ClearAlert clears all active local alerts.
func (m *Manager) ClearAlert() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.terminal.IsSupported() {
		if err := m.terminal.ClearAlert(); err != nil {
			errs = append(errs, fmt.Errorf("terminal: %w", err))
		}
	}
	if err := m.banner.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("banner: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("some clear operations failed: %v", errs)
	}

	m.logger.Printf("[NOTIFICATION] All alerts cleared")
	return nil
}

// IsEnabled returns true if notifications are enabled.
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Enable enables all notifications.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.logger.Println("[NOTIFICATION] Notifications enabled")
}

// Disable disables all notifications.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.logger.Println("[NOTIFICATION] Notifications disabled")
}

// GetBannerState returns the current banner state (for the admin dashboard).
func (m *Manager) GetBannerState() BannerState {
	return m.banner.GetState()
}

func (m *Manager) logSupport() {
	m.logger.Printf("[NOTIFICATION] Toast notifications supported: %v", m.toast.IsSupported())
	m.logger.Printf("[NOTIFICATION] Terminal notifications supported: %v", m.terminal.IsSupported())
	m.logger.Printf("[NOTIFICATION] Banner notifications supported: true")
}

// SetTerminalTitle sets the original terminal title (should be called at startup).
func (m *Manager) SetTerminalTitle(title string) {
	m.terminal.SetOriginalTitle(title)
}
