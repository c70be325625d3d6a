package notifications

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// ToastNotifier handles Windows toast notifications for admin-visible
// Notification records (spec §3 "Notification").
type ToastNotifier struct {
	appID        string
	dashboardURL string
}

// NewToastNotifier creates a new toast notifier.
func NewToastNotifier(appID string) *ToastNotifier {
	if appID == "" {
		appID = "acpctl"
	}
	return &ToastNotifier{
		appID:        appID,
		dashboardURL: "http://localhost:8080",
	}
}

// NewToastNotifierWithURL creates a new toast notifier with a custom
// dashboard URL, used when the "Open Dashboard" / "View Now" action
// should deep-link to a different admin surface than localhost.
func NewToastNotifierWithURL(appID, dashboardURL string) *ToastNotifier {
	if appID == "" {
		appID = "acpctl"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &ToastNotifier{appID: appID, dashboardURL: dashboardURL}
}

// ShowToast displays a plain Windows toast notification.
func (t *ToastNotifier) ShowToast(title, message string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}

	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: t.dashboardURL + "/agents"},
		},
	}
	return notification.Push()
}

// NotifyNotification renders n (spec §3 "Notification") as a Windows
// toast. isApprovalGate distinguishes a destructive action genuinely
// blocked on an admin decision (spec §4.6's ApprovalRequest) from an
// ordinary risk alert: the former always plays the louder "instant
// message" sound and deep-links to the agent's approval queue rather than
// its dashboard card, since it demands a decision, not just a look.
func (t *ToastNotifier) NotifyNotification(n *model.Notification, isApprovalGate bool) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}

	title := fmt.Sprintf("[%s] %s", n.RiskLevel, n.Title)
	audio := toast.Default
	label, link := "View Now", fmt.Sprintf("%s/agents/%s", t.dashboardURL, n.AgentID)
	if isApprovalGate {
		title = "Approval Pending: " + n.Title
		audio = toast.IM
		label, link = "Review Approval", fmt.Sprintf("%s/admin/notifications/%s", t.dashboardURL, n.NotificationID)
	} else if n.RiskLevel.AtLeast(model.RiskCritical) {
		audio = toast.IM
	}

	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: n.Description,
		Audio:   audio,
		Actions: []toast.Action{
			{Type: "protocol", Label: label, Arguments: link},
		},
	}
	return notification.Push()
}

// IsSupported returns true if toast notifications are supported on this platform.
func (t *ToastNotifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}
