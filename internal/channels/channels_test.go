package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

func sampleNotification() *model.Notification {
	return &model.Notification{
		NotificationID:    "notif-1",
		RiskLevel:         model.RiskCritical,
		Title:             "agent frozen",
		Description:       "security violation triggered an automatic freeze",
		AgentID:           "agent-1",
		SystemActionTaken: model.ActionFreezeAgent,
	}
}

func TestEmailNotifierRejectsUnconfiguredChannel(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{MinSeverity: model.RiskHigh})
	require.Equal(t, "email", n.Name())
	require.Equal(t, model.RiskHigh, n.MinSeverity())
	err := n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
}

func TestSlackNotifierRejectsMissingWebhook(t *testing.T) {
	n := NewSlackNotifier(SlackConfig{MinSeverity: model.RiskMedium})
	require.Equal(t, "slack", n.Name())
	err := n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
}

func TestPagerNotifierRejectsMissingRoutingKey(t *testing.T) {
	n := NewPagerNotifier(PagerConfig{MinSeverity: model.RiskCritical})
	require.Equal(t, "pager", n.Name())
	err := n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
}
