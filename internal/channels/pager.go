package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerConfig configures the PagerDuty Events API v2 channel adapter, the
// "pager" channel named in spec §6's notifications.min_channel_severity.
type PagerConfig struct {
	RoutingKey  string
	MinSeverity model.RiskLevel
}

// PagerNotifier triggers a PagerDuty incident for admin notifications at
// or above its configured severity floor — intended for Critical/Emergency
// risk levels only, per the spec's default pager floor.
type PagerNotifier struct {
	config PagerConfig
	client *http.Client
}

// NewPagerNotifier creates a PagerDuty channel adapter.
func NewPagerNotifier(config PagerConfig) *PagerNotifier {
	return &PagerNotifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *PagerNotifier) Name() string { return "pager" }

func (p *PagerNotifier) MinSeverity() model.RiskLevel { return p.config.MinSeverity }

func (p *PagerNotifier) Send(ctx context.Context, n *model.Notification) error {
	if p.config.RoutingKey == "" {
		return fmt.Errorf("pagerduty routing key not configured")
	}

	severity := "warning"
	switch n.RiskLevel {
	case model.RiskEmergency, model.RiskCritical:
		severity = "critical"
	case model.RiskHigh:
		severity = "error"
	}

	payload := map[string]interface{}{
		"routing_key":  p.config.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    n.NotificationID,
		"payload": map[string]interface{}{
			"summary":   n.Title,
			"source":    "agent-control-plane",
			"severity":  severity,
			"timestamp": n.CreatedAt.Format(time.RFC3339),
			"custom_details": map[string]interface{}{
				"description":         n.Description,
				"agent_id":            n.AgentID,
				"system_action_taken": n.SystemActionTaken,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pagerduty payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pagerDutyEventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send pagerduty event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pagerduty events api returned status %d", resp.StatusCode)
	}
	return nil
}
