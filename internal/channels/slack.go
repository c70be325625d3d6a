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

// SlackConfig configures the Slack webhook channel adapter.
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	MinSeverity model.RiskLevel
}

// SlackNotifier posts admin notifications to a Slack incoming webhook.
type SlackNotifier struct {
	config SlackConfig
	client *http.Client
}

// NewSlackNotifier creates a Slack channel adapter.
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) MinSeverity() model.RiskLevel { return s.config.MinSeverity }

func (s *SlackNotifier) Send(ctx context.Context, n *model.Notification) error {
	if s.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	color := "good"
	switch n.RiskLevel {
	case model.RiskEmergency, model.RiskCritical:
		color = "danger"
	case model.RiskHigh, model.RiskMedium:
		color = "warning"
	}

	fields := []map[string]interface{}{
		{"title": "Risk level", "value": string(n.RiskLevel), "short": true},
		{"title": "System action", "value": string(n.SystemActionTaken), "short": true},
	}
	if n.AgentID != "" {
		fields = append(fields, map[string]interface{}{"title": "Agent", "value": n.AgentID, "short": true})
	}
	for _, a := range n.RecommendedActions {
		fields = append(fields, map[string]interface{}{
			"title": fmt.Sprintf("Recommended (%d)", a.Priority),
			"value": a.Action + ": " + a.Description,
			"short": false,
		})
	}

	payload := map[string]interface{}{
		"text": n.Title,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  n.Description,
				"fields": fields,
				"ts":     n.CreatedAt.Unix(),
			},
		},
	}
	if s.config.Channel != "" {
		payload["channel"] = s.config.Channel
	}
	if s.config.Username != "" {
		payload["username"] = s.config.Username
	}
	if s.config.IconEmoji != "" {
		payload["icon_emoji"] = s.config.IconEmoji
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
