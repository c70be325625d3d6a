// Package channels implements the Approval & Notification Bus's outbound
// channel adapters (spec §4.6 "broadcasts it across configured channels").
// Each adapter satisfies approval.Channel; the Bus's delivery queue is what
// supplies the bounded retry and circuit breaking, not the adapters
// themselves.
package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// EmailConfig configures the email channel adapter.
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	// MinSeverity is this channel's configured floor from
	// notifications.min_channel_severity.email.
	MinSeverity model.RiskLevel
}

// EmailNotifier sends admin notifications via SMTP.
type EmailNotifier struct {
	config EmailConfig
}

// NewEmailNotifier creates an email channel adapter.
func NewEmailNotifier(config EmailConfig) *EmailNotifier {
	return &EmailNotifier{config: config}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) MinSeverity() model.RiskLevel { return e.config.MinSeverity }

// Send delivers n over SMTP. Errors here are handled entirely by the
// Bus's delivery queue; Send itself never retries.
func (e *EmailNotifier) Send(ctx context.Context, n *model.Notification) error {
	if e.config.SMTPHost == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if e.config.From == "" {
		return fmt.Errorf("from address not configured")
	}
	if len(e.config.To) == 0 {
		return fmt.Errorf("no recipient addresses configured")
	}

	subject := e.buildSubject(n)
	body := e.buildBody(n)
	message := e.buildMessage(subject, body)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	var auth smtp.Auth
	if e.config.Username != "" && e.config.Password != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, e.config.From, e.config.To, []byte(message)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (e *EmailNotifier) buildSubject(n *model.Notification) string {
	prefix := ""
	switch n.RiskLevel {
	case model.RiskEmergency, model.RiskCritical:
		prefix = "[CRITICAL] "
	case model.RiskHigh:
		prefix = "[HIGH] "
	}
	return fmt.Sprintf("%sAgent Control Plane: %s", prefix, n.Title)
}

func (e *EmailNotifier) buildBody(n *model.Notification) string {
	var body strings.Builder
	body.WriteString("Agent Control Plane Notification\n")
	body.WriteString("=================================\n\n")
	fmt.Fprintf(&body, "Notification ID: %s\n", n.NotificationID)
	fmt.Fprintf(&body, "Risk level: %s\n", n.RiskLevel)
	if n.AgentID != "" {
		fmt.Fprintf(&body, "Agent: %s\n", n.AgentID)
	}
	fmt.Fprintf(&body, "System action taken: %s\n", n.SystemActionTaken)
	body.WriteString("\n")
	body.WriteString(n.Description)
	body.WriteString("\n")

	if len(n.RecommendedActions) > 0 {
		body.WriteString("\nRecommended actions:\n")
		for _, a := range n.RecommendedActions {
			fmt.Fprintf(&body, "  %d. %s — %s\n", a.Priority, a.Action, a.Description)
		}
	}
	return body.String()
}

func (e *EmailNotifier) buildMessage(subject, body string) string {
	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(e.config.To, ", "))
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
