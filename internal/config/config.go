// Package config loads the control plane's recognized configuration
// (spec §6 "Configuration") the way the teacher loads team configuration:
// a single YAML document with Go-side defaults, via gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized options from spec §6. Default
// returns one with every field set to a sane development value; a
// zero-value Config has none of those defaults applied.
type Config struct {
	AgentLifecycle AgentLifecycleConfig `yaml:"agent_lifecycle"`
	Surveillance   SurveillanceConfig   `yaml:"surveillance"`
	Thresholds     ThresholdsConfig     `yaml:"thresholds"`
	Score          ScoreConfig          `yaml:"score"`
	Approval       ApprovalConfig       `yaml:"approval"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Risk           RiskConfig           `yaml:"risk"`
	Server         ServerConfig         `yaml:"server"`
	EventBus       EventBusConfig       `yaml:"event_bus"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// ServerConfig configures the Façade's HTTP transport (spec §6's API
// surface).
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
}

// EventBusConfig selects how the control plane reaches its NATS event bus:
// an external URL, or an embedded in-process server for single-node
// deployments and local development.
type EventBusConfig struct {
	URL            string `yaml:"url"`
	Embedded       bool   `yaml:"embedded"`
	EmbeddedPort   int    `yaml:"embedded_port"`
}

// ObservabilityConfig configures the otel tracer provider and the
// Prometheus metrics endpoint.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"service_name"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	MetricsAddr   string `yaml:"metrics_addr"`
}

type AgentLifecycleConfig struct {
	AutoSuspendOnSecurityViolation bool `yaml:"auto_suspend_on_security_violation"`
	RequireAdminApprovalForDelete  bool `yaml:"require_admin_approval_for_delete"`
	MaxAgentsPerTenant             int  `yaml:"max_agents_per_tenant"`
}

type SurveillanceConfig struct {
	MonitoringIntervalSeconds int     `yaml:"monitoring_interval_seconds"`
	AnomalyThreshold          float64 `yaml:"anomaly_threshold"`
	MaxConcurrentAnalyses     int     `yaml:"max_concurrent_analyses"`
	EnableBehaviorAnalysis    bool    `yaml:"enable_behavior_analysis"`
	HeartbeatTimeoutSeconds   int     `yaml:"heartbeat_timeout_seconds"`
}

type ThresholdsConfig struct {
	CPU          float64 `yaml:"cpu"`
	Memory       float64 `yaml:"memory"`
	ResponseTime float64 `yaml:"response_time"`
	ErrorRate    float64 `yaml:"error_rate"`
}

type ScoreConfig struct {
	AutoSuspendBelow     int `yaml:"auto_suspend_below"`
	MandatoryFreezeBelow int `yaml:"mandatory_freeze_below"`
	WarningBelow         int `yaml:"warning_below"`
}

type ApprovalConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// RiskConfig bounds the Risk Classifier's recent-activity window, per spec
// §4.3's "recent activity rate (last N minutes)" input.
type RiskConfig struct {
	WindowSeconds       int `yaml:"window_seconds"`
	ErrorCountThreshold int `yaml:"error_count_threshold"`
	DataVolumeThreshold int `yaml:"data_volume_threshold"`
}

type NotificationsConfig struct {
	MinChannelSeverity MinChannelSeverity `yaml:"min_channel_severity"`
}

type MinChannelSeverity struct {
	Email string `yaml:"email"`
	Slack string `yaml:"slack"`
	Pager string `yaml:"pager"`
}

// Default returns the configuration with every default from spec §6
// applied.
func Default() *Config {
	return &Config{
		AgentLifecycle: AgentLifecycleConfig{
			AutoSuspendOnSecurityViolation: true,
			RequireAdminApprovalForDelete:  true,
			MaxAgentsPerTenant:             100,
		},
		Surveillance: SurveillanceConfig{
			MonitoringIntervalSeconds: 60,
			AnomalyThreshold:          0.7,
			MaxConcurrentAnalyses:     10,
			EnableBehaviorAnalysis:    false,
			HeartbeatTimeoutSeconds:   120,
		},
		Thresholds: ThresholdsConfig{
			CPU:          90,
			Memory:       90,
			ResponseTime: 30000,
			ErrorRate:    0.2,
		},
		Score: ScoreConfig{
			AutoSuspendBelow:     50,
			MandatoryFreezeBelow: 30,
			WarningBelow:         70,
		},
		Approval: ApprovalConfig{
			TTLSeconds: 86400,
		},
		Risk: RiskConfig{
			WindowSeconds:       300,
			ErrorCountThreshold: 5,
			DataVolumeThreshold: 10 * 1024 * 1024,
		},
		Notifications: NotificationsConfig{
			MinChannelSeverity: MinChannelSeverity{
				Email: "high",
				Slack: "medium",
				Pager: "critical",
			},
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			DBPath:     "acp.db",
		},
		EventBus: EventBusConfig{
			Embedded:     true,
			EmbeddedPort: 4222,
		},
		Observability: ObservabilityConfig{
			ServiceName: "agent-control-plane",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads a YAML configuration file, applying it on top of Default() so
// a partial file only overrides what it specifies.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
