// Command acp-server runs the Agent Control Plane: the Façade and its four
// subsystems, the Surveillance Engine's periodic cycle, the Approval
// Bus's expiry sweeper, and the §6 HTTP API boundary. Flag and
// signal-handling conventions follow the teacher's cmd/cliaimonitor/main.go
// (flag.Parse up front, signal.NotifyContext for graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/approval"
	"github.com/SUPREMEAGENTMANAGER/internal/audit"
	"github.com/SUPREMEAGENTMANAGER/internal/capability"
	"github.com/SUPREMEAGENTMANAGER/internal/channels"
	"github.com/SUPREMEAGENTMANAGER/internal/config"
	"github.com/SUPREMEAGENTMANAGER/internal/eventbus"
	"github.com/SUPREMEAGENTMANAGER/internal/facade"
	"github.com/SUPREMEAGENTMANAGER/internal/freeze"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/lifecycle"
	"github.com/SUPREMEAGENTMANAGER/internal/metrics"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
	"github.com/SUPREMEAGENTMANAGER/internal/surveillance"
	"github.com/SUPREMEAGENTMANAGER/internal/telemetry"
	"github.com/SUPREMEAGENTMANAGER/internal/transport/httpapi"
)

func main() {
	configPath := flag.String("config", "configs/acp.yaml", "control plane configuration file")
	dbPath := flag.String("db", "", "override the configured SQLite database path")
	listenAddr := flag.String("listen", "", "override the configured HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Enabled:     cfg.Observability.OTLPEndpoint != "",
	})
	if err != nil {
		log.Fatal("failed to start tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	db, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	clock := ids.New()
	caps := capability.NewRegistry(capability.Baseline)
	auditLog := audit.New(db)

	var cache *redis.Client
	if addr := os.Getenv("ACP_REDIS_ADDR"); addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: addr})
	}
	freezeRegistry := freeze.New(db, cache, clock)

	lifecycleMgr := lifecycle.New(db, freezeRegistry, caps, cfg, clock, log.Named("lifecycle"))

	bus := approval.New(db, clock, configuredChannels(cfg), log.Named("approval"))
	lifecycleMgr.SetNotifier(bus)

	var publisher *eventbus.Bus
	var embedded *eventbus.Embedded
	if cfg.EventBus.Embedded {
		embedded, err = eventbus.StartEmbedded(eventbus.EmbeddedConfig{
			Port:    cfg.EventBus.EmbeddedPort,
			DataDir: os.TempDir() + "/acp-eventbus",
		}, log.Named("eventbus"))
		if err != nil {
			log.Fatal("failed to start embedded event bus", zap.Error(err))
		}
		defer embedded.Shutdown()
		publisher, err = eventbus.Connect(embedded.URL(), log.Named("eventbus"))
	} else if cfg.EventBus.URL != "" {
		publisher, err = eventbus.Connect(cfg.EventBus.URL, log.Named("eventbus"))
	}
	if err != nil {
		log.Fatal("failed to connect to event bus", zap.Error(err))
	}
	if publisher != nil {
		defer publisher.Close()
		bus.SetPublisher(publisher)
	}

	metricsCollector := metrics.New()

	// publisher is a typed *eventbus.Bus that may be a nil pointer; assign
	// it into the narrower interface types only when non-nil; passing a
	// nil *eventbus.Bus straight through would produce a non-nil interface
	// wrapping a nil pointer, which the facade/surveillance nil checks
	// would not catch.
	var facadePublisher facade.Publisher
	var survPublisher surveillance.Publisher
	if publisher != nil {
		facadePublisher = publisher
		survPublisher = publisher
	}

	f := facade.New(lifecycleMgr, auditLog, freezeRegistry, bus, cfg, clock, log.Named("facade"), facadePublisher)
	f.SetMetrics(metricsCollector)

	engine := surveillance.New(lifecycleMgr, auditLog, freezeRegistry, bus, cfg, clock, log.Named("surveillance"), nil, survPublisher)
	engine.SetMetrics(metricsCollector)

	server := httpapi.New(f, metricsCollector, log.Named("httpapi"), cfg.Server.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	go runSurveillanceLeader(ctx, db, clock, engine, log.Named("surveillance.leader"))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("http api stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("error during http api shutdown", zap.Error(err))
	}
}

const (
	surveillanceLockName = "surveillance-engine"
	surveillanceLockTTL  = 30 * time.Second
)

// runSurveillanceLeader holds the control_plane_lock advisory lease before
// running the Surveillance Engine's cycle loop, so that a deployment with
// more than one acp-server process still has only one active scan loop
// (spec §4.5, §9 "no module-level globals/singletons" -- leadership is
// data, not process state). It blocks retrying acquisition until ctx is
// cancelled or it wins the lease, renews on a ticker while running, and
// steps down as soon as a renewal reports the lease lost; a renewal that
// errors is logged and tried again on the next tick.
func runSurveillanceLeader(ctx context.Context, db *store.DB, clock ids.Clock, engine *surveillance.Engine, log *zap.Logger) {
	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = ids.NewID()
	}
	holder = fmt.Sprintf("%s-%d", holder, os.Getpid())

	retry := time.NewTicker(surveillanceLockTTL / 3)
	defer retry.Stop()

	for {
		acquired, err := db.AcquireLock(surveillanceLockName, holder, surveillanceLockTTL, clock.Now())
		if err != nil {
			log.Warn("surveillance lock acquire failed", zap.Error(err))
		} else if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}
	}
	log.Info("acquired surveillance leadership", zap.String("holder", holder))
	defer func() {
		if err := db.ReleaseLock(surveillanceLockName, holder); err != nil {
			log.Warn("failed to release surveillance lock", zap.Error(err))
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	renew := time.NewTicker(surveillanceLockTTL / 3)
	defer renew.Stop()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-renew.C:
				ok, err := db.RenewLock(surveillanceLockName, holder, surveillanceLockTTL, clock.Now())
				if err != nil {
					log.Warn("surveillance lock renew failed", zap.Error(err))
					continue
				}
				if !ok {
					log.Warn("lost surveillance leadership, stepping down")
					cancelRun()
					return
				}
			}
		}
	}()

	if err := engine.Run(runCtx); err != nil && err != context.Canceled {
		log.Warn("surveillance engine stopped", zap.Error(err))
	}
}

// configuredChannels builds whichever notification channel adapters have
// credentials in the environment; a deployment with none configured still
// runs, it just has no outbound delivery beyond the persisted queue.
func configuredChannels(cfg *config.Config) []approval.Channel {
	var chs []approval.Channel
	if webhook := os.Getenv("ACP_SLACK_WEBHOOK_URL"); webhook != "" {
		chs = append(chs, channels.NewSlackNotifier(channels.SlackConfig{
			WebhookURL:  webhook,
			Channel:     os.Getenv("ACP_SLACK_CHANNEL"),
			Username:    "acp",
			MinSeverity: model.RiskLevel(cfg.Notifications.MinChannelSeverity.Slack),
		}))
	}
	if routingKey := os.Getenv("ACP_PAGERDUTY_ROUTING_KEY"); routingKey != "" {
		chs = append(chs, channels.NewPagerNotifier(channels.PagerConfig{
			RoutingKey:  routingKey,
			MinSeverity: model.RiskLevel(cfg.Notifications.MinChannelSeverity.Pager),
		}))
	}
	if smtpHost := os.Getenv("ACP_SMTP_HOST"); smtpHost != "" {
		chs = append(chs, channels.NewEmailNotifier(channels.EmailConfig{
			SMTPHost:    smtpHost,
			From:        os.Getenv("ACP_SMTP_FROM"),
			To:          []string{os.Getenv("ACP_SMTP_TO")},
			MinSeverity: model.RiskLevel(cfg.Notifications.MinChannelSeverity.Email),
		}))
	}
	return chs
}
