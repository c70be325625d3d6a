package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedConfig configures an in-process NATS server, used in tests and
// single-node deployments that don't want an external broker — adapted
// from the teacher's EmbeddedServer, trimmed to what the event bus needs
// (JetStream always on, since every subject here is durable).
type EmbeddedConfig struct {
	Port    int    // 0 uses the NATS default port (4222); -1 picks a random free port
	DataDir string // JetStream storage directory
}

// Embedded wraps an in-process *server.Server.
type Embedded struct {
	srv     *server.Server
	mu      sync.Mutex
	running bool
}

// StartEmbedded launches an in-process NATS server with JetStream enabled
// and blocks until it is ready for connections.
func StartEmbedded(cfg EmbeddedConfig, log *zap.Logger) (*Embedded, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("eventbus: embedded server requires a DataDir for JetStream storage")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
		JetStream:  true,
		StoreDir:   cfg.DataDir,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded event bus server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("embedded event bus server not ready for connections")
	}

	log.Info("embedded event bus server started", zap.String("url", ns.ClientURL()))
	return &Embedded{srv: ns, running: true}, nil
}

// URL returns the client connection URL.
func (e *Embedded) URL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the embedded server.
func (e *Embedded) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
}
