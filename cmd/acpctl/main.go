// Command acpctl is the operator's terminal-side companion to acp-server:
// a thin HTTP client over the §6 admin API. Flag conventions follow the
// teacher's cmd/cliaimonitor/main.go (flag.Parse up front, one subcommand
// selected by a positional argument).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/notifications"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "acp-server base URL")
	tenant := flag.String("tenant", "", "tenant id to scope requests to")
	interval := flag.Duration("interval", 15*time.Second, "poll interval for the watch subcommand")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: acpctl [-addr url] [-tenant id] <watch|notifications>")
		os.Exit(2)
	}

	client := &apiClient{base: *addr, http: &http.Client{Timeout: 10 * time.Second}}

	switch args[0] {
	case "watch":
		runWatch(client, *tenant, *interval)
	case "notifications":
		runNotifications(client, *tenant)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		os.Exit(2)
	}
}

// runWatch polls the admin API for pending notifications and surfaces
// High+ risk ones through every local alert channel the operator's
// terminal supports, the desktop-side counterpart to the admin
// dashboard's live WebSocket feed.
func runWatch(client *apiClient, tenant string, interval time.Duration) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := notifications.NewDefaultManager()
	watcher := notifications.NewWatcher(client, mgr, tenant)

	fmt.Printf("watching %s for tenant %q (interval %s); press Ctrl+C to stop\n", client.base, tenant, interval)
	if err := watcher.Run(ctx, interval); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "watch stopped: %v\n", err)
		os.Exit(1)
	}
}

// runNotifications prints the tenant's current pending notifications once
// and exits, for scripting or a quick look without leaving a poller running.
func runNotifications(client *apiClient, tenant string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifs, err := client.ListPendingNotifications(ctx, tenant, 200)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list notifications: %v\n", err)
		os.Exit(1)
	}
	if len(notifs) == 0 {
		fmt.Println("no pending notifications")
		return
	}
	for _, n := range notifs {
		fmt.Printf("[%s] %-8s %s (%s)\n", n.CreatedAt.Format(time.RFC3339), n.RiskLevel, n.Title, n.NotificationID)
	}
}

// apiClient is a minimal wrapper over acp-server's §6 admin API. It
// satisfies notifications.PendingLister so the watch subcommand can reuse
// the Watcher/Manager pair unchanged.
type apiClient struct {
	base string
	http *http.Client
}

// ListPendingNotifications implements notifications.PendingLister.
func (c *apiClient) ListPendingNotifications(ctx context.Context, tenantID string, limit int) ([]*model.Notification, error) {
	url := fmt.Sprintf("%s/admin/notifications?tenant_id=%s&limit=%d", c.base, tenantID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("acp-server returned %s", resp.Status)
	}

	var notifs []*model.Notification
	if err := json.NewDecoder(resp.Body).Decode(&notifs); err != nil {
		return nil, fmt.Errorf("decoding notifications: %w", err)
	}
	return notifs, nil
}
