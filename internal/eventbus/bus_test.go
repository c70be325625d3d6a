package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestBus(t *testing.T) *Bus {
	t.Helper()
	embedded, err := StartEmbedded(EmbeddedConfig{Port: -1, DataDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(embedded.Shutdown)

	bus, err := Connect(embedded.URL(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := startTestBus(t)

	received := make(chan map[string]interface{}, 1)
	_, err := bus.Subscribe("agents.registered", "test-consumer", func(data []byte) error {
		var payload map[string]interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		received <- payload
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), "agents.registered", map[string]interface{}{"agent_id": "agent-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Flush())

	select {
	case payload := <-received:
		require.Equal(t, "agent-1", payload["agent_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishCycleCompletedSubjectSucceeds(t *testing.T) {
	bus := startTestBus(t)
	err := bus.Publish(context.Background(), "surveillance.cycle_completed", map[string]interface{}{"agents_scanned": 3})
	require.NoError(t, err)
}
