package eventbus

import (
	nc "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// controlPlaneStream durably retains every event-bus subject this repo
// publishes, so a consumer that was down when an event fired still
// receives it on reconnect — the teacher's StreamManager sets up its CHAT/
// PRESENCE/COMMANDS streams the same way, one stream per subject family.
const controlPlaneStream = "CONTROL_PLANE"

var controlPlaneSubjects = []string{
	"agents.>",
	"notifications.>",
	"approvals.>",
	"surveillance.>",
	"activity.>",
}

// ensureStream creates or updates the CONTROL_PLANE stream, following the
// teacher's create-or-update pattern for JetStream streams.
func (b *Bus) ensureStream() error {
	cfg := &nc.StreamConfig{
		Name:        controlPlaneStream,
		Description: "Agent control plane event bus subjects",
		Subjects:    controlPlaneSubjects,
		Storage:     nc.FileStorage,
		Retention:   nc.LimitsPolicy,
	}

	if _, err := b.js.StreamInfo(controlPlaneStream); err != nil {
		if err == nc.ErrStreamNotFound {
			b.log.Info("creating event bus stream", zap.String("stream", controlPlaneStream))
			_, err := b.js.AddStream(cfg)
			return err
		}
		return err
	}

	_, err := b.js.UpdateStream(cfg)
	return err
}
