package approval

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/model"
)

// maxDeliveryAttempts bounds the retry queue's per-notification attempts
// before a channel delivery is given up on and logged, never returned to
// the caller: spec §4.6 requires Notify to never block on channel delivery.
const maxDeliveryAttempts = 3

// deliveryQueue fans a Notification out to every configured Channel on its
// own goroutine, each wrapped in a circuit breaker so a dead webhook fails
// fast instead of retry-storming (mirrors the router.Route fire-and-forget
// pattern, but per-channel breakered and retried instead of best-effort).
type deliveryQueue struct {
	channels []Channel
	breakers map[string]*gobreaker.CircuitBreaker
	log      *zap.Logger
	work     chan *model.Notification
	done     chan struct{}
}

func newDeliveryQueue(channels []Channel, log *zap.Logger) *deliveryQueue {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(channels))
	for _, ch := range channels {
		name := ch.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify:" + name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	q := &deliveryQueue{
		channels: channels,
		breakers: breakers,
		log:      log,
		work:     make(chan *model.Notification, 256),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue hands n to the background worker without blocking the caller of
// Notify, per spec §4.6's "never blocks the caller on channel delivery".
func (q *deliveryQueue) enqueue(n *model.Notification) {
	select {
	case q.work <- n:
	default:
		q.log.Warn("notification delivery queue full, dropping background delivery attempt",
			zap.String("notification_id", n.NotificationID))
	}
}

func (q *deliveryQueue) run() {
	for {
		select {
		case n := <-q.work:
			q.deliver(n)
		case <-q.done:
			return
		}
	}
}

func (q *deliveryQueue) deliver(n *model.Notification) {
	for _, ch := range q.channels {
		if !n.RiskLevel.AtLeast(ch.MinSeverity()) {
			continue
		}
		q.deliverToChannel(ch, n)
	}
}

func (q *deliveryQueue) deliverToChannel(ch Channel, n *model.Notification) {
	breaker := q.breakers[ch.Name()]
	var lastErr error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, ch.Send(ctx, n)
		})
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			break // breaker is open; further attempts would just fail immediately
		}
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}
	q.log.Warn("notification delivery exhausted retries",
		zap.String("channel", ch.Name()),
		zap.String("notification_id", n.NotificationID),
		zap.Error(lastErr))
}

func (q *deliveryQueue) close() {
	close(q.done)
}
