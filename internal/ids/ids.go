// Package ids provides the clock and identity primitives shared by every
// control-plane component: monotonic-ish timestamps, opaque unique IDs, and
// correlation-id propagation for idempotency across retries.
package ids

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so lifecycle and surveillance logic can be tested
// without sleeping. Production code uses realClock; tests supply a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// New returns the production clock.
func New() Clock { return realClock{} }

// FakeClock is a settable Clock for deterministic tests.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{t: t} }

// Now returns the fake clock's current time.
func (f *FakeClock) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Set pins the fake clock to t.
func (f *FakeClock) Set(t time.Time) { f.t = t }

// NewID generates an opaque unique identifier for any entity in the data
// model (agent, activity, notification, freeze record, approval request).
func NewID() string {
	return uuid.New().String()
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id to ctx, generating one if id
// is empty so every request path has one by the time it reaches the Audit
// Store.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, generating one
// on the fly if the caller never attached one.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok && v != "" {
		return v
	}
	return NewID()
}
