// Package telemetry provides anonymous usage analytics with graceful no-op
// behavior when disabled.
package telemetry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Properties are arbitrary event attributes.
type Properties map[string]interface{}

// Client records usage events. Implementations must be safe for concurrent
// use.
type Client interface {
	Track(event string, props Properties)
	Close()
}

// Noop discards every event. It is the client used when telemetry is
// disabled or unconfigured.
type Noop struct{}

func (Noop) Track(string, Properties) {}
func (Noop) Close()                   {}

// enqueuer is the slice of posthog.Client we use, extracted for tests.
type enqueuer interface {
	Enqueue(posthog.Message) error
	Close() error
}

// PostHogClient ships events to PostHog keyed by a random per-process
// distinct ID, so no install can be correlated across runs.
type PostHogClient struct {
	mu         sync.Mutex
	client     enqueuer
	distinctID string
	version    string
}

// NewPostHogClient builds a telemetry client. An empty API key yields Noop.
func NewPostHogClient(apiKey, version string) Client {
	if apiKey == "" {
		return Noop{}
	}
	ph, err := posthog.NewWithConfig(apiKey, posthog.Config{})
	if err != nil {
		return Noop{}
	}
	return &PostHogClient{
		client:     ph,
		distinctID: uuid.NewString(),
		version:    version,
	}
}

// Track enqueues one event. Delivery failures are ignored; analytics never
// affect the caller.
func (c *PostHogClient) Track(event string, props Properties) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return
	}

	phProps := posthog.NewProperties().Set("version", c.version)
	for k, v := range props {
		phProps.Set(k, v)
	}
	_ = c.client.Enqueue(posthog.Capture{
		DistinctId: c.distinctID,
		Event:      event,
		Properties: phProps,
	})
}

// Close flushes pending events and releases the client.
func (c *PostHogClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}
