package transport

import "context"

// Sink receives what a Bus reads from the network.
type Sink interface {
	Deliver(ev WireEvent)
	// Reconnected is called after the bus re-established a dropped
	// connection and re-attached its channels. Events published during the
	// gap may be missing.
	Reconnected()
}

// Bus is one connection to the message bus.
type Bus interface {
	Start(ctx context.Context, sink Sink) error
	Attach(ctx context.Context, channel string) error
	Detach(ctx context.Context, channel string) error
	Publish(ctx context.Context, ev WireEvent) error
	Close() error
}
