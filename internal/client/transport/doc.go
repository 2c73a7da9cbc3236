// Package transport connects the chat client to the realtime message bus.
//
// The package has three layers:
//
//   - Wire format. WireEvent is the JSON shape exchanged with the bus. Decode
//     turns it into an Event whose Payload is one of TextPayload,
//     FileChunkPayload, FileLinkPayload or OtherPayload. Nothing downstream
//     looks at raw event data again.
//
//   - Buses. A Bus is one physical connection: WebsocketBus talks to a
//     gateway over gorilla/websocket, KafkaBus reads and writes a Kafka topic
//     keyed by channel, MemoryBus connects clients of an in-process Broker.
//     Buses know nothing about subscribers; they attach, detach, publish and
//     hand inbound events to a Sink.
//
//   - Hub. The process-wide Hub owns one Bus and reference-counts channel
//     subscriptions on top of it. The bus attaches a channel on the first
//     Subscribe and detaches it when the last Subscription is released.
//     Release is idempotent and no handler runs for a subscription after
//     Release has returned.
//
// Deliveries for one channel are dispatched sequentially in bus order, which
// preserves each publisher's send order.
package transport
