package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSubjectPrefix = "murmur.deliver"
	subscribeFlushWait   = 2 * time.Second
)

var tracer = otel.Tracer("murmur/fanout")

// NATSBus delivers over core NATS subjects, one per user. Every process
// holding a connection for the user subscribes to that user's subject, so a
// publish from any process reaches all of them.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSBus creates a bus on an established connection. The connection is
// owned by the caller.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc, prefix: defaultSubjectPrefix}
}

func (b *NATSBus) subject(userID int64) string {
	return fmt.Sprintf("%s.%d", b.prefix, userID)
}

// Publish sends payload to every subscriber of userID with trace context in
// the message headers.
func (b *NATSBus) Publish(ctx context.Context, userID int64, payload []byte) error {
	subject := b.subject(userID)
	ctx, span := tracer.Start(ctx, subject+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", subject),
			attribute.Int("messaging.message.payload_size_bytes", len(payload)),
		),
	)
	defer span.End()

	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  injectContext(ctx),
	}
	if err := b.nc.PublishMsg(msg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Subscribe registers handler for userID. It waits for the server to
// acknowledge the subscription so a publish issued right after Join is seen.
func (b *NATSBus) Subscribe(userID int64, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject(userID), func(msg *nats.Msg) {
		ctx, span := startConsumerSpan(context.Background(), msg, "deliver")
		defer span.End()
		handler(ctx, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	if err := b.nc.FlushTimeout(subscribeFlushWait); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// Close flushes publishes still buffered on the connection and waits for the
// server to receive them. It does not unsubscribe or wait for inbound
// deliveries; the connection itself stays open.
func (b *NATSBus) Close() error {
	return b.nc.Flush()
}

// natsHeaderCarrier adapts nats.Header to propagation.TextMapCarrier.
type natsHeaderCarrier struct {
	header nats.Header
}

func (c natsHeaderCarrier) Get(key string) string {
	return c.header.Get(key)
}

func (c natsHeaderCarrier) Set(key, value string) {
	c.header.Set(key, value)
}

func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.header))
	for k := range c.header {
		keys = append(keys, k)
	}
	return keys
}

func injectContext(ctx context.Context) nats.Header {
	h := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier{header: h})
	return h
}

func startConsumerSpan(ctx context.Context, msg *nats.Msg, operation string) (context.Context, trace.Span) {
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, natsHeaderCarrier{header: msg.Header})
	}
	return tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", msg.Subject),
			attribute.Int("messaging.message.payload_size_bytes", len(msg.Data)),
		),
	)
}
