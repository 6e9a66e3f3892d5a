package sink

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/burrowhq/burrow/cfg"
	"github.com/burrowhq/burrow/forward"
)

func init() {
	forward.RegisterSink("nats", func(config cfg.ForwardConfiguration) (forward.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink is a full-duplex sink on core NATS pub/sub. Envelopes are
// ephemeral wakeup hints, so at-most-once delivery is enough; the cache
// poll loop covers anything lost while disconnected.
type NatsSink struct {
	nc *nats.Conn
}

func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsSink{nc: nc}, nil
}

// Publish sends an envelope. The key rides in a header for observability;
// routing is by subject only.
func (n *NatsSink) Publish(subject, key string, value []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every envelope on the subject to the handler.
func (n *NatsSink) Subscribe(subject string, handler func(value []byte)) (func(), error) {
	sub, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() {
		_ = sub.Unsubscribe()
	}, nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

var _ forward.Subscriber = (*NatsSink)(nil)
