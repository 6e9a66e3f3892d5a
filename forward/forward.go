// Package forward bridges change messages between processes through a
// message broker so remote caches learn of releases before their next poll.
// Forwarding is best-effort: lost or duplicated envelopes are absorbed by
// the cache's gap logic, and the DB poll loop remains the guarantee.
package forward

import (
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/telemetry"
)

// Sink publishes envelopes to a broker subject.
type Sink interface {
	Publish(subject, key string, value []byte) error
	Close() error
}

// Subscriber is implemented by sinks that can also receive. Publish-only
// sinks (Kafka) skip the receive side; their consumers are external.
type Subscriber interface {
	Subscribe(subject string, handler func(value []byte)) (func(), error)
}

// Envelope is the wire form of a forwarded change message.
type Envelope struct {
	ID        int64  `msgpack:"id"`
	Content   string `msgpack:"content"`
	CreatedAt int64  `msgpack:"createdAt"`
	Origin    string `msgpack:"origin"`
}

// Receiver accepts forwarded messages on the receiving side. Implemented
// by message.Cache.
type Receiver interface {
	HandleMessage(msg *model.ReleaseMessage, channel string)
}

// Forwarder listens to locally sent messages and publishes them to the
// sink; when the sink can subscribe, it also feeds remote envelopes into
// the local receiver.
type Forwarder struct {
	sink     Sink
	subject  string
	origin   string
	receiver Receiver

	unsubscribe func()
}

var _ message.Listener = (*Forwarder)(nil)

func NewForwarder(sink Sink, subject, origin string, receiver Receiver) *Forwarder {
	return &Forwarder{sink: sink, subject: subject, origin: origin, receiver: receiver}
}

// Start begins receiving when the sink supports it.
func (f *Forwarder) Start() error {
	sub, ok := f.sink.(Subscriber)
	if !ok {
		return nil
	}
	unsubscribe, err := sub.Subscribe(f.subject, f.receive)
	if err != nil {
		return err
	}
	f.unsubscribe = unsubscribe
	return nil
}

func (f *Forwarder) Stop() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
	if err := f.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close forward sink")
	}
}

// HandleMessage publishes a locally appended message to the broker.
func (f *Forwarder) HandleMessage(msg *model.ReleaseMessage, channel string) {
	if channel != message.TopicReleases || msg == nil {
		return
	}
	env := Envelope{
		ID:        msg.ID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UnixMilli(),
		Origin:    f.origin,
	}
	raw, err := msgpack.Marshal(env)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode forward envelope")
		return
	}
	if err := f.sink.Publish(f.subject, msg.Content, raw); err != nil {
		telemetry.ForwardPublishTotal.With("error").Inc()
		log.Warn().Err(err).Str("content", msg.Content).Msg("Failed to forward change message")
		return
	}
	telemetry.ForwardPublishTotal.With("ok").Inc()
}

func (f *Forwarder) receive(value []byte) {
	var env Envelope
	if err := msgpack.Unmarshal(value, &env); err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable forward envelope")
		return
	}
	// Our own envelopes already reached the cache through the local
	// listener path.
	if env.Origin == f.origin {
		return
	}
	f.receiver.HandleMessage(&model.ReleaseMessage{ID: env.ID, Content: env.Content}, message.TopicReleases)
}
