package forward

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/burrowhq/burrow/cfg"
	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/model"
)

// loopbackSink keeps published envelopes in memory and replays them to its
// subscriber, standing in for a broker in tests.
type loopbackSink struct {
	mu        sync.Mutex
	published [][]byte
	keys      []string
	handler   func([]byte)
	closed    bool
	failNext  error
}

var _ Sink = (*loopbackSink)(nil)
var _ Subscriber = (*loopbackSink)(nil)

func (s *loopbackSink) Publish(subject, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.published = append(s.published, value)
	s.keys = append(s.keys, key)
	if s.handler != nil {
		s.handler(value)
	}
	return nil
}

func (s *loopbackSink) Subscribe(subject string, handler func(value []byte)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handler = nil
	}, nil
}

func (s *loopbackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type captureReceiver struct {
	mu   sync.Mutex
	msgs []*model.ReleaseMessage
}

func (r *captureReceiver) HandleMessage(msg *model.ReleaseMessage, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *captureReceiver) received() []*model.ReleaseMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ReleaseMessage(nil), r.msgs...)
}

func TestForwarderPublishesEnvelope(t *testing.T) {
	sink := &loopbackSink{}
	fwd := NewForwarder(sink, "burrow.releases", "node-a", &captureReceiver{})

	created := time.Now().UTC()
	fwd.HandleMessage(&model.ReleaseMessage{ID: 7, Content: "app+default+application", CreatedAt: created}, message.TopicReleases)

	require.Len(t, sink.published, 1)
	assert.Equal(t, "app+default+application", sink.keys[0])

	var env Envelope
	require.NoError(t, msgpack.Unmarshal(sink.published[0], &env))
	assert.Equal(t, int64(7), env.ID)
	assert.Equal(t, "app+default+application", env.Content)
	assert.Equal(t, created.UnixMilli(), env.CreatedAt)
	assert.Equal(t, "node-a", env.Origin)
}

func TestForwarderIgnoresOtherChannels(t *testing.T) {
	sink := &loopbackSink{}
	fwd := NewForwarder(sink, "burrow.releases", "node-a", nil)

	fwd.HandleMessage(&model.ReleaseMessage{ID: 1, Content: "x"}, "items")
	fwd.HandleMessage(nil, message.TopicReleases)

	assert.Empty(t, sink.published)
}

func TestForwarderPublishErrorIsSwallowed(t *testing.T) {
	sink := &loopbackSink{failNext: errors.New("broker down")}
	fwd := NewForwarder(sink, "burrow.releases", "node-a", nil)

	// Forwarding is best-effort; a broker failure must not panic or block.
	fwd.HandleMessage(&model.ReleaseMessage{ID: 1, Content: "x"}, message.TopicReleases)
	assert.Empty(t, sink.published)
}

func TestForwarderReceivesRemoteEnvelopes(t *testing.T) {
	sink := &loopbackSink{}
	receiver := &captureReceiver{}

	local := NewForwarder(sink, "burrow.releases", "node-a", receiver)
	require.NoError(t, local.Start())

	// A remote node publishes through the same broker.
	remote := NewForwarder(sink, "burrow.releases", "node-b", nil)
	remote.HandleMessage(&model.ReleaseMessage{ID: 42, Content: "app+default+db", CreatedAt: time.Now()}, message.TopicReleases)

	got := receiver.received()
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].ID)
	assert.Equal(t, "app+default+db", got[0].Content)

	// Our own publishes loop back through the broker but are skipped; the
	// local listener path already delivered them.
	local.HandleMessage(&model.ReleaseMessage{ID: 43, Content: "app+default+db", CreatedAt: time.Now()}, message.TopicReleases)
	assert.Len(t, receiver.received(), 1)

	local.Stop()
	assert.True(t, sink.closed)
}

func TestCreateSinkUnknownType(t *testing.T) {
	_, err := CreateSink(cfg.ForwardConfiguration{Sink: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown forward sink type")
}

func TestRegisterSink(t *testing.T) {
	RegisterSink("loopback", func(cfg.ForwardConfiguration) (Sink, error) {
		return &loopbackSink{}, nil
	})
	sink, err := CreateSink(cfg.ForwardConfiguration{Sink: "loopback"})
	require.NoError(t, err)
	assert.NotNil(t, sink)
}
