// Package message implements the durable change-message log: the sender
// that appends rows and compacts duplicates, and the per-process cache that
// tracks the latest row per watch key.
package message

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/model"
	"github.com/burrowhq/burrow/store"
	"github.com/burrowhq/burrow/telemetry"
)

// TopicReleases is the only recognized message channel. Sends on any other
// channel are dropped with a warning, which keeps the log forward
// compatible with future channels without schema changes.
const TopicReleases = "releases"

// Listener observes successfully appended messages in-process. The cache
// uses it as its push path; the forwarder uses it to fan out to remote
// processes.
type Listener interface {
	HandleMessage(msg *model.ReleaseMessage, channel string)
}

// SenderOptions tune the compactor. Zero values pick the defaults.
type SenderOptions struct {
	QueueSize      int
	CleanBatchSize int
	PollWait       time.Duration
	IdleSleep      time.Duration
}

func (o SenderOptions) withDefaults() SenderOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.CleanBatchSize <= 0 {
		o.CleanBatchSize = 100
	}
	if o.PollWait <= 0 {
		o.PollWait = time.Second
	}
	if o.IdleSleep <= 0 {
		o.IdleSleep = 5 * time.Second
	}
	return o
}

// Sender appends change messages and runs the background compactor that
// trims older duplicate-content rows. Compaction is advisory: a full queue
// drops the candidate silently and correctness is unaffected, because
// readers only care about the max id per content.
type Sender struct {
	store     store.Store
	opts      SenderOptions
	listeners []Listener

	cleanCh chan int64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSender(st store.Store, opts SenderOptions) *Sender {
	opts = opts.withDefaults()
	return &Sender{
		store:   st,
		opts:    opts,
		cleanCh: make(chan int64, opts.QueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// AddListener registers an in-process observer. Not safe to call after
// Start; listeners are fixed at wiring time.
func (s *Sender) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Send appends one change message. The append is its own transaction and
// its failure propagates; enqueueing for compaction and notifying listeners
// only happen after a successful append.
func (s *Sender) Send(ctx context.Context, content, channel string) error {
	if channel != TopicReleases {
		log.Warn().Str("channel", channel).Str("content", content).Msg("Dropping message on unrecognized channel")
		return nil
	}
	if content == "" {
		log.Warn().Msg("Dropping message with empty content")
		return nil
	}

	m := &model.ReleaseMessage{Content: content}
	if err := s.store.Messages().Save(ctx, m); err != nil {
		telemetry.MessageSendFailuresTotal.Inc()
		return fmt.Errorf("failed to append change message: %w", err)
	}
	telemetry.MessagesSentTotal.Inc()

	select {
	case s.cleanCh <- m.ID:
	default:
		telemetry.MessageCleanQueueDropsTotal.Inc()
	}

	for _, l := range s.listeners {
		l.HandleMessage(m, channel)
	}
	return nil
}

func (s *Sender) Start() {
	go s.cleanLoop()
}

func (s *Sender) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sender) cleanLoop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case id := <-s.cleanCh:
			s.clean(id)
		case <-time.After(s.opts.PollWait):
			// Nothing queued; back off before polling again.
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.opts.IdleSleep):
			}
		}
	}
}

// clean deletes older rows sharing the candidate's content, in batches,
// until a short batch shows none remain. The candidate row is re-fetched
// first: it vanishes when the enclosing release transaction rolled back.
func (s *Sender) clean(id int64) {
	ctx := context.Background()
	m, err := s.store.Messages().FindByID(ctx, id)
	if err != nil {
		log.Warn().Err(err).Int64("message_id", id).Msg("Failed to load compaction candidate")
		return
	}
	if m == nil {
		return
	}

	for {
		batch, err := s.store.Messages().FindOlderThan(ctx, m.Content, m.ID, s.opts.CleanBatchSize)
		if err != nil {
			log.Warn().Err(err).Str("content", m.Content).Msg("Failed to scan rows for compaction")
			return
		}
		if len(batch) == 0 {
			return
		}
		ids := make([]int64, len(batch))
		for i, row := range batch {
			ids[i] = row.ID
		}
		if err := s.store.Messages().Delete(ctx, ids); err != nil {
			log.Warn().Err(err).Str("content", m.Content).Msg("Failed to delete compacted rows")
			return
		}
		telemetry.MessageCleanDeletesTotal.Add(float64(len(ids)))
		if len(batch) < s.opts.CleanBatchSize {
			return
		}
	}
}
