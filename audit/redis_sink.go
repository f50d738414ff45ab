package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultStreamKey is the Redis stream entries are appended to.
	DefaultStreamKey = "voiceflow:audit"
	// DefaultStreamMaxLen caps the stream with approximate trimming.
	DefaultStreamMaxLen = 100000

	defaultBufferSize = 1024
)

// RedisStreamSink appends entries to a Redis stream via XADD. Appends
// are decoupled from the turn path by a bounded buffer: when the buffer
// is full the entry is dropped and counted, never blocked on.
type RedisStreamSink struct {
	client    redis.UniversalClient
	streamKey string
	maxLen    int64
	logger    *zap.Logger

	buf     chan *Entry
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// RedisStreamOption customizes a RedisStreamSink.
type RedisStreamOption func(*RedisStreamSink)

// WithStreamKey overrides the stream key.
func WithStreamKey(key string) RedisStreamOption {
	return func(s *RedisStreamSink) { s.streamKey = key }
}

// WithStreamMaxLen overrides the approximate stream cap.
func WithStreamMaxLen(n int64) RedisStreamOption {
	return func(s *RedisStreamSink) { s.maxLen = n }
}

// NewRedisStreamSink creates the sink and starts its writer goroutine.
// Call Close to flush and stop it.
func NewRedisStreamSink(client redis.UniversalClient, logger *zap.Logger, opts ...RedisStreamOption) *RedisStreamSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RedisStreamSink{
		client:    client,
		streamKey: DefaultStreamKey,
		maxLen:    DefaultStreamMaxLen,
		logger:    logger,
		buf:       make(chan *Entry, defaultBufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Append implements Sink. Full buffer drops the entry.
func (s *RedisStreamSink) Append(_ context.Context, entry *Entry) {
	select {
	case s.buf <- entry:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were dropped due to backpressure.
func (s *RedisStreamSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the buffer and stops the writer.
func (s *RedisStreamSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *RedisStreamSink) run() {
	defer s.wg.Done()
	for {
		select {
		case entry := <-s.buf:
			s.write(entry)
		case <-s.done:
			for {
				select {
				case entry := <-s.buf:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisStreamSink) write(entry *Entry) {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	values := map[string]any{
		"event_type":   string(entry.EventType),
		"tenant_id":    entry.TenantID,
		"turn_id":      entry.TurnID,
		"rule":         entry.Rule,
		"content_hash": entry.ContentHash,
		"timestamp":    entry.Timestamp.UnixMilli(),
		"detail":       string(detail),
	}
	err = s.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.dropped.Add(1)
		s.logger.Warn("audit stream append failed",
			zap.String("stream", s.streamKey), zap.Error(err))
	}
}
