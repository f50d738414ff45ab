package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType classifies an audit entry.
type EventType string

const (
	// EventTransition records a turn state-machine transition.
	EventTransition EventType = "transition"
	// EventBudgetDenied records an admission denial.
	EventBudgetDenied EventType = "budget_denied"
	// EventSafetyBlocked records an input screening block.
	EventSafetyBlocked EventType = "safety_blocked"
	// EventOutputRejected records a response validation reject.
	EventOutputRejected EventType = "output_rejected"
	// EventInterrupt records a caller barge-in.
	EventInterrupt EventType = "interrupt"
	// EventSLOBreach records a stage latency budget breach.
	EventSLOBreach EventType = "slo_breach"
)

// Entry is one audit record. Content is tracked by hash only.
type Entry struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   EventType      `json:"event_type"`
	TenantID    string         `json:"tenant_id"`
	TurnID      string         `json:"turn_id,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Rule        string         `json:"rule,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// HashContent returns the hex sha256 of text, for tracking transcript
// fragments without persisting them.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Sink receives audit entries. Append is best-effort: implementations
// must not block the caller and must swallow their own failures.
type Sink interface {
	Append(ctx context.Context, entry *Entry)
}

// Filter selects entries for Query and Count.
type Filter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	EventTypes []EventType
	TenantID   string
	TurnID     string
	Limit      int
	Offset     int
}

func (f *Filter) matches(e *Entry) bool {
	if f == nil {
		return true
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.TurnID != "" && e.TurnID != f.TurnID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MemorySink keeps the newest entries in a bounded in-memory buffer.
// Suitable for tests and single-process deployments.
type MemorySink struct {
	mu      sync.RWMutex
	entries []*Entry
	maxSize int
}

// NewMemorySink creates a MemorySink holding at most maxSize entries.
func NewMemorySink(maxSize int) *MemorySink {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemorySink{maxSize: maxSize}
}

// Append implements Sink. The oldest entry is evicted at capacity.
func (s *MemorySink) Append(_ context.Context, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= s.maxSize {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
}

// Query returns entries matching the filter, oldest first, paginated.
func (s *MemorySink) Query(_ context.Context, filter *Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Entry
	for _, e := range s.entries {
		if filter.matches(e) {
			result = append(result, e)
		}
	}

	if filter != nil {
		if filter.Offset >= len(result) {
			return nil
		}
		if filter.Offset > 0 {
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(result) {
			result = result[:filter.Limit]
		}
	}
	return result
}

// Count returns the number of entries matching the filter.
func (s *MemorySink) Count(_ context.Context, filter *Filter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if filter.matches(e) {
			count++
		}
	}
	return count
}

// Len returns the number of retained entries.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ZapSink writes entries to a structured logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Append implements Sink.
func (s *ZapSink) Append(_ context.Context, entry *Entry) {
	s.logger.Info("audit",
		zap.String("event_type", string(entry.EventType)),
		zap.String("tenant_id", entry.TenantID),
		zap.String("turn_id", entry.TurnID),
		zap.String("rule", entry.Rule),
		zap.String("content_hash", entry.ContentHash),
		zap.Time("event_time", entry.Timestamp),
		zap.Any("detail", entry.Detail))
}

// MultiSink fans out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append implements Sink.
func (s *MultiSink) Append(ctx context.Context, entry *Entry) {
	for _, sink := range s.sinks {
		sink.Append(ctx, entry)
	}
}
