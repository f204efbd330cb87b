package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Subscriber is the bus surface Subscribe needs.
type Subscriber interface {
	Subscribe(topic bus.Topic, h bus.Handler) bus.Token
}

// Logger is the logging surface the recorder uses.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder journals lifecycle events from the bus.
//
// Thread Safety:
//   - Bus handlers only enqueue; Run performs every write on one goroutine.
//   - A full queue drops the event rather than stalling the publisher.
type Recorder struct {
	repo   Repository
	logger Logger
	queue  chan bus.Event

	mu    sync.Mutex
	roles map[string]string // last journaled role per MAC

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan bus.Event, defaultQueueSize),
		roles:  make(map[string]string),
	}
}

// Subscribe registers the recorder for every journaled topic.
func (r *Recorder) Subscribe(b Subscriber) []bus.Token {
	return []bus.Token{
		b.Subscribe(bus.TopicPlugAcked, r.enqueue),
		b.Subscribe(bus.TopicSensorAcked, r.enqueue),
		b.Subscribe(bus.TopicPlugRemoved, r.enqueue),
		b.Subscribe(bus.TopicRoleUpdated, r.enqueue),
		b.Subscribe(bus.TopicHaveSolar, r.enqueue),
	}
}

// Seed primes the last journaled roles, typically from the persisted role
// store, so a restart does not journal every known role again.
func (r *Recorder) Seed(roles map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for mac, role := range roles {
		r.roles[mac] = role
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev := <-r.queue:
			r.record(ev)
		}
	}
}

// Stats returns written and dropped entry counts.
func (r *Recorder) Stats() (written, dropped uint64) {
	return r.written.Load(), r.dropped.Load()
}

func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.record(ev)
		default:
			return
		}
	}
}

func (r *Recorder) enqueue(ev bus.Event) {
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping event", "topic", ev.Topic.String(), "mac", ev.Key.MAC)
	}
}

func (r *Recorder) record(ev bus.Event) {
	entry, ok := r.entryFor(ev)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("failed to write audit log", "action", entry.Action, "mac", entry.MAC, "error", err)
		return
	}
	r.written.Add(1)
}

// entryFor maps an event to a journal entry. Role updates repeating the
// last journaled role are skipped.
func (r *Recorder) entryFor(ev bus.Event) (*AuditLog, bool) {
	entry := &AuditLog{Source: SourceBus, MAC: ev.Key.MAC}

	switch p := ev.Payload.(type) {
	case bus.PlugRequest:
		entry.MAC = p.MAC
		entry.Details = map[string]any{"host": p.Host, "port": p.Port, "name": p.Name}
		switch ev.Topic {
		case bus.TopicPlugAcked:
			entry.Action = ActionPlugMaterialized
		case bus.TopicPlugRemoved:
			entry.Action = ActionPlugRemoved
		default:
			return nil, false
		}

	case bus.SensorRequest:
		if ev.Topic != bus.TopicSensorAcked {
			return nil, false
		}
		entry.Action = ActionSensorMaterialized
		entry.MAC = p.MAC
		if p.Role != "" {
			entry.Details = map[string]any{"role": p.Role}
		}

	case bus.RoleUpdate:
		if ev.Topic != bus.TopicRoleUpdated || p.Role == "" {
			return nil, false
		}
		r.mu.Lock()
		prev, seen := r.roles[p.MAC]
		r.roles[p.MAC] = p.Role
		r.mu.Unlock()
		if seen && prev == p.Role {
			return nil, false
		}
		entry.Action = ActionRoleUpdated
		entry.MAC = p.MAC
		entry.Details = map[string]any{"role": p.Role}
		if seen {
			entry.Details["previous"] = prev
		}

	default:
		if ev.Topic != bus.TopicHaveSolar {
			return nil, false
		}
		entry.Action = ActionSolarEnabled
	}

	return entry, true
}
