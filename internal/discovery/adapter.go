package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/powersensor-core/internal/debounce"
)

// DefaultRemovalDelay filters mDNS goodbye/re-announce flaps.
const DefaultRemovalDelay = 2 * time.Second

const defaultIntentBuffer = 64

// Logger is the logging surface the adapter and browser use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AdapterOption configures an Adapter.
type AdapterOption func(*adapterOptions)

type adapterOptions struct {
	logger Logger
	delay  time.Duration
	buffer int
}

// WithLogger sets the adapter logger.
func WithLogger(l Logger) AdapterOption {
	return func(o *adapterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRemovalDelay sets how long a service must stay gone before a remove
// intent is emitted.
func WithRemovalDelay(d time.Duration) AdapterOption {
	return func(o *adapterOptions) { o.delay = d }
}

// WithBuffer sets the intent channel capacity.
func WithBuffer(n int) AdapterOption {
	return func(o *adapterOptions) {
		if n >= 0 {
			o.buffer = n
		}
	}
}

// removal is a pending remove for one service name. rec is the record
// cached when the goodbye arrived, nil if the name never resolved.
type removal struct {
	rec *Record
}

// Adapter converts notifier callbacks into Intents.
//
// Thread Safety:
//   - Add, Update, and Remove may be called from any goroutine.
//   - Intents are delivered on a single channel; a full channel blocks the
//     caller until the consumer catches up or the adapter is closed.
type Adapter struct {
	logger   Logger
	removals *debounce.Timer
	intents  chan Intent

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	records map[string]Record   // name -> last resolved record
	pending map[string]*removal // name -> removal awaiting the debounce
}

// NewAdapter creates an Adapter.
func NewAdapter(opts ...AdapterOption) *Adapter {
	o := adapterOptions{
		logger: noopLogger{},
		delay:  DefaultRemovalDelay,
		buffer: defaultIntentBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Adapter{
		logger: o.logger,
		removals: debounce.New(o.delay,
			debounce.WithLogger(o.logger),
			debounce.WithName("discovery-removal"),
		),
		intents: make(chan Intent, o.buffer),
		done:    make(chan struct{}),
		records: make(map[string]Record),
		pending: make(map[string]*removal),
	}
}

// Intents returns the channel the consumer drains.
func (a *Adapter) Intents() <-chan Intent {
	return a.intents
}

// Add reports a newly announced service.
func (a *Adapter) Add(svc Service) {
	a.seen(svc, IntentAdd)
}

// Update reports a changed service.
func (a *Adapter) Update(svc Service) {
	a.seen(svc, IntentUpdate)
}

func (a *Adapter) seen(svc Service, kind IntentKind) {
	rec, err := svc.Resolve()
	if err != nil {
		a.logger.Warn("ignoring unresolved service", "name", svc.Name, "error", err)
		return
	}

	a.mu.Lock()
	for name, rm := range a.pending {
		sameDevice := rm.rec != nil && rm.rec.Identity == rec.Identity
		if name != rec.Name && !sameDevice {
			continue
		}
		if a.removals.Cancel(name) {
			a.logger.Debug("service reappeared, removal cancelled", "name", name, "mac", rec.Identity)
			kind = IntentUpdate
		}
		delete(a.pending, name)
	}
	a.records[rec.Name] = rec
	a.mu.Unlock()

	a.emit(Intent{Kind: kind, Name: rec.Name, Record: &rec})
}

// Remove reports a service goodbye. The remove intent follows after the
// removal delay unless the service, or another name for the same device,
// is seen again first. A second goodbye while one is pending is ignored.
func (a *Adapter) Remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.pending[name]; exists {
		a.logger.Debug("removal already pending", "name", name)
		return
	}

	rm := &removal{}
	if rec, ok := a.records[name]; ok {
		rm.rec = &rec
	}
	if !a.removals.Schedule(name, func() { a.fireRemoval(name) }) {
		// The previous removal for this name is emitting right now.
		return
	}
	a.pending[name] = rm
}

func (a *Adapter) fireRemoval(name string) {
	a.mu.Lock()
	rm, exists := a.pending[name]
	if !exists {
		// Superseded by a later add or update.
		a.mu.Unlock()
		return
	}
	delete(a.pending, name)
	delete(a.records, name)
	a.mu.Unlock()

	if rm.rec == nil {
		a.logger.Info("unresolved service removed", "name", name)
	}
	a.emit(Intent{Kind: IntentRemove, Name: name, Record: rm.rec})
}

func (a *Adapter) emit(in Intent) {
	select {
	case <-a.done:
		return
	default:
	}

	select {
	case a.intents <- in:
	case <-a.done:
	}
}

// Records returns the currently resolved services, sorted by name.
func (a *Adapter) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PendingRemovals returns the number of removals waiting on the delay.
func (a *Adapter) PendingRemovals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close cancels pending removals and stops delivering intents. The intent
// channel is left open; consumers stop on their own context.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.removals.CancelAll()
	})
}
