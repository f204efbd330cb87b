package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/debounce"
	"github.com/nerrad567/powersensor-core/internal/discovery"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

// Default timings.
const (
	DefaultRemovalDelay      = 60 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
)

// Options holds the collaborators and timings for a Dispatcher.
type Options struct {
	// Bus carries materialize requests, acks, role updates, and readings.
	Bus Bus

	// NewClient builds plug clients.
	NewClient ClientFactory

	// Aggregator receives power and energy readings. Optional.
	Aggregator Aggregator

	// Roles answers persisted roles. Optional; nil means no roles.
	Roles RoleSource

	// Logger is optional.
	Logger Logger

	// RemovalDelay is the debounce before a vanished plug is disconnected.
	RemovalDelay time.Duration

	// PollInterval is the pending queue reconciliation period.
	PollInterval time.Duration

	// DisconnectTimeout bounds each plug teardown.
	DisconnectTimeout time.Duration
}

// Dispatcher orchestrates plug discovery, connection, and telemetry
// routing.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Lifecycle operations (discovery intents, acks, removals,
//     reconciliation) are serialized by one mutex, held across connect
//     and disconnect so an identity never has two live clients.
//   - The telemetry path never takes that mutex, so a plug delivering
//     readings while it is being disconnected cannot deadlock.
type Dispatcher struct {
	bus               Bus
	aggregator        Aggregator
	roles             RoleSource
	logger            Logger
	disconnectTimeout time.Duration

	queue    *Queue
	removals *debounce.Timer

	mu     sync.Mutex
	reg    *registry
	gens   map[string]uint64 // discovery events seen per identity
	ctx    context.Context
	cancel context.CancelFunc
	tokens []bus.Token

	started atomic.Bool
	closed  atomic.Bool

	sensorMu  sync.Mutex
	sensors   map[string]string // acknowledged sensor entities -> role
	requested map[string]string // sensor entity requested, not yet acked

	routed     atomic.Uint64
	exceptions atomic.Uint64

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Dispatcher. Call Start to begin reconciliation.
func New(opts Options) (*Dispatcher, error) {
	if opts.Bus == nil {
		return nil, ErrMissingBus
	}
	if opts.NewClient == nil {
		return nil, ErrMissingClientFactory
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Roles == nil {
		opts.Roles = RoleMap{}
	}
	if opts.RemovalDelay <= 0 {
		opts.RemovalDelay = DefaultRemovalDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = DefaultDisconnectTimeout
	}

	d := &Dispatcher{
		bus:               opts.Bus,
		aggregator:        opts.Aggregator,
		roles:             opts.Roles,
		logger:            opts.Logger,
		disconnectTimeout: opts.DisconnectTimeout,
		removals: debounce.New(opts.RemovalDelay,
			debounce.WithLogger(opts.Logger),
			debounce.WithName("plug-removal"),
		),
		gens:      make(map[string]uint64),
		sensors:   make(map[string]string),
		requested: make(map[string]string),
	}
	d.reg = newRegistry(opts.NewClient, d.bind)
	d.queue = NewQueue(opts.PollInterval, d.reconcile, opts.Logger)
	return d, nil
}

// Start subscribes to entity acknowledgements, replays sensor entity
// requests collected before start, and launches reconciliation if plugs
// are already queued. Calling Start twice is a no-op.
//
// Parameters:
//   - ctx: Parent context for background work; cancel it or call Shutdown
//
// Returns:
//   - error: ErrClosed after Shutdown
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.started.Load() {
		d.mu.Unlock()
		return nil
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.tokens = append(d.tokens,
		d.bus.Subscribe(bus.TopicPlugAcked, d.handlePlugAck),
		d.bus.Subscribe(bus.TopicSensorAcked, d.handleSensorAck),
	)
	d.started.Store(true)
	pending := d.queue.Len()
	d.mu.Unlock()

	d.sensorMu.Lock()
	replay := make([]bus.SensorRequest, 0, len(d.requested))
	for mac, role := range d.requested {
		replay = append(replay, bus.SensorRequest{MAC: mac, Role: role})
	}
	d.sensorMu.Unlock()
	sort.Slice(replay, func(i, j int) bool { return replay[i].MAC < replay[j].MAC })

	for _, req := range replay {
		d.bus.Publish(bus.Event{Topic: bus.TopicMaterializeSensor, Key: bus.Key{MAC: req.MAC}, Payload: req})
	}

	if pending > 0 {
		d.queue.Start(d.ctx)
	}

	d.logger.Info("dispatcher started", "pending_plugs", pending, "pending_sensors", len(replay))
	return nil
}

// Consume applies discovery intents until ctx is cancelled, the channel
// closes, or the dispatcher shuts down. Failures are logged.
func (d *Dispatcher) Consume(ctx context.Context, intents <-chan discovery.Intent) error {
	for {
		if d.closed.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-intents:
			if !ok {
				return nil
			}
			d.apply(ctx, in)
		}
	}
}

func (d *Dispatcher) apply(ctx context.Context, in discovery.Intent) {
	var err error
	switch in.Kind {
	case discovery.IntentAdd:
		if in.Record == nil {
			return
		}
		err = d.OnDiscoveredAdd(ctx, *in.Record)
	case discovery.IntentUpdate:
		if in.Record == nil {
			return
		}
		err = d.OnDiscoveredUpdate(ctx, *in.Record)
	case discovery.IntentRemove:
		d.OnDiscoveredRemove(in.Name, in.Record)
	default:
		d.logger.Warn("ignoring unknown discovery intent", "kind", in.Kind.String(), "name", in.Name)
	}
	if err != nil {
		d.logger.Error("applying discovery intent failed", "kind", in.Kind.String(), "name", in.Name, "error", err)
	}
}

// OnDiscoveredAdd handles a plug announced by discovery. Any pending
// removal is cancelled. A plug live at the same address is left alone; a
// plug live elsewhere is disconnected first. The plug is then queued for
// reconciliation.
//
// Returns:
//   - error: ErrInvalidRecord, ErrClosed, or a stale-connection teardown failure
func (d *Dispatcher) OnDiscoveredAdd(ctx context.Context, rec discovery.Record) error {
	return d.discovered(ctx, rec, false)
}

// OnDiscoveredUpdate handles a changed announcement. It behaves like
// OnDiscoveredAdd except that a plug whose entity already exists is
// reconnected at once instead of waiting for the next reconciliation.
func (d *Dispatcher) OnDiscoveredUpdate(ctx context.Context, rec discovery.Record) error {
	return d.discovered(ctx, rec, true)
}

func (d *Dispatcher) discovered(ctx context.Context, rec discovery.Record, update bool) error {
	if rec.Identity == "" || rec.Host == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidRecord, rec)
	}
	if d.closed.Load() {
		return ErrClosed
	}
	mac := rec.Identity

	if d.removals.Cancel(mac) {
		d.logger.Debug("pending removal cancelled by discovery", "mac", mac, "name", rec.Name)
	}

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return ErrClosed
	}
	// A removal whose action already started sees this and stands down.
	d.gens[mac]++

	if d.reg.sameAddress(mac, rec.Host, rec.Port) {
		d.mu.Unlock()
		d.logger.Debug("plug already live at this address", "mac", mac, "host", rec.Host, "port", rec.Port)
		return nil
	}

	var teardownErr error
	if d.reg.isLive(mac) {
		d.logger.Info("plug moved, disconnecting stale connection", "mac", mac, "host", rec.Host, "port", rec.Port)
		teardownErr = d.disconnectLocked(ctx, mac)
	}

	if update && d.reg.isKnown(mac) {
		err := d.reg.connect(mac, rec.Host, rec.Port, rec.Name)
		d.mu.Unlock()
		if err != nil {
			return errors.Join(teardownErr, err)
		}
		d.logger.Info("plug reconnected", "mac", mac, "host", rec.Host, "port", rec.Port)
		return teardownErr
	}

	entry := Entry{MAC: mac, Host: rec.Host, Port: rec.Port, Name: rec.Name}
	if d.queue.Enqueue(entry) {
		d.logger.Debug("plug queued", "mac", mac, "host", rec.Host, "port", rec.Port, "name", rec.Name)
	}
	started := d.started.Load()
	loopCtx := d.ctx
	d.mu.Unlock()

	if started {
		d.queue.Start(loopCtx)
	}
	return teardownErr
}

// OnDiscoveredRemove schedules a debounced removal for the plug advertised
// as name. Names that never resolved to a connected plug are ignored. A
// second removal while one is pending is a no-op. last may be nil.
func (d *Dispatcher) OnDiscoveredRemove(name string, last *discovery.Record) {
	d.mu.Lock()
	mac, ok := d.reg.names[name]
	live := ok && d.reg.isLive(mac)
	gen := d.gens[mac]
	d.mu.Unlock()

	if !ok {
		args := []any{"name", name}
		if last != nil {
			args = append(args, "mac", last.Identity)
		}
		d.logger.Warn("removal for unknown plug name ignored", args...)
		return
	}
	if !live {
		d.logger.Debug("removal for plug that is not connected ignored", "name", name, "mac", mac)
		return
	}

	if d.removals.Schedule(mac, func() { d.removePlug(mac, name, gen) }) {
		d.logger.Debug("plug removal scheduled", "mac", mac, "name", name, "delay", d.removals.Delay())
	}
}

// removePlug runs when a removal debounce expires. gen is the discovery
// generation when the removal was scheduled; a newer announcement for the
// plug means it came back, and the removal is dropped.
func (d *Dispatcher) removePlug(mac, name string, gen uint64) {
	d.mu.Lock()
	conn, live := d.reg.live[mac]
	if !live {
		d.mu.Unlock()
		return
	}
	if d.gens[mac] != gen {
		d.mu.Unlock()
		d.logger.Debug("plug re-announced during removal, keeping it", "mac", mac, "name", name)
		return
	}
	req := bus.PlugRequest{MAC: mac, Host: conn.host, Port: conn.port, Name: conn.name}
	err := d.disconnectLocked(context.Background(), mac)
	d.reg.forgetName(name, mac)
	d.reg.forgetName(conn.name, mac)
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("plug teardown failed", "mac", mac, "error", err)
	}
	d.logger.Info("plug disconnected and removed", "mac", mac, "name", name)
	d.bus.Publish(bus.Event{Topic: bus.TopicPlugRemoved, Key: bus.Key{MAC: mac}, Payload: req})
}

// OnEntityMaterializedAck connects the acknowledged plug and drops its
// pending entry. A plug already live at the same address is not
// reconnected; one live elsewhere is disconnected first. A failed connect
// leaves the entry queued for retry.
func (d *Dispatcher) OnEntityMaterializedAck(ctx context.Context, req bus.PlugRequest) error {
	entry := Entry{MAC: req.MAC, Host: req.Host, Port: req.Port, Name: req.Name}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}

	if d.reg.sameAddress(req.MAC, req.Host, req.Port) {
		d.queue.Remove(entry)
		return nil
	}

	var teardownErr error
	if d.reg.isLive(req.MAC) {
		teardownErr = d.disconnectLocked(ctx, req.MAC)
	}
	if err := d.reg.connect(req.MAC, req.Host, req.Port, req.Name); err != nil {
		return errors.Join(teardownErr, err)
	}
	d.queue.Remove(entry)
	d.logger.Info("plug connected", "mac", req.MAC, "host", req.Host, "port", req.Port, "name", req.Name)
	return teardownErr
}

// OnSensorAck records that a sensor entity exists.
func (d *Dispatcher) OnSensorAck(req bus.SensorRequest) {
	d.sensorMu.Lock()
	defer d.sensorMu.Unlock()
	d.sensors[req.MAC] = req.Role
	delete(d.requested, req.MAC)
}

func (d *Dispatcher) handlePlugAck(ev bus.Event) {
	req, ok := ev.Payload.(bus.PlugRequest)
	if !ok {
		d.logger.Warn("plug ack with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	if err := d.OnEntityMaterializedAck(d.ctx, req); err != nil {
		d.logger.Error("connecting acknowledged plug failed", "mac", req.MAC, "error", err)
	}
}

func (d *Dispatcher) handleSensorAck(ev bus.Event) {
	req, ok := ev.Payload.(bus.SensorRequest)
	if !ok {
		d.logger.Warn("sensor ack with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	d.OnSensorAck(req)
}

// reconcile classifies one pending entry. Called by the queue loop.
func (d *Dispatcher) reconcile(ctx context.Context, e Entry) error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil
	}

	switch {
	case !d.reg.seen(e.MAC, e.Name):
		d.mu.Unlock()
		d.logger.Info("requesting plug entity", "mac", e.MAC, "host", e.Host, "port", e.Port, "name", e.Name)
		d.bus.Publish(bus.Event{
			Topic:   bus.TopicMaterializePlug,
			Key:     bus.Key{MAC: e.MAC},
			Payload: bus.PlugRequest{MAC: e.MAC, Host: e.Host, Port: e.Port, Name: e.Name},
		})
		return nil

	case d.reg.isKnown(e.MAC) && !d.reg.isLive(e.MAC):
		defer d.mu.Unlock()
		d.logger.Info("plug entity exists, reconnecting", "mac", e.MAC, "host", e.Host, "port", e.Port)
		if err := d.reg.connect(e.MAC, e.Host, e.Port, e.Name); err != nil {
			return err
		}
		d.queue.Remove(e)
		return nil

	default:
		defer d.mu.Unlock()
		d.logger.Debug("plug already handled, flushing from queue", "mac", e.MAC, "name", e.Name)
		d.queue.Remove(e)
		return nil
	}
}

// disconnectLocked tears down one plug with the configured timeout.
// Callers hold d.mu.
func (d *Dispatcher) disconnectLocked(ctx context.Context, mac string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.reg.disconnectWithin(ctx, mac, d.disconnectTimeout)
}

// Shutdown disconnects every plug, stops reconciliation, cancels pending
// removals, and drops bus subscriptions, in that order. Teardown failures
// are joined and returned; later calls return the same result.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		if ctx == nil {
			ctx = context.Background()
		}
		teardownErr := d.reg.disconnectAll(ctx, d.disconnectTimeout)
		if teardownErr != nil {
			d.logger.Error("plug teardown failed during shutdown", "error", teardownErr)
		}
		tokens := d.tokens
		d.tokens = nil
		cancel := d.cancel
		d.mu.Unlock()

		d.queue.Stop()
		d.removals.CancelAll()

		for _, tok := range tokens {
			d.bus.Unsubscribe(tok)
		}
		if cancel != nil {
			cancel()
		}

		d.shutdownErr = teardownErr
		d.logger.Info("dispatcher stopped")
	})
	return d.shutdownErr
}

// bind subscribes a new client to the router.
func (d *Dispatcher) bind(c Client) {
	for _, ev := range telemetryEvents {
		c.Subscribe(ev, d.handleReading)
	}
	c.Subscribe(plug.EventNowRelayingFor, d.handleRelay)
	c.Subscribe(plug.EventException, d.handleException)
}
