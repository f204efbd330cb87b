package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

const (
	testRemovalDelay = 100 * time.Millisecond
	testPoll         = 10 * time.Millisecond
)

// fakeNetwork creates fake clients and tracks how many are connected per
// identity at any moment.
type fakeNetwork struct {
	mu         sync.Mutex
	clients    []*fakeClient
	log        []string
	connected  map[string]int
	violations []string

	connectErr    error
	disconnectErr error

	// blockDisconnect makes Disconnect wait for its context to end.
	blockDisconnect bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{connected: make(map[string]int)}
}

func (n *fakeNetwork) factory(mac, host string, port int) Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &fakeClient{net: n, mac: mac, host: host, port: port, handlers: make(map[string][]plug.Handler)}
	n.clients = append(n.clients, c)
	return c
}

func (n *fakeNetwork) record(entry string) {
	n.log = append(n.log, entry)
}

func (n *fakeNetwork) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.log...)
}

func (n *fakeNetwork) clientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (n *fakeNetwork) last() *fakeClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.clients) == 0 {
		return nil
	}
	return n.clients[len(n.clients)-1]
}

func (n *fakeNetwork) overlapping() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.violations...)
}

type fakeClient struct {
	net  *fakeNetwork
	mac  string
	host string
	port int

	mu           sync.Mutex
	handlers     map[string][]plug.Handler
	connects     int
	disconnects  int
	disconnected bool
}

func (c *fakeClient) Subscribe(event string, h plug.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeClient) Connect() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.net.connectErr != nil {
		return c.net.connectErr
	}
	c.net.connected[c.mac]++
	if c.net.connected[c.mac] > 1 {
		c.net.violations = append(c.net.violations, c.mac)
	}
	c.net.record(fmt.Sprintf("connect %s:%d", c.mac, c.port))

	c.mu.Lock()
	c.connects++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Disconnect(ctx context.Context) error {
	c.net.mu.Lock()
	block := c.net.blockDisconnect
	c.net.mu.Unlock()
	if block {
		<-ctx.Done()
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.connected[c.mac]--
	c.net.record(fmt.Sprintf("disconnect %s:%d", c.mac, c.port))

	c.mu.Lock()
	c.disconnects++
	c.disconnected = true
	c.mu.Unlock()
	if block {
		return ctx.Err()
	}
	return c.net.disconnectErr
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// emit delivers a reading the way the plug client would.
func (c *fakeClient) emit(event string, msg plug.Message) {
	c.mu.Lock()
	hs := append([]plug.Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(event, msg)
	}
}

// busRecorder captures events per topic.
type busRecorder struct {
	mu     sync.Mutex
	events map[bus.Topic][]bus.Event
}

func recordBus(b *bus.Bus, topics ...bus.Topic) *busRecorder {
	r := &busRecorder{events: make(map[bus.Topic][]bus.Event)}
	for _, topic := range topics {
		b.Subscribe(topic, func(ev bus.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[ev.Topic] = append(r.events[ev.Topic], ev)
		})
	}
	return r
}

func (r *busRecorder) get(topic bus.Topic) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events[topic]...)
}

func (r *busRecorder) count(topic bus.Topic) int {
	return len(r.get(topic))
}

// dataFor returns device readings published for key.
func (r *busRecorder) dataFor(key bus.Key) []plug.Message {
	var out []plug.Message
	for _, ev := range r.get(bus.TopicDeviceData) {
		if ev.Key == key {
			out = append(out, ev.Payload.(plug.Message))
		}
	}
	return out
}

// autoAck acknowledges every plug and sensor materialize request, like
// the device materializer does.
func autoAck(b *bus.Bus) {
	b.Subscribe(bus.TopicMaterializePlug, func(ev bus.Event) {
		b.Publish(bus.Event{Topic: bus.TopicPlugAcked, Key: ev.Key, Payload: ev.Payload})
	})
	b.Subscribe(bus.TopicMaterializeSensor, func(ev bus.Event) {
		b.Publish(bus.Event{Topic: bus.TopicSensorAcked, Key: ev.Key, Payload: ev.Payload})
	})
}

type fakeAggregator struct {
	mu         sync.Mutex
	power      []plug.Message
	summations []plug.Message
}

func (a *fakeAggregator) ProcessAveragePowerEvent(msg plug.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.power = append(a.power, msg)
}

func (a *fakeAggregator) ProcessSummationEvent(msg plug.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summations = append(a.summations, msg)
}

func (a *fakeAggregator) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.power), len(a.summations)
}

type harness struct {
	d   *Dispatcher
	bus *bus.Bus
	net *fakeNetwork
	rec *busRecorder
	agg *fakeAggregator
}

type harnessOption func(*Options, *harnessConfig)

type harnessConfig struct {
	noAck   bool
	noStart bool
}

func withRoles(roles RoleMap) harnessOption {
	return func(o *Options, _ *harnessConfig) { o.Roles = roles }
}

func withoutAck() harnessOption {
	return func(_ *Options, c *harnessConfig) { c.noAck = true }
}

func withDisconnectTimeout(d time.Duration) harnessOption {
	return func(o *Options, _ *harnessConfig) { o.DisconnectTimeout = d }
}

func withoutStart() harnessOption {
	return func(_ *Options, c *harnessConfig) { c.noStart = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	b := bus.New(nil)
	h := &harness{
		bus: b,
		net: newFakeNetwork(),
		agg: &fakeAggregator{},
	}
	h.rec = recordBus(b,
		bus.TopicMaterializePlug, bus.TopicMaterializeSensor, bus.TopicRoleUpdated,
		bus.TopicPlugRemoved, bus.TopicDeviceData,
	)

	o := Options{
		Bus:               b,
		NewClient:         h.net.factory,
		Aggregator:        h.agg,
		RemovalDelay:      testRemovalDelay,
		PollInterval:      testPoll,
		DisconnectTimeout: time.Second,
	}
	var cfg harnessConfig
	for _, opt := range opts {
		opt(&o, &cfg)
	}
	if !cfg.noAck {
		autoAck(b)
	}

	d, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.d = d
	t.Cleanup(func() { d.Shutdown(context.Background()) }) //nolint:errcheck // Test cleanup

	if !cfg.noStart {
		if err := d.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
