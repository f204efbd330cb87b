package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a class of event.
type Topic int

const (
	// TopicMaterializePlug asks for a plug entity. Payload: PlugRequest.
	TopicMaterializePlug Topic = iota + 1
	// TopicMaterializeSensor asks for a sensor entity. Payload: SensorRequest.
	TopicMaterializeSensor
	// TopicPlugAcked confirms a plug entity exists. Payload: PlugRequest.
	TopicPlugAcked
	// TopicSensorAcked confirms a sensor entity exists. Payload: SensorRequest.
	TopicSensorAcked
	// TopicRoleUpdated reports a role to persist. Payload: RoleUpdate.
	TopicRoleUpdated
	// TopicPlugRemoved reports a plug disconnected after debounce. Payload: PlugRequest.
	TopicPlugRemoved
	// TopicHaveSolar enables production figures. Payload: nil.
	TopicHaveSolar
	// TopicHousehold carries one household figure. Key.Event names it.
	TopicHousehold
	// TopicDeviceData carries one device reading, keyed by MAC and event.
	TopicDeviceData
)

var topicNames = map[Topic]string{
	TopicMaterializePlug:   "materialize-plug",
	TopicMaterializeSensor: "materialize-sensor",
	TopicPlugAcked:         "plug-acked",
	TopicSensorAcked:       "sensor-acked",
	TopicRoleUpdated:       "role-updated",
	TopicPlugRemoved:       "plug-removed",
	TopicHaveSolar:         "have-solar",
	TopicHousehold:         "household",
	TopicDeviceData:        "device-data",
}

// String returns the wire name of the topic.
func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return "unknown"
}

// Key routes per-device events. Household events use an empty MAC.
type Key struct {
	MAC   string
	Event string
}

// Event is one published message.
type Event struct {
	Topic   Topic
	Key     Key
	Payload any
}

// Handler receives events.
type Handler func(Event)

// Token identifies a subscription for Unsubscribe.
type Token string

// Logger is the logging surface the bus uses.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

type subscriber struct {
	token   Token
	handler Handler
}

// Bus is a synchronous publish/subscribe hub.
//
// Thread Safety:
//   - Safe for concurrent use. Handlers may subscribe, unsubscribe, or
//     publish from inside a delivery.
type Bus struct {
	logger Logger

	mu     sync.RWMutex
	topics map[Topic][]subscriber
	keys   map[Key][]subscriber
	index  map[Token]func()
}

// New creates an empty bus. A nil logger discards handler panics.
func New(logger Logger) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		logger: logger,
		topics: make(map[Topic][]subscriber),
		keys:   make(map[Key][]subscriber),
		index:  make(map[Token]func()),
	}
}

// Subscribe registers h for every event on topic.
func (b *Bus) Subscribe(topic Topic, h Handler) Token {
	tok := Token(uuid.NewString())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], subscriber{token: tok, handler: h})
	b.index[tok] = func() { b.topics[topic] = without(b.topics[topic], tok) }
	return tok
}

// SubscribeKey registers h for device events carrying key.
func (b *Bus) SubscribeKey(key Key, h Handler) Token {
	tok := Token(uuid.NewString())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[key] = append(b.keys[key], subscriber{token: tok, handler: h})
	b.index[tok] = func() {
		b.keys[key] = without(b.keys[key], tok)
		if len(b.keys[key]) == 0 {
			delete(b.keys, key)
		}
	}
	return tok
}

// Unsubscribe removes a subscription. Unknown tokens return false.
func (b *Bus) Unsubscribe(tok Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	remove, ok := b.index[tok]
	if !ok {
		return false
	}
	remove()
	delete(b.index, tok)
	return true
}

// Publish delivers ev to topic subscribers, then to key subscribers when
// the event is a device reading.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.topics[ev.Topic])+len(b.keys[ev.Key]))
	targets = append(targets, b.topics[ev.Topic]...)
	if ev.Topic == TopicDeviceData {
		targets = append(targets, b.keys[ev.Key]...)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"topic", ev.Topic.String(), "mac", ev.Key.MAC, "event", ev.Key.Event, "panic", r)
		}
	}()
	s.handler(ev)
}

// Count returns the number of live subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

func without(subs []subscriber, tok Token) []subscriber {
	out := subs[:0:0]
	for _, s := range subs {
		if s.token != tok {
			out = append(out, s)
		}
	}
	return out
}
