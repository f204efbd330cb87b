package fanout

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/dispatcher"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

const defaultQueueSize = 1024

// WebSocket channels.
const (
	ChannelDevices   = "devices"
	ChannelHousehold = "household"
)

// DeviceChannel returns the WebSocket channel for one device event.
func DeviceChannel(mac, event string) string {
	return "device." + mac + "." + event
}

// StatePublisher publishes retained JSON. *mqtt.Client satisfies it.
type StatePublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// PointWriter writes time series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteReading(mac, event, role string, fields map[string]any, ts time.Time)
	WriteHousehold(figure string, value float64, ts time.Time)
}

// Broadcaster pushes to WebSocket subscribers. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Subscriber is the bus surface Subscribe needs.
type Subscriber interface {
	Subscribe(topic bus.Topic, h bus.Handler) bus.Token
}

// Logger is the logging surface the fanout uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Fanout. Every sink is optional.
type Options struct {
	MQTT      StatePublisher
	Influx    PointWriter
	Hub       Broadcaster
	Metrics   *Metrics
	Logger    Logger
	QueueSize int
}

// Fanout forwards bus events to the configured sinks.
type Fanout struct {
	mqtt    StatePublisher
	influx  PointWriter
	hub     Broadcaster
	metrics *Metrics
	logger  Logger
	topics  mqtt.Topics

	queue     chan bus.Event
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// New creates a Fanout. Nothing is forwarded until Subscribe and Run.
func New(opts Options) *Fanout {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Fanout{
		mqtt:    opts.MQTT,
		influx:  opts.Influx,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		queue:   make(chan bus.Event, opts.QueueSize),
	}
}

// Subscribe registers the fanout for every topic it forwards.
func (f *Fanout) Subscribe(b Subscriber) []bus.Token {
	return []bus.Token{
		b.Subscribe(bus.TopicDeviceData, f.enqueue),
		b.Subscribe(bus.TopicHousehold, f.enqueue),
		b.Subscribe(bus.TopicHaveSolar, f.enqueue),
		b.Subscribe(bus.TopicRoleUpdated, f.enqueue),
		b.Subscribe(bus.TopicPlugRemoved, f.enqueue),
	}
}

// Run delivers queued events until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.queue:
			f.deliver(ev)
		}
	}
}

// Stats returns delivered and dropped event counts.
func (f *Fanout) Stats() (delivered, dropped uint64) {
	return f.delivered.Load(), f.dropped.Load()
}

func (f *Fanout) enqueue(ev bus.Event) {
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
		if f.metrics != nil {
			f.metrics.dropped.Inc()
		}
		f.logger.Warn("fanout queue full, dropping event", "topic", ev.Topic.String(), "mac", ev.Key.MAC)
	}
}

// deliver runs one event through every sink. A panicking sink is logged
// and does not stop the loop.
func (f *Fanout) deliver(ev bus.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("fanout delivery panicked", "topic", ev.Topic.String(), "panic", r)
		}
	}()
	defer f.delivered.Add(1)

	switch ev.Topic {
	case bus.TopicDeviceData:
		msg, ok := ev.Payload.(plug.Message)
		if !ok {
			f.logger.Warn("device data with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
			return
		}
		if ev.Key.Event == dispatcher.RoleEvent {
			f.deviceRole(ev.Key.MAC, msg)
			return
		}
		f.deviceReading(ev.Key.MAC, ev.Key.Event, msg)

	case bus.TopicHousehold:
		msg, ok := ev.Payload.(plug.Message)
		if !ok {
			f.logger.Warn("household figure with unexpected payload", "type", fmt.Sprintf("%T", ev.Payload))
			return
		}
		f.householdFigure(ev.Key.Event, msg)

	case bus.TopicHaveSolar:
		f.publish(f.topics.HaveSolar(), true)
		f.broadcast(ChannelHousehold, map[string]any{"have_solar": true})

	case bus.TopicRoleUpdated:
		if f.metrics != nil {
			f.metrics.roleUpdates.Inc()
		}

	case bus.TopicPlugRemoved:
		f.broadcast(ChannelDevices, map[string]any{"mac": ev.Key.MAC, "event": "removed"})
	}
}

func (f *Fanout) deviceReading(mac, event string, msg plug.Message) {
	role, _ := msg.Role()

	f.publish(f.topics.DeviceState(mac, event), msg)
	f.broadcast(DeviceChannel(mac, event), msg)
	f.broadcast(ChannelDevices, map[string]any{"mac": mac, "event": event, "data": msg})

	if f.influx != nil {
		f.influx.WriteReading(mac, event, role, numericFields(msg), readingTime(msg))
	}

	if f.metrics == nil {
		return
	}
	f.metrics.readings.WithLabelValues(event).Inc()
	switch event {
	case plug.EventException:
		f.metrics.exceptions.WithLabelValues(mac).Inc()
	case plug.EventAveragePower:
		if watts, ok := msg.Float("watts"); ok {
			f.metrics.devicePower.WithLabelValues(mac, role).Set(watts)
		}
	}
}

func (f *Fanout) deviceRole(mac string, msg plug.Message) {
	f.publish(f.topics.DeviceRole(mac), msg)
	f.broadcast(DeviceChannel(mac, dispatcher.RoleEvent), msg)
}

func (f *Fanout) householdFigure(figure string, msg plug.Message) {
	value, ok := msg.Float("watts")
	if !ok {
		value, ok = msg.Float("summation_joules")
	}
	if !ok {
		return
	}

	f.publish(f.topics.Household(figure), msg)
	f.broadcast(ChannelHousehold, map[string]any{"figure": figure, "value": value})
	if f.influx != nil {
		f.influx.WriteHousehold(figure, value, time.Time{})
	}
	if f.metrics != nil {
		f.metrics.household.WithLabelValues(figure).Set(value)
	}
}

func (f *Fanout) publish(topic string, v any) {
	if f.mqtt == nil {
		return
	}
	if err := f.mqtt.PublishJSON(topic, v, true); err != nil {
		if f.metrics != nil {
			f.metrics.sinkErrors.WithLabelValues("mqtt").Inc()
		}
		f.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (f *Fanout) broadcast(channel string, payload any) {
	if f.hub != nil {
		f.hub.Broadcast(channel, payload)
	}
}

// numericFields keeps the float fields of msg, which is what InfluxDB stores.
func numericFields(msg plug.Message) map[string]any {
	out := make(map[string]any, len(msg))
	for k := range msg {
		if k == "starttime_utc" {
			continue
		}
		if v, ok := msg.Float(k); ok {
			out[k] = v
		}
	}
	return out
}

// readingTime uses the plug's start time when present.
func readingTime(msg plug.Message) time.Time {
	start, ok := msg.Float("starttime_utc")
	if !ok || start <= 0 {
		return time.Time{}
	}
	sec := int64(start)
	return time.Unix(sec, int64((start-float64(sec))*float64(time.Second))).UTC()
}
