package dispatcher

import (
	"context"

	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/plug"
)

// Client is a per-plug telemetry connection. *plug.Client implements it.
type Client interface {
	// Subscribe binds a handler to one event name.
	Subscribe(event string, h plug.Handler)

	// Connect starts the stream without waiting for data.
	Connect() error

	// Disconnect stops the stream and releases the socket.
	Disconnect(ctx context.Context) error
}

// ClientFactory builds an unconnected Client for a plug.
type ClientFactory func(mac, host string, port int) Client

// Aggregator consumes power and energy readings for household figures.
// Errors are the aggregator's concern.
type Aggregator interface {
	ProcessAveragePowerEvent(msg plug.Message)
	ProcessSummationEvent(msg plug.Message)
}

// RoleSource answers the persisted role for a device.
type RoleSource interface {
	Role(mac string) (string, bool)
}

// RoleMap is a fixed RoleSource.
type RoleMap map[string]string

// Role returns the mapped role; empty roles report false.
func (m RoleMap) Role(mac string) (string, bool) {
	r, ok := m[mac]
	return r, ok && r != ""
}

// Bus is the event bus surface the dispatcher needs. *bus.Bus implements it.
type Bus interface {
	Publish(ev bus.Event)
	Subscribe(topic bus.Topic, h bus.Handler) bus.Token
	Unsubscribe(tok bus.Token) bool
}

// Logger is the logging surface the dispatcher uses.
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
