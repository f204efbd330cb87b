package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/powersensor-core/internal/plug"
)

// connection is one live plug client.
type connection struct {
	client Client
	host   string
	port   int
	name   string
}

// LiveConnection describes a connected plug.
type LiveConnection struct {
	MAC  string `json:"mac"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"name"`
}

// registry owns plug clients. It is not safe for concurrent use; the
// Dispatcher guards it with its lifecycle mutex.
type registry struct {
	newClient ClientFactory
	bind      func(c Client)

	live  map[string]*connection
	known map[string]struct{} // identities ever connected; never shrinks
	names map[string]string   // advertised name -> identity
}

func newRegistry(factory ClientFactory, bind func(c Client)) *registry {
	return &registry{
		newClient: factory,
		bind:      bind,
		live:      make(map[string]*connection),
		known:     make(map[string]struct{}),
		names:     make(map[string]string),
	}
}

// connect creates, subscribes, and starts a client for mac. The identity
// becomes known and the name is indexed even if Connect fails, since the
// entity already exists.
func (r *registry) connect(mac, host string, port int, name string) error {
	if _, exists := r.live[mac]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyLive, mac)
	}

	r.known[mac] = struct{}{}
	if name != "" {
		r.names[name] = mac
	}

	c := r.newClient(mac, host, port)
	r.bind(c)
	if err := c.Connect(); err != nil {
		return fmt.Errorf("connecting plug %s at %s:%d: %w", mac, host, port, err)
	}

	r.live[mac] = &connection{client: c, host: host, port: port, name: name}
	return nil
}

// disconnect tears down the client for mac. The handle is released even
// when Disconnect fails; the failure is returned. Absent identities are a
// no-op.
func (r *registry) disconnect(ctx context.Context, mac string) error {
	conn, exists := r.live[mac]
	if !exists {
		return nil
	}
	delete(r.live, mac)

	if err := conn.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting plug %s: %w", mac, err)
	}
	return nil
}

// disconnectAll tears down every client, each bounded by timeout,
// continuing past failures.
func (r *registry) disconnectAll(ctx context.Context, timeout time.Duration) error {
	var errs []error
	for _, mac := range r.liveMACs() {
		if err := r.disconnectWithin(ctx, mac, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *registry) disconnectWithin(ctx context.Context, mac string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.disconnect(ctx, mac)
}

// forgetName drops the name index entry if it still points at mac.
func (r *registry) forgetName(name, mac string) {
	if r.names[name] == mac {
		delete(r.names, name)
	}
}

func (r *registry) isLive(mac string) bool {
	_, ok := r.live[mac]
	return ok
}

func (r *registry) isKnown(mac string) bool {
	_, ok := r.known[mac]
	return ok
}

// seen reports whether an entity may already exist for the identity or
// the advertised name.
func (r *registry) seen(mac, name string) bool {
	if r.isLive(mac) || r.isKnown(mac) {
		return true
	}
	_, named := r.names[name]
	return named
}

// sameAddress reports whether mac is live at host:port.
func (r *registry) sameAddress(mac, host string, port int) bool {
	conn, ok := r.live[mac]
	return ok && conn.host == host && conn.port == port
}

func (r *registry) liveMACs() []string {
	macs := make([]string, 0, len(r.live))
	for mac := range r.live {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

func (r *registry) snapshot() []LiveConnection {
	out := make([]LiveConnection, 0, len(r.live))
	for _, mac := range r.liveMACs() {
		conn := r.live[mac]
		out = append(out, LiveConnection{MAC: mac, Host: conn.host, Port: conn.port, Name: conn.name})
	}
	return out
}

// telemetryEvents are bound to the dispatcher router on every client.
var telemetryEvents = []string{
	plug.EventAverageFlow,
	plug.EventAveragePower,
	plug.EventAveragePowerComponents,
	plug.EventBatteryLevel,
	plug.EventRadioSignalQuality,
	plug.EventSummationEnergy,
	plug.EventSummationVolume,
}
