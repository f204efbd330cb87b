package plug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultResubscribeInterval = 60 * time.Second
	defaultReadBuffer          = 4096
	defaultQueueSize           = 256
	writeTimeout               = 2 * time.Second

	subscribeCommand   = "subscribe(1)"
	unsubscribeCommand = "subscribe(0)"
)

// Handler receives one decoded event.
type Handler func(event string, msg Message)

// Logger is the logging surface the client uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResubscribeInterval sets how often subscribe(1) is repeated so a
// rebooted plug resumes streaming. Zero disables resubscription.
func WithResubscribeInterval(d time.Duration) Option {
	return func(c *Client) { c.resubscribe = d }
}

// WithReadBuffer sets the datagram buffer size.
func WithReadBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.readBuffer = n
		}
	}
}

// WithQueueSize bounds the decoded-event queue between reader and handlers.
// Events arriving while it is full are dropped and counted.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Stats reports client counters.
type Stats struct {
	DatagramsRx   uint64
	EventsDropped uint64
	Exceptions    uint64
}

// Client streams telemetry from one plug.
//
// Thread Safety:
//   - Subscribe, Connect, and Disconnect are safe for concurrent use.
//   - Handlers run on a single dispatch goroutine in arrival order.
type Client struct {
	mac    string
	host   string
	port   int
	logger Logger

	resubscribe time.Duration
	readBuffer  int
	queueSize   int

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup

	datagramsRx   atomic.Uint64
	eventsDropped atomic.Uint64
	exceptions    atomic.Uint64
}

// New creates a client for the plug at host:port. It does not touch the
// network until Connect.
func New(mac, host string, port int, opts ...Option) *Client {
	c := &Client{
		mac:         mac,
		host:        host,
		port:        port,
		logger:      noopLogger{},
		resubscribe: defaultResubscribeInterval,
		readBuffer:  defaultReadBuffer,
		queueSize:   defaultQueueSize,
		handlers:    make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MAC returns the plug identity.
func (c *Client) MAC() string { return c.mac }

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Subscribe adds a handler for event. Handlers added after Connect take
// effect for subsequent datagrams.
func (c *Client) Subscribe(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect opens the UDP socket, sends subscribe(1), and starts the reader,
// dispatcher, and resubscribe goroutines. It does not wait for data.
//
// Returns:
//   - error: ErrAlreadyConnected, ErrClosed, or ErrConnectionFailed
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.connected:
		return ErrAlreadyConnected
	}

	raddr, err := net.ResolveUDPAddr("udp", c.Addr())
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrConnectionFailed, c.Addr(), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", ErrConnectionFailed, c.Addr(), err)
	}
	if err := writeCommand(conn, subscribeCommand); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: subscribing: %w", ErrConnectionFailed, err)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	queue := make(chan delivery, c.queueSize)

	c.wg.Add(2)
	go c.readLoop(conn, queue)
	go c.dispatchLoop(queue)

	if c.resubscribe > 0 {
		c.wg.Add(1)
		go c.resubscribeLoop(conn)
	}

	c.logger.Debug("plug subscribed", "mac", c.mac, "addr", c.Addr())
	return nil
}

// Disconnect sends subscribe(0), closes the socket, and waits for the
// client goroutines. Resources are released even when the unsubscribe
// send fails; that failure is returned. Calling Disconnect on a client
// that never connected is a no-op.
//
// Parameters:
//   - ctx: Bounds the wait for goroutines to exit
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.connected = false
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	var errs []error
	if err := writeCommand(conn, unsubscribeCommand); err != nil {
		errs = append(errs, fmt.Errorf("plug %s: unsubscribing: %w", c.mac, err))
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("plug %s: closing socket: %w", c.mac, err))
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("plug %s: waiting for shutdown: %w", c.mac, ctx.Err()))
	}

	return errors.Join(errs...)
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns counters since creation.
func (c *Client) Stats() Stats {
	return Stats{
		DatagramsRx:   c.datagramsRx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		Exceptions:    c.exceptions.Load(),
	}
}

func writeCommand(conn *net.UDPConn, cmd string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(cmd))
	return err
}

func (c *Client) readLoop(conn *net.UDPConn, queue chan<- delivery) {
	defer c.wg.Done()
	defer close(queue)

	dec := newDecoder(c.mac)
	buf := make([]byte, c.readBuffer)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable and similar are transient for UDP.
			c.logger.Debug("plug read error", "mac", c.mac, "error", err)
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		c.datagramsRx.Add(1)
		for _, d := range dec.decode(buf[:n]) {
			if d.event == EventException {
				c.exceptions.Add(1)
			}
			select {
			case queue <- d:
			default:
				c.eventsDropped.Add(1)
				c.logger.Warn("plug event queue full, dropping event", "mac", c.mac, "event", d.event)
			}
		}
	}
}

func (c *Client) dispatchLoop(queue <-chan delivery) {
	defer c.wg.Done()

	for d := range queue {
		c.handlerMu.RLock()
		handlers := append([]Handler(nil), c.handlers[d.event]...)
		c.handlerMu.RUnlock()

		for _, h := range handlers {
			c.invoke(h, d)
		}
	}
}

func (c *Client) invoke(h Handler, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plug handler panicked", "mac", c.mac, "event", d.event, "panic", r)
		}
	}()
	h(d.event, d.msg)
}

func (c *Client) resubscribeLoop(conn *net.UDPConn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.resubscribe)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := writeCommand(conn, subscribeCommand); err != nil {
				c.logger.Debug("plug resubscribe failed", "mac", c.mac, "error", err)
			}
		}
	}
}
