package plug

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePlug is a UDP endpoint that records commands and can send readings
// back to the last subscriber.
type fakePlug struct {
	t    *testing.T
	conn *net.UDPConn

	mu       sync.Mutex
	commands []string
	peer     *net.UDPAddr
	got      chan string
}

func newFakePlug(t *testing.T) *fakePlug {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	p := &fakePlug{t: t, conn: conn, got: make(chan string, 16)}
	go p.serve()
	t.Cleanup(func() { conn.Close() })
	return p
}

func (p *fakePlug) serve() {
	buf := make([]byte, 1024)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(string(buf[:n]))
		p.mu.Lock()
		p.commands = append(p.commands, cmd)
		p.peer = addr
		p.mu.Unlock()
		p.got <- cmd
	}
}

func (p *fakePlug) port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

func (p *fakePlug) expect(want string) {
	p.t.Helper()
	select {
	case got := <-p.got:
		if got != want {
			p.t.Fatalf("plug received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		p.t.Fatalf("plug did not receive %q", want)
	}
}

func (p *fakePlug) send(datagram string) {
	p.t.Helper()
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if _, err := p.conn.WriteToUDP([]byte(datagram), peer); err != nil {
		p.t.Fatalf("WriteToUDP: %v", err)
	}
}

func TestClient_ConnectReceiveDisconnect(t *testing.T) {
	fp := newFakePlug(t)
	c := New(plugMAC, "127.0.0.1", fp.port(), WithResubscribeInterval(0))

	received := make(chan Message, 4)
	c.Subscribe(EventAveragePower, func(event string, msg Message) {
		if event != EventAveragePower {
			t.Errorf("handler got event %q", event)
		}
		received <- msg
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fp.expect(subscribeCommand)
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	fp.send(`{"type":"instant_power","device":"plug","mac":"aabbccddeeff","unit":"W","power":150}`)

	select {
	case msg := <-received:
		if w, _ := msg.Float("watts"); w != 150 {
			t.Errorf("watts = %v", w)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("average_power not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	fp.expect(unsubscribeCommand)

	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if s := c.Stats(); s.DatagramsRx != 1 {
		t.Errorf("DatagramsRx = %d, want 1", s.DatagramsRx)
	}
}

func TestClient_ExceptionEvent(t *testing.T) {
	fp := newFakePlug(t)
	c := New(plugMAC, "127.0.0.1", fp.port(), WithResubscribeInterval(0))

	got := make(chan Message, 1)
	c.Subscribe(EventException, func(_ string, msg Message) { got <- msg })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect(context.Background()) //nolint:errcheck // Test cleanup
	fp.expect(subscribeCommand)

	fp.send(`not json`)

	select {
	case msg := <-got:
		if msg.MAC() != plugMAC {
			t.Errorf("exception mac = %q", msg.MAC())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exception not delivered")
	}
}

func TestClient_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	fp := newFakePlug(t)
	c := New(plugMAC, "127.0.0.1", fp.port(), WithResubscribeInterval(0))

	delivered := make(chan struct{}, 2)
	c.Subscribe(EventAveragePower, func(string, Message) { panic("boom") })
	c.Subscribe(EventAveragePower, func(string, Message) { delivered <- struct{}{} })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect(context.Background()) //nolint:errcheck // Test cleanup
	fp.expect(subscribeCommand)

	fp.send(`{"type":"instant_power","mac":"aabbccddeeff","unit":"W","power":1}`)
	fp.send(`{"type":"instant_power","mac":"aabbccddeeff","unit":"W","power":2}`)

	for range 2 {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery stopped after handler panic")
		}
	}
}

func TestClient_Resubscribes(t *testing.T) {
	fp := newFakePlug(t)
	c := New(plugMAC, "127.0.0.1", fp.port(), WithResubscribeInterval(20*time.Millisecond))

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect(context.Background()) //nolint:errcheck // Test cleanup

	fp.expect(subscribeCommand)
	fp.expect(subscribeCommand)
}

func TestClient_ConnectStates(t *testing.T) {
	fp := newFakePlug(t)
	c := New(plugMAC, "127.0.0.1", fp.port(), WithResubscribeInterval(0))

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() = %v, want nil", err)
	}
	if err := c.Connect(); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Disconnect = %v, want ErrClosed", err)
	}
}

func TestClient_DisconnectNeverConnected(t *testing.T) {
	c := New(plugMAC, "127.0.0.1", 49476)
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
	if c.Addr() != "127.0.0.1:49476" {
		t.Errorf("Addr() = %q", c.Addr())
	}
}

func TestClient_ConnectBadAddress(t *testing.T) {
	c := New(plugMAC, "127.0.0.1", -1)
	if err := c.Connect(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() = %v, want ErrConnectionFailed", err)
	}
}
