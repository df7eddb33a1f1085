package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/session"
)

// fakeConn scripts the server side of the protocol.
type fakeConn struct {
	mu             sync.Mutex
	handlers       map[string]func(json.RawMessage)
	defaultHandler func(string, json.RawMessage)

	acked  []string // event names sent with EmitWithAck, in order
	emits  []string // fire-and-forget event names, in order
	reply  func(eventName string, payload any) (any, error)
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		reply: func(eventName string, _ any) (any, error) {
			switch eventName {
			case event.ControlRegister:
				return event.RegisterResponse{Success: true, ConnectedTerminals: []string{"term_1"}}, nil
			case event.ControlReplay:
				return event.ReplayResponse{Success: true}, nil
			default:
				return map[string]bool{"success": true}, nil
			}
		},
	}
}

func (f *fakeConn) On(eventName string, h func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventName] = h
}

func (f *fakeConn) OnDefault(h func(string, json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultHandler = h
}

func (f *fakeConn) Emit(_ context.Context, eventName string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, eventName)
	return nil
}

func (f *fakeConn) EmitWithAck(_ context.Context, eventName string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.acked = append(f.acked, eventName)
	reply := f.reply
	f.mu.Unlock()

	resp, err := reply(eventName, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// deliver pushes a server event into the client's receive path.
func (f *fakeConn) deliver(eventName string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	f.mu.Lock()
	h, ok := f.handlers[eventName]
	fallback := f.defaultHandler
	f.mu.Unlock()

	if ok {
		h(data)
		return
	}
	if fallback != nil {
		fallback(eventName, data)
	}
}

func (f *fakeConn) ackedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func (f *fakeConn) emittedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emits...)
}

func newTestClient(conn *fakeConn) *Client {
	return New(func(context.Context) (Conn, error) {
		return conn, nil
	}, Config{
		Info: session.Info{TerminalID: "term_1", LocationID: "loc_1", Role: session.RolePOS},
		Queue: QueueConfig{
			MaxRetries:    50,
			BaseDelay:     time.Millisecond,
			MaxDelay:      2 * time.Millisecond,
			SweepInterval: 10 * time.Millisecond,
		},
	})
}

func TestConnectRegistersThenReplays(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	connected, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(connected) != 1 || connected[0] != "term_1" {
		t.Errorf("connected = %v, want [term_1]", connected)
	}

	got := conn.ackedEvents()
	if len(got) != 2 || got[0] != event.ControlRegister || got[1] != event.ControlReplay {
		t.Fatalf("control sequence = %v, want [register, replay]", got)
	}
	if !c.Connected() {
		t.Error("client not connected after Connect")
	}
}

func TestConnectRejectedRegistration(t *testing.T) {
	conn := newFakeConn()
	conn.reply = func(eventName string, _ any) (any, error) {
		if eventName == event.ControlRegister {
			return event.RegisterResponse{Success: false}, nil
		}
		return map[string]bool{"success": true}, nil
	}
	c := newTestClient(conn)

	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrRegistrationRejected) {
		t.Fatalf("err = %v, want ErrRegistrationRejected", err)
	}
	if c.Connected() {
		t.Error("client connected after rejection")
	}
}

func TestReceiveDispatchesOnceAndAcksEveryDelivery(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	var handled []string
	c.Subscribe("order:*", func(env *event.Envelope) {
		handled = append(handled, env.EventID)
	})

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	env := event.Envelope{
		EventID:     "evt_01h455vb4pex5vsknk084sn02q",
		Type:        "order:created",
		Timestamp:   time.Now().UnixMilli(),
		RequiresAck: true,
	}

	// Original delivery, then a retry of the same event.
	conn.deliver("order:created", env)
	conn.deliver("order:created", env)

	if len(handled) != 1 {
		t.Fatalf("handler ran %d times, want 1 (duplicate suppressed)", len(handled))
	}

	// Both deliveries were acked: the retry means the server has not seen
	// the first ack.
	acks := 0
	for _, name := range conn.emittedEvents() {
		if name == event.ControlAck {
			acks++
		}
	}
	if acks != 2 {
		t.Fatalf("acks = %d, want 2", acks)
	}

	cur := c.Cursor()
	if cur.LastEventID != env.EventID || cur.LastTimestamp != env.Timestamp {
		t.Errorf("cursor = %+v, want advanced to the envelope", cur)
	}
}

func TestSubscribePatternMatching(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	var orders, everything int
	c.Subscribe("order:*", func(*event.Envelope) { orders++ })
	c.Subscribe("*", func(*event.Envelope) { everything++ })

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.deliver("order:created", event.Envelope{EventID: "evt_a", Type: "order:created"})
	conn.deliver("menu:updated", event.Envelope{EventID: "evt_b", Type: "menu:updated"})

	if orders != 1 {
		t.Errorf("order:* handler ran %d times, want 1", orders)
	}
	if everything != 2 {
		t.Errorf("* handler ran %d times, want 2", everything)
	}
}

func TestEmitConfirmedByServer(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	ctx := context.Background()
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Start(ctx)
	defer c.Stop(ctx)

	_, result := c.Emit(ctx, "order:created", map[string]any{"orderId": "ord_1"})

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("result = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("emit never confirmed")
	}
}

func TestEmitQueuesWhileOffline(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)
	ctx := context.Background()

	c.Start(ctx)
	defer c.Stop(ctx)

	// Offline: the item stays queued.
	_, result := c.Emit(ctx, "order:created", nil)
	select {
	case err := <-result:
		t.Fatalf("offline emit settled early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Coming online recovers it via the retry sweep.
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("result = %v, want nil after connect", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued item never confirmed after connect")
	}
}

func TestPresenceNotices(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(conn)

	var connected, disconnected []string
	c.OnTerminalConnected(func(terminalID, _ string) { connected = append(connected, terminalID) })
	c.OnTerminalDisconnected(func(terminalID, _ string) { disconnected = append(disconnected, terminalID) })

	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.deliver(session.EventTerminalConnected, session.ConnectedNotice{TerminalID: "term_2", Name: "Bar"})
	conn.deliver(session.EventTerminalDisconnected, session.DisconnectedNotice{TerminalID: "term_2", Name: "Bar"})

	if len(connected) != 1 || connected[0] != "term_2" {
		t.Errorf("connected notices = %v", connected)
	}
	if len(disconnected) != 1 || disconnected[0] != "term_2" {
		t.Errorf("disconnected notices = %v", disconnected)
	}
}
