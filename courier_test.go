package courier

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/catalog"
	"github.com/tabflow/courier/dispatch"
	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/session"
	"github.com/tabflow/courier/transport/transporttest"
)

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("err = %v, want ErrNoTransport", err)
	}
}

func TestPublishRequiresTopic(t *testing.T) {
	c, err := New(WithTransport(transporttest.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Publish(context.Background(), "", nil, dispatch.Options{}); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("err = %v, want ErrEmptyTopic", err)
	}
}

func TestPublishRejectsUnknownTopicWithCatalog(t *testing.T) {
	cat := catalog.New(nil)
	if _, err := cat.Register(context.Background(), catalog.Definition{Name: "order:created"}); err != nil {
		t.Fatalf("catalog register: %v", err)
	}

	c, err := New(WithTransport(transporttest.New()), WithCatalog(cat))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Publish(ctx, "order:created", nil, dispatch.Options{}); err != nil {
		t.Fatalf("known topic rejected: %v", err)
	}
	if _, err := c.Publish(ctx, "order:bogus", nil, dispatch.Options{}); !errors.Is(err, catalog.ErrTopicNotFound) {
		t.Fatalf("err = %v, want ErrTopicNotFound", err)
	}
}

func registerTerminal(t *testing.T, c *Courier, fake *transporttest.Fake, connID, terminalID, locationID string) *transporttest.Conn {
	t.Helper()

	conn := fake.Connect(connID)
	reply := fake.Receive(context.Background(), conn, event.ControlRegister, session.Info{
		TerminalID: terminalID,
		LocationID: locationID,
		Role:       session.RolePOS,
	})
	resp, ok := reply.(event.RegisterResponse)
	if !ok || !resp.Success {
		t.Fatalf("registration reply = %+v", reply)
	}
	return conn
}

func TestPublishAckDeliveryLoop(t *testing.T) {
	fake := transporttest.New()
	c, err := New(WithTransport(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	conn := registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")
	fake.Reset()

	evtID, err := c.Publish(ctx, "order:created", map[string]any{"orderId": "ord_1"}, dispatch.Options{Scope: "loc_1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	st := c.Stats(ctx)
	if st.Sent != 1 {
		t.Fatalf("stats after publish = %+v, want 1 sent", st)
	}

	reply := fake.Receive(ctx, conn, event.ControlAck, event.AckRequest{EventID: evtID.String()})
	ack, ok := reply.(event.AckResponse)
	if !ok || !ack.Success {
		t.Fatalf("ack reply = %+v", reply)
	}

	st = c.Stats(ctx)
	if st.Delivered != 1 || st.Sent != 0 {
		t.Fatalf("stats after ack = %+v, want 1 delivered", st)
	}
}

func TestAckUnknownEventIsNonFatal(t *testing.T) {
	fake := transporttest.New()
	c, err := New(WithTransport(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	conn := registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")

	reply := fake.Receive(ctx, conn, event.ControlAck, event.AckRequest{
		EventID: "evt_01h455vb4pex5vsknk084sn02q",
	})
	ack, ok := reply.(event.AckResponse)
	if !ok {
		t.Fatalf("reply = %+v", reply)
	}
	if ack.Success {
		t.Fatal("ack of unknown event reported success")
	}
}

func TestAckFromUnregisteredConnectionRejected(t *testing.T) {
	fake := transporttest.New()
	if _, err := New(WithTransport(fake)); err != nil {
		t.Fatalf("New: %v", err)
	}

	conn := fake.Connect("conn_stranger")
	reply := fake.Receive(context.Background(), conn, event.ControlAck, event.AckRequest{EventID: "evt_x"})
	if ack, ok := reply.(event.AckResponse); !ok || ack.Success {
		t.Fatalf("reply = %+v, want unsuccessful AckResponse", reply)
	}
}

func TestReplayControlMessage(t *testing.T) {
	fake := transporttest.New()
	c, err := New(WithTransport(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	// Terminal connects, then drops.
	registerTerminal(t, c, fake, "conn_old", "term_1", "loc_1")
	fake.Disconnect("conn_old")

	// Missed while away.
	missed, err := c.Publish(ctx, "order:created", nil, dispatch.Options{Scope: "loc_1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := c.Publish(ctx, "order:created", nil, dispatch.Options{Scope: "loc_other"}); err != nil {
		t.Fatalf("Publish other: %v", err)
	}

	// Reconnect and replay.
	conn := registerTerminal(t, c, fake, "conn_new", "term_1", "loc_1")
	fake.Reset()

	reply := fake.Receive(ctx, conn, event.ControlReplay, event.Cursor{})
	resp, ok := reply.(event.ReplayResponse)
	if !ok || !resp.Success {
		t.Fatalf("replay reply = %+v", reply)
	}
	if resp.ReplayedCount != 1 || resp.Events[0].EventID != missed.String() {
		t.Fatalf("replayed = %+v, want just %s", resp.Events, missed)
	}

	direct := fake.SentTo("conn_new")
	if len(direct) != 1 || direct[0].Event != "order:created" {
		t.Fatalf("direct sends = %+v, want the missed envelope", direct)
	}
}

func TestStatsControlMessage(t *testing.T) {
	fake := transporttest.New()
	c, err := New(WithTransport(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	conn := registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")
	if _, err := c.Publish(ctx, "order:created", nil, dispatch.Options{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	reply := fake.Receive(ctx, conn, event.ControlStats, nil)
	raw, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal stats reply: %v", err)
	}
	var decoded struct {
		Total int `json:"total"`
		Sent  int `json:"sent"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal stats reply: %v", err)
	}
	if decoded.Total != 1 || decoded.Sent != 1 {
		t.Fatalf("stats = %+v, want total=1 sent=1", decoded)
	}
}

func TestClientEventHandlerInvoked(t *testing.T) {
	fake := transporttest.New()

	type received struct {
		terminalID string
		topic      string
	}
	var got []received

	c, err := New(
		WithTransport(fake),
		WithClientEventHandler(func(_ context.Context, sess *session.Session, topic string, _ json.RawMessage) error {
			got = append(got, received{terminalID: sess.TerminalID, topic: topic})
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	conn := registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")

	reply := fake.Receive(ctx, conn, "order:created", map[string]any{"orderId": "ord_1"})
	raw, _ := json.Marshal(reply)
	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || !resp.Success {
		t.Fatalf("client event reply = %+v", reply)
	}

	if len(got) != 1 || got[0].terminalID != "term_1" || got[0].topic != "order:created" {
		t.Fatalf("handler saw %+v", got)
	}
}

func TestClientEventFromUnregisteredConnectionRejected(t *testing.T) {
	fake := transporttest.New()
	var invoked bool
	_, err := New(
		WithTransport(fake),
		WithClientEventHandler(func(context.Context, *session.Session, string, json.RawMessage) error {
			invoked = true
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conn := fake.Connect("conn_stranger")
	reply := fake.Receive(context.Background(), conn, "order:created", nil)

	raw, _ := json.Marshal(reply)
	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Success {
		t.Fatalf("reply = %+v, want failure", reply)
	}
	if invoked {
		t.Fatal("handler ran for an unregistered connection")
	}
}

func TestClientEventRateLimited(t *testing.T) {
	fake := transporttest.New()
	c, err := New(
		WithTransport(fake),
		WithClientEventRate(1),
		WithClientEventHandler(func(context.Context, *session.Session, string, json.RawMessage) error {
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	conn := registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")

	success := func(reply any) bool {
		raw, _ := json.Marshal(reply)
		var resp struct {
			Success bool `json:"success"`
		}
		json.Unmarshal(raw, &resp)
		return resp.Success
	}

	if !success(fake.Receive(ctx, conn, "order:created", nil)) {
		t.Fatal("first event rejected")
	}
	if success(fake.Receive(ctx, conn, "order:created", nil)) {
		t.Fatal("second immediate event not throttled at 1/s")
	}
}

func TestDisconnectUnregistersSession(t *testing.T) {
	fake := transporttest.New()
	c, err := New(WithTransport(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	registerTerminal(t, c, fake, "conn_1", "term_1", "loc_1")
	if c.Sessions().Count() != 1 {
		t.Fatalf("count = %d, want 1", c.Sessions().Count())
	}

	fake.Disconnect("conn_1")
	if c.Sessions().Count() != 0 {
		t.Fatalf("count = %d after disconnect, want 0", c.Sessions().Count())
	}

	// Identity survives for replay scope resolution.
	if _, ok := c.Sessions().Identity("term_1"); !ok {
		t.Fatal("identity lost on disconnect")
	}
}
