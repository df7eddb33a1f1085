package courier

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/session"
	"github.com/tabflow/courier/transport"
)

// bindHandlers wires the control message surface onto the transport:
// registration, acknowledgements, replay, stats, and the fallback path
// for client-originated topic events.
func (c *Courier) bindHandlers() {
	c.transport.HandleFunc(event.ControlRegister, c.handleRegister)
	c.transport.HandleFunc(event.ControlAck, c.handleAck)
	c.transport.HandleFunc(event.ControlReplay, c.handleReplay)
	c.transport.HandleFunc(event.ControlStats, c.handleStats)
	c.transport.HandleDefault(c.handleClientEvent)

	c.transport.OnDisconnect(func(connID string) {
		// Disconnecting does not cancel the terminal's in-flight records;
		// they stay eligible for retry and replay until delivered, failed,
		// or evicted.
		c.registry.Unregister(context.Background(), connID)
		c.limiter.Reset(connID)
	})
}

// handleRegister binds the connection to a terminal identity.
func (c *Courier) handleRegister(ctx context.Context, conn transport.Conn, data []byte, reply transport.ReplyFunc) {
	var info session.Info
	if err := json.Unmarshal(data, &info); err != nil {
		c.logger.WarnContext(ctx, "malformed register request",
			"conn_id", conn.ID(), "error", err)
		respond(reply, event.RegisterResponse{Success: false})
		return
	}

	_, connected, err := c.registry.Register(ctx, conn.ID(), info)
	if err != nil {
		c.logger.WarnContext(ctx, "registration rejected",
			"conn_id", conn.ID(), "error", err)
		respond(reply, event.RegisterResponse{Success: false})
		return
	}

	respond(reply, event.RegisterResponse{Success: true, ConnectedTerminals: connected})
}

// handleAck marks a reliable event acknowledged by the sending terminal.
// The terminal identity is inferred from the session; unknown event IDs
// are logged and reported as failure, never fatal.
func (c *Courier) handleAck(ctx context.Context, conn transport.Conn, data []byte, reply transport.ReplyFunc) {
	sess, ok := c.registry.Get(conn.ID())
	if !ok {
		c.logger.WarnContext(ctx, "ack from unregistered connection", "conn_id", conn.ID())
		respond(reply, event.AckResponse{Success: false})
		return
	}

	var req event.AckRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.WarnContext(ctx, "malformed ack request",
			"conn_id", conn.ID(), "error", err)
		respond(reply, event.AckResponse{Success: false})
		return
	}

	evtID, err := id.ParseEventID(req.EventID)
	if err != nil {
		c.logger.WarnContext(ctx, "ack with invalid event id",
			"terminal_id", sess.TerminalID, "event_id", req.EventID, "error", err)
		respond(reply, event.AckResponse{Success: false})
		return
	}

	if !c.store.Acknowledge(ctx, evtID, sess.TerminalID) {
		// Already evicted, or the server restarted since the send.
		c.logger.DebugContext(ctx, "ack for unknown event",
			"terminal_id", sess.TerminalID, "event_id", req.EventID)
		if c.metrics != nil {
			c.metrics.RecordAck("unknown")
		}
		respond(reply, event.AckResponse{Success: false})
		return
	}

	if c.metrics != nil {
		c.metrics.RecordAck("ok")
	}
	respond(reply, event.AckResponse{Success: true})
}

// handleReplay re-sends everything the terminal missed since its cursor.
func (c *Courier) handleReplay(ctx context.Context, conn transport.Conn, data []byte, reply transport.ReplyFunc) {
	sess, ok := c.registry.Get(conn.ID())
	if !ok {
		c.logger.WarnContext(ctx, "replay from unregistered connection", "conn_id", conn.ID())
		respond(reply, event.ReplayResponse{Success: false})
		return
	}

	var since event.Cursor
	if len(data) > 0 {
		if err := json.Unmarshal(data, &since); err != nil {
			c.logger.WarnContext(ctx, "malformed replay request",
				"terminal_id", sess.TerminalID, "error", err)
			respond(reply, event.ReplayResponse{Success: false})
			return
		}
	}

	replayed, err := c.resolver.Replay(ctx, sess.TerminalID, conn.ID(), since)
	if err != nil {
		respond(reply, event.ReplayResponse{Success: false})
		return
	}

	respond(reply, event.ReplayResponse{
		Success:       true,
		ReplayedCount: len(replayed),
		Events:        replayed,
	})
}

// handleStats reports the store's per-state counts.
func (c *Courier) handleStats(ctx context.Context, _ transport.Conn, _ []byte, reply transport.ReplyFunc) {
	respond(reply, c.store.Stats(ctx))
}

type clientEventResponse struct {
	Success bool `json:"success"`
}

// handleClientEvent is the fallback path for topic events that terminals
// originate. The reply doubles as the client send queue's confirmation:
// replying success releases the item, anything else leaves it pending for
// the client's retry sweep.
func (c *Courier) handleClientEvent(ctx context.Context, conn transport.Conn, topic string, data []byte, reply transport.ReplyFunc) {
	sess, ok := c.registry.Get(conn.ID())
	if !ok {
		c.logger.WarnContext(ctx, "client event from unregistered connection",
			"conn_id", conn.ID(), "topic", topic)
		respond(reply, clientEventResponse{Success: false})
		return
	}

	if !c.limiter.Allow(conn.ID(), c.config.ClientEventRate) {
		c.logger.WarnContext(ctx, "client event rate limited",
			"terminal_id", sess.TerminalID, "topic", topic)
		respond(reply, clientEventResponse{Success: false})
		return
	}

	if c.clientEvents != nil {
		if err := c.clientEvents(ctx, sess, topic, data); err != nil {
			c.logger.WarnContext(ctx, "client event handler failed",
				"terminal_id", sess.TerminalID, "topic", topic, "error", err)
			respond(reply, clientEventResponse{Success: false})
			return
		}
	}

	respond(reply, clientEventResponse{Success: true})
}

// respond invokes the reply callback when the sender asked for one.
func respond(reply transport.ReplyFunc, payload any) {
	if reply != nil {
		reply(payload)
	}
}
