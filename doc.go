// Package courier provides reliable event delivery for multi-terminal
// point-of-sale deployments.
//
// Courier is a library, not a service. The same core runs inside the
// cloud backend gateway and inside the LAN server embedded in the desktop
// app, parameterized over a bidirectional pub/sub transport with named
// events, rooms, and per-call reply callbacks. It guarantees that
// terminals receive every order, menu, and sync event exactly once in
// effect, despite connection drops, reconnects, and slow consumers, and
// without a durable broker.
//
// Key pieces:
//   - In-memory event record store with a pending/sent/delivered/failed
//     state machine, bounded by retention and size eviction
//   - Retry scheduler with deterministic exponential backoff
//   - Fanout router over location rooms, role rooms, and direct targets
//   - Replay of missed events on terminal reconnect
//   - Terminal-side send queue and receive de-duplication (package client)
//
// Quick start:
//
//	srv := ws.NewServer(nil)
//	c, err := courier.New(
//	    courier.WithTransport(srv),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c.Start(ctx)
//	defer c.Stop(ctx)
//
//	c.Publish(ctx, "order:created", order, dispatch.Options{
//	    Scope: "loc_main_street",
//	})
package courier
