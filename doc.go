// Package xrv connects generic messages to a Rendezvous-style subject based
// publish/subscribe bus.
//
// A Client (StandardClient or CertifiedClient) owns a Session: a driver
// connection plus the event queue its listeners post to. A Dispatcher pumps
// the queue and runs listener callbacks on its own goroutine.
//
// Translator converts between Message (id, payload, optional content
// encoding, ordered metadata) and the vendor Msg of named typed fields.
// Consumer and Producer bind a client and a translator to a handler or a
// Destination.
//
// Drivers self-register by name; import one for side effects or inject it:
//
//	import _ "github.com/trickstertwo/xrv/adapter/memory"
//
//	c, err := xrv.NewConsumer("orders.created",
//		xrv.WithHandler(func(ctx context.Context, m *xrv.Message) error {
//			return nil
//		}),
//	)
//	if err != nil { ... }
//	if err := c.Init(ctx); err != nil { ... }
//	_ = c.Start()
//	defer c.Close()
package xrv
