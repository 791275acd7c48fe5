// Package nats provides a NATS driver for xrv.
//
// Driver name: "nats"
//
// Standard delivery uses core subjects prefixed with SessionConfig.Service.
// Certified delivery uses one JetStream stream per service and one durable
// pull consumer per certified name and subject; wildcard subjects work for
// both.
//
// Minimal config keys:
// - url: server URL (default "nats://127.0.0.1:4222"); SessionConfig.Daemon overrides it
// - name, user, password, token
// - timeout, reconnect_wait, max_reconnects
// - stream_prefix: stream name prefix (default "XRV")
// - fetch_batch: pull batch size (default 64)
// - fetch_wait: pull wait per batch (default 1s)
// - ack_wait: redelivery delay for unconfirmed entries (default 30s)
// - max_age: stream retention (default 0, unlimited)
package nats
