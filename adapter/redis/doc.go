// Package redis provides a Redis driver for xrv.
//
// Driver name: "redis"
//
// Standard delivery uses pub/sub channels named Service + ":" + subject;
// wildcard listeners use PSUBSCRIBE and exact token matching on receipt.
// Certified delivery appends to one stream per subject and reads with a
// consumer group per certified name, so stream entries double as the ledger.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379"); SessionConfig.Daemon overrides it
// - username, password, db
// - tls: enable TLS (default false), tls_server_name
// - batch_size: XREADGROUP COUNT (default 64)
// - block: XREADGROUP BLOCK duration (default 1s)
// - max_len_approx: approximate MAXLEN per stream (default 0, unbounded)
// - ack_timeout: XACK and advisory timeout (default 5s)
//
// Example builder usage:
//
//	c, _ := xrv.NewBuilder().
//	    WithDriver(redis.DriverName, map[string]any{
//	        "addr":  "localhost:6379",
//	        "block": "2s",
//	    }).
//	    WithSession(xrv.SessionConfig{Service: "orders"}).
//	    BuildConsumer("orders.created", handler)
package redis
