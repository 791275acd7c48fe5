package redis

// Stream entry fields
const (
	fieldMsg     = "msg" // xrv wire encoding
	fieldSender  = "sender"
	fieldSeqno   = "seqno"
	fieldExpires = "expires" // unix ns, 0 = never
)

// Key layout under the Service prefix
const (
	streamPrefix = "xrv:cm:"
	seqPrefix    = "xrv:seq:"
)
