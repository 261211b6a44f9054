package lib

import "errors"

// Error kinds surfaced by the engine. Transient conditions (timeout, dropped,
// malformed) are absorbed internally and never reach callers.
var (
	ErrWrongState      = errors.New("operation not allowed in current connection state")
	ErrNotConnected    = errors.New("connection is not established")
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrMalformedPacket = errors.New("malformed packet")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum segment size")
	ErrPacketDropped   = errors.New("packet dropped by loss simulation")
	ErrTimeout         = errors.New("timed wait elapsed")
	ErrUnrecoverable   = errors.New("max retransmissions exceeded")
	ErrConnectionDead  = errors.New("underlying socket is no longer usable")
)
