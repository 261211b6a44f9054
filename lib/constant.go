package lib

import "time"

// Flag constants
const (
	// RUDP flag constants
	SYNFlag uint16 = 0x1
	ACKFlag uint16 = 0x2
	FINFlag uint16 = 0x4
)

const (
	HeaderSize    = 12   // fixed RUDP header: seq(4) + ack(4) + flags(2) + window(2)
	MaxDataSize   = 1024 // MSS: maximum payload bytes per segment
	MaxPacketSize = HeaderSize + MaxDataSize
)

const (
	DefaultWindowSize     = 10 // max in-flight segments on the sender
	DefaultRTO            = 500 * time.Millisecond
	DefaultMaxRetries     = 5
	DefaultRecvBufferSize = 32 * 1024
	// initial assumption about the peer's window until its first advertisement
	DefaultAdvertisedWindow = 16 * 1024
	MaxAdvertisedWindow     = 65535
	DefaultPoolSize       = 2000
)

// Connection states
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

var stateNames = map[State]string{
	StateClosed:      "CLOSED",
	StateListen:      "LISTEN",
	StateSynSent:     "SYN_SENT",
	StateSynReceived: "SYN_RECEIVED",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN_WAIT_1",
	StateFinWait2:    "FIN_WAIT_2",
	StateCloseWait:   "CLOSE_WAIT",
	StateClosing:     "CLOSING",
	StateLastAck:     "LAST_ACK",
	StateTimeWait:    "TIME_WAIT",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
