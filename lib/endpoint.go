package lib

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"time"
)

// udpEndpoint wraps one bound UDP socket. It sends and receives single
// protocol datagrams, optionally waiting a bounded time for arrival, and
// injects simulated loss on ingress.
type udpEndpoint struct {
	conn     *net.UDPConn
	peerAddr *net.UDPAddr // nil until known; adopted from the first arrival on a listener
	lossRate float64      // ingress drop probability [0,1]
	isDead   bool         // set when the socket becomes unusable underneath us
	tracer   *Tracer
	capture  *Capture
	sendBuf  [MaxPacketSize]byte
	// recvBuf is one byte larger than the biggest legal frame so oversize
	// datagrams are detectable instead of silently truncated.
	recvBuf [MaxPacketSize + 1]byte
}

func newUdpEndpoint(conn *net.UDPConn, lossRate float64, tracer *Tracer, capture *Capture) *udpEndpoint {
	return &udpEndpoint{
		conn:     conn,
		lossRate: lossRate,
		tracer:   tracer,
		capture:  capture,
	}
}

func (e *udpEndpoint) localAddr() *net.UDPAddr {
	if addr, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr
	}
	return nil
}

// sendPacket marshals and transmits a single datagram to the peer.
func (e *udpEndpoint) sendPacket(p *RudpPacket) (int, error) {
	if e.isDead {
		return 0, ErrConnectionDead
	}

	n, err := p.Marshal(e.sendBuf[:])
	if err != nil {
		return 0, err
	}

	sent, err := e.conn.WriteToUDP(e.sendBuf[:n], e.peerAddr)
	if err != nil {
		if isFatalSocketError(err) {
			e.isDead = true
			return 0, ErrConnectionDead
		}
		return 0, err
	}

	e.capture.Record(e.localAddr(), e.peerAddr, e.sendBuf[:n])

	return sent, nil
}

// recvPacket waits up to timeout for one datagram and decodes it. A negative
// timeout blocks indefinitely; a zero timeout polls. Returns ErrTimeout when
// nothing arrived, ErrPacketDropped when the loss simulation discarded the
// datagram, ErrMalformedPacket for undecodable arrivals, and
// ErrConnectionDead when the socket is gone.
func (e *udpEndpoint) recvPacket(timeout time.Duration) (*RudpPacket, error) {
	if e.isDead {
		return nil, ErrConnectionDead
	}

	switch {
	case timeout < 0:
		e.conn.SetReadDeadline(time.Time{})
	case timeout == 0:
		// a zero wait still has to pick up anything already queued
		e.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	default:
		e.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, fromAddr, err := e.conn.ReadFromUDP(e.recvBuf[:])
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, ErrTimeout
		}
		if isFatalSocketError(err) {
			e.isDead = true
			return nil, ErrConnectionDead
		}
		// transient read errors behave like an empty wait
		return nil, ErrTimeout
	}

	if n < HeaderSize {
		return nil, ErrMalformedPacket
	}

	// Simulated packet loss applies to ingress only; egress losses are the
	// peer's business.
	if e.lossRate > 0 && rand.Float64() < e.lossRate {
		e.tracer.Event("DROP DATA SEQ=%d", binary.BigEndian.Uint32(e.recvBuf[0:4]))
		return nil, ErrPacketDropped
	}

	// Adopt the source as our peer if we don't have one yet.
	if e.peerAddr == nil {
		e.peerAddr = fromAddr
	}

	e.capture.Record(fromAddr, e.localAddr(), e.recvBuf[:n])

	packet := &RudpPacket{}
	if err := packet.Unmarshal(e.recvBuf[:n]); err != nil {
		return nil, ErrMalformedPacket
	}

	return packet, nil
}

func (e *udpEndpoint) close() {
	if e.conn != nil {
		e.conn.Close()
	}
	e.isDead = true
}

func isFatalSocketError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
