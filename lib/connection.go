package lib

import (
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// ConnectionConfig carries the per-connection protocol tunables.
type ConnectionConfig struct {
	WindowSize     int           // max in-flight segments
	RTO            time.Duration // per-segment retransmission timeout
	MaxRetries     int           // retransmission attempts before the connection is declared unrecoverable
	RecvBufferSize int           // receive buffer capacity in bytes
	LossRate       float64       // simulated ingress drop probability [0,1]
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		WindowSize:     DefaultWindowSize,
		RTO:            DefaultRTO,
		MaxRetries:     DefaultMaxRetries,
		RecvBufferSize: DefaultRecvBufferSize,
	}
}

// windowEntry is one slot of the sender's sliding window.
type windowEntry struct {
	packet  *RudpPacket
	sentAt  time.Time // last transmission time
	retries int
	acked   bool
}

// Connection owns one UDP endpoint and all per-connection protocol state.
// A connection is not safe for concurrent use; the engine is cooperative and
// makes progress only inside Send/Recv/Close calls.
type Connection struct {
	config   *ConnectionConfig
	endpoint *udpEndpoint
	tracer   *Tracer
	capture  *Capture

	state      State
	ownsSocket bool // accepted connections share the listener's socket

	// sequence number management
	initialSeq uint32
	sendSeq    uint32 // next sequence number to send
	recvSeq    uint32 // next sequence number expected
	sendBase   uint32 // oldest unacknowledged sequence number

	// sliding window for the sender
	sendWindow  []windowEntry
	windowStart int
	windowCount int

	// receiver staging area for segments ahead of recvSeq, ordered by
	// wrap-safe sequence comparison
	oooBuffer *btree.BTreeG[*RudpPacket]

	// flow control
	peerWindow        uint16 // peer's last advertised window (bytes)
	lastByteSent      uint32
	lastByteAcked     uint32
	recvBufferSize    int
	recvBufferUsed    int
	lastAdvertisedWin int
}

func newConnection(config *ConnectionConfig, tracer *Tracer, capture *Capture) (*Connection, error) {
	if config == nil {
		config = DefaultConnectionConfig()
	}

	isn, err := GenerateISN()
	if err != nil {
		return nil, errors.Wrap(err, "generating ISN")
	}

	conn := &Connection{
		config:         config,
		tracer:         tracer,
		capture:        capture,
		state:          StateClosed,
		initialSeq:     isn,
		sendSeq:        isn,
		sendBase:       isn,
		lastByteSent:   isn,
		lastByteAcked:  isn,
		peerWindow:     DefaultAdvertisedWindow,
		recvBufferSize: config.RecvBufferSize,
		sendWindow:     make([]windowEntry, config.WindowSize),
		oooBuffer: btree.NewG[*RudpPacket](2, func(a, b *RudpPacket) bool {
			return isLess(a.SequenceNumber, b.SequenceNumber)
		}),
	}

	return conn, nil
}

func (c *Connection) State() State {
	return c.state
}

func (c *Connection) LocalAddr() net.Addr {
	if c.endpoint == nil {
		return nil
	}
	return c.endpoint.conn.LocalAddr()
}

func (c *Connection) RemoteAddr() net.Addr {
	if c.endpoint == nil || c.endpoint.peerAddr == nil {
		return nil
	}
	return c.endpoint.peerAddr
}

// connect runs the initiator side of the three-way handshake.
func (c *Connection) connect(host string, port int) error {
	if c.state != StateClosed {
		return ErrWrongState
	}

	remoteAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.Wrapf(err, "resolving %s", host)
	}

	udpConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return errors.Wrap(err, "binding local socket")
	}
	c.endpoint = newUdpEndpoint(udpConn, c.config.LossRate, c.tracer, c.capture)
	c.endpoint.peerAddr = remoteAddr
	c.ownsSocket = true

	// Step 1: SYN
	syn := NewRudpPacket(c.sendSeq, 0, SYNFlag, c.advertisedWindow(), nil)
	if _, err := c.endpoint.sendPacket(syn); err != nil {
		c.release()
		return err
	}
	c.tracer.Event("SND SYN SEQ=%d", c.sendSeq)
	c.state = StateSynSent

	// Step 2: wait for SYN-ACK within one RTO
	synAck, err := c.awaitHandshakePacket(c.config.RTO)
	if err != nil {
		c.release()
		if err == ErrTimeout {
			return ErrHandshakeFailed
		}
		return err
	}

	if synAck.Flags&(SYNFlag|ACKFlag) != SYNFlag|ACKFlag ||
		synAck.AcknowledgmentNum != SeqIncrement(c.initialSeq) {
		synAck.ReturnChunk()
		c.release()
		return ErrHandshakeFailed
	}
	c.tracer.Event("RCV SYN-ACK SEQ=%d ACK=%d", synAck.SequenceNumber, synAck.AcknowledgmentNum)

	c.recvSeq = SeqIncrement(synAck.SequenceNumber)
	c.sendSeq = SeqIncrement(c.sendSeq)
	c.peerWindow = synAck.WindowSize
	synAck.ReturnChunk()

	// Step 3: ACK
	ack := NewRudpPacket(c.sendSeq, c.recvSeq, ACKFlag, c.advertisedWindow(), nil)
	if _, err := c.endpoint.sendPacket(ack); err != nil {
		c.release()
		return err
	}
	c.tracer.Event("SND ACK=%d", c.recvSeq)

	c.establish()
	return nil
}

// listen binds the local port and enters LISTEN.
func (c *Connection) listen(port int) error {
	if c.state != StateClosed {
		return ErrWrongState
	}

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return errors.Wrapf(err, "binding port %d", port)
	}
	c.endpoint = newUdpEndpoint(udpConn, c.config.LossRate, c.tracer, c.capture)
	c.ownsSocket = true
	c.state = StateListen

	log.Printf("RUDP listening on %s\n", udpConn.LocalAddr())
	return nil
}

// Accept waits for a SYN on the listening socket and runs the responder side
// of the three-way handshake. The accepted connection shares the listening
// socket; this design serves one peer at a time.
func (c *Connection) Accept() (*Connection, error) {
	if c.state != StateListen {
		return nil, ErrWrongState
	}

	for {
		syn, err := c.endpoint.recvPacket(-1)
		if err != nil {
			if err == ErrConnectionDead {
				return nil, io.EOF
			}
			continue // timeout, simulated drop, or malformed arrival
		}
		if syn.Flags&SYNFlag == 0 {
			// stray segment on the listener, likely a leftover of an
			// earlier connection
			syn.ReturnChunk()
			continue
		}
		c.tracer.Event("RCV SYN SEQ=%d", syn.SequenceNumber)

		child, err := newConnection(c.config, c.tracer, c.capture)
		if err != nil {
			return nil, err
		}
		child.endpoint = newUdpEndpoint(c.endpoint.conn, c.config.LossRate, c.tracer, c.capture)
		child.endpoint.peerAddr = c.endpoint.peerAddr
		child.ownsSocket = false
		child.recvSeq = SeqIncrement(syn.SequenceNumber)
		child.peerWindow = syn.WindowSize
		child.state = StateSynReceived
		syn.ReturnChunk()

		// let the listener adopt a fresh peer on the next SYN
		c.endpoint.peerAddr = nil

		synAck := NewRudpPacket(child.sendSeq, child.recvSeq, SYNFlag|ACKFlag, child.advertisedWindow(), nil)
		if _, err := child.endpoint.sendPacket(synAck); err != nil {
			return nil, err
		}
		c.tracer.Event("SND SYN-ACK SEQ=%d ACK=%d", child.sendSeq, child.recvSeq)
		child.sendSeq = SeqIncrement(child.sendSeq)

		// wait for the final ACK within one retransmission timeout
		finalAck, err := child.awaitHandshakePacket(child.config.RTO)
		if err != nil {
			if err == ErrConnectionDead {
				return nil, io.EOF
			}
			log.Println("accept: timeout waiting for final ACK, discarding connection")
			return nil, ErrHandshakeFailed
		}

		if finalAck.Flags&ACKFlag == 0 || finalAck.AcknowledgmentNum != child.sendSeq {
			finalAck.ReturnChunk()
			log.Println("accept: invalid final ACK, discarding connection")
			return nil, ErrHandshakeFailed
		}
		child.peerWindow = finalAck.WindowSize
		finalAck.ReturnChunk()
		c.tracer.Event("RCV ACK FOR SYN")

		child.establish()
		return child, nil
	}
}

// awaitHandshakePacket waits up to timeout for the next decodable arrival,
// absorbing simulated drops and malformed datagrams.
func (c *Connection) awaitHandshakePacket(timeout time.Duration) (*RudpPacket, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		p, err := c.endpoint.recvPacket(remaining)
		switch err {
		case nil:
			return p, nil
		case ErrPacketDropped, ErrMalformedPacket:
			continue
		case ErrTimeout:
			return nil, ErrTimeout
		default:
			return nil, err
		}
	}
}

// establish finalizes the transition into ESTABLISHED after a successful
// handshake on either side.
func (c *Connection) establish() {
	c.state = StateEstablished
	c.sendBase = c.sendSeq
	c.lastByteSent = c.sendSeq
	c.lastByteAcked = c.sendSeq
}

// Send transmits data reliably through the sliding window and returns once
// every byte has been cumulatively acknowledged by the peer.
func (c *Connection) Send(data []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, ErrNotConnected
	}

	bytesSent := 0
	for bytesSent < len(data) {
		// pick up any ACKs already queued on the socket
		if err := c.drainAcks(); err != nil {
			return bytesSent, err
		}

		if err := c.handleTimeouts(); err != nil {
			return bytesSent, err
		}

		// packet-count gate
		if c.windowCount >= c.config.WindowSize {
			SleepForMs(1)
			continue
		}

		chunkSize := len(data) - bytesSent
		if chunkSize > MaxDataSize {
			chunkSize = MaxDataSize
		}

		// flow-control gate
		if !c.canSendData(chunkSize) {
			SleepForMs(10)
			continue
		}

		packet := NewRudpPacket(c.sendSeq, c.recvSeq, 0, c.advertisedWindow(), data[bytesSent:bytesSent+chunkSize])
		if packet == nil {
			return bytesSent, errors.New("cannot allocate segment payload")
		}
		if _, err := c.endpoint.sendPacket(packet); err != nil {
			packet.ReturnChunk()
			return bytesSent, err
		}

		idx := (c.windowStart + c.windowCount) % c.config.WindowSize
		c.sendWindow[idx] = windowEntry{packet: packet, sentAt: time.Now()}
		c.windowCount++

		c.sendSeq = SeqIncrementBy(c.sendSeq, uint32(chunkSize))
		c.lastByteSent = SeqIncrementBy(c.lastByteSent, uint32(chunkSize))
		bytesSent += chunkSize

		c.tracer.Event("SND DATA SEQ=%d LEN=%d", packet.SequenceNumber, chunkSize)
	}

	// drain: everything emitted must be acknowledged before returning
	for c.windowCount > 0 {
		p, err := c.endpoint.recvPacket(c.config.RTO)
		if err == nil {
			if p.Flags&ACKFlag != 0 {
				c.processAck(p)
			}
			p.ReturnChunk()
		} else if err == ErrConnectionDead {
			return bytesSent, err
		}
		if err := c.handleTimeouts(); err != nil {
			return bytesSent, err
		}
	}

	return bytesSent, nil
}

// drainAcks polls the socket and processes every ACK already queued. Data
// segments arriving here cannot be delivered and are discarded; the peer's
// retransmission recovers them.
func (c *Connection) drainAcks() error {
	for {
		p, err := c.endpoint.recvPacket(0)
		if err != nil {
			if err == ErrConnectionDead {
				return err
			}
			return nil
		}
		if p.Flags&ACKFlag != 0 {
			c.processAck(p)
		}
		p.ReturnChunk()
	}
}

// processAck applies one cumulative acknowledgment: updates the peer window,
// the flow-control counters, and slides the send window past every fully
// covered segment.
func (c *Connection) processAck(p *RudpPacket) {
	ackNum := p.AcknowledgmentNum

	c.peerWindow = p.WindowSize
	c.tracer.Event("RCV ACK=%d", ackNum)

	// monotonic: an old or duplicate ACK never regresses the counter
	if isGreater(ackNum, c.lastByteAcked) {
		c.lastByteAcked = ackNum
	}

	for c.windowCount > 0 {
		entry := &c.sendWindow[c.windowStart]
		packetEnd := SeqIncrementBy(entry.packet.SequenceNumber, uint32(len(entry.packet.Payload)))

		if !isLessOrEqual(packetEnd, ackNum) {
			break // first segment not fully covered
		}

		entry.acked = true
		c.sendBase = packetEnd
		entry.packet.ReturnChunk()
		entry.packet = nil
		c.windowStart = (c.windowStart + 1) % c.config.WindowSize
		c.windowCount--
	}
}

// handleTimeouts retransmits every unacknowledged in-window segment whose
// last transmission is at least one RTO old. A segment that has exhausted its
// retries makes the connection unrecoverable.
func (c *Connection) handleTimeouts() error {
	now := time.Now()
	for i := 0; i < c.windowCount; i++ {
		idx := (c.windowStart + i) % c.config.WindowSize
		entry := &c.sendWindow[idx]

		if entry.acked || entry.packet == nil {
			continue
		}
		if now.Sub(entry.sentAt) < c.config.RTO {
			continue
		}

		c.tracer.Event("TIMEOUT SEQ=%d", entry.packet.SequenceNumber)

		if entry.retries >= c.config.MaxRetries {
			log.Printf("max retries exceeded for SEQ=%d, giving up\n", entry.packet.SequenceNumber)
			return ErrUnrecoverable
		}

		if _, err := c.endpoint.sendPacket(entry.packet); err != nil {
			return err
		}
		entry.retries++
		entry.sentAt = now

		c.tracer.Event("RETX DATA SEQ=%d LEN=%d", entry.packet.SequenceNumber, len(entry.packet.Payload))
	}
	return nil
}

// Recv delivers in-order bytes into buffer, staging out-of-order segments
// until the gap before them fills. It returns the bytes delivered by this
// call, which may be fewer than len(buffer); a call with nothing arriving
// within one RTO returns zero.
//
// recvSeq always advances by the full segment length, even when buffer had
// less room than the segment carried; callers must size buffers to at least
// one MSS or accept the loss of the excess.
func (c *Connection) Recv(buffer []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, ErrNotConnected
	}

	bytesReceived := 0
	for bytesReceived < len(buffer) {
		p, err := c.endpoint.recvPacket(c.config.RTO)
		if err != nil {
			if err == ErrConnectionDead {
				if bytesReceived > 0 {
					return bytesReceived, nil
				}
				return 0, io.EOF
			}
			break // timed wait elapsed (or arrival absorbed)
		}

		if len(p.Payload) == 0 {
			// zero-length segments are control traffic, not data
			p.ReturnChunk()
			continue
		}

		switch {
		case p.SequenceNumber == c.recvSeq:
			segLen := len(p.Payload)
			copyLen := segLen
			if copyLen > len(buffer)-bytesReceived {
				copyLen = len(buffer) - bytesReceived
			}
			copy(buffer[bytesReceived:], p.Payload[:copyLen])
			bytesReceived += copyLen
			c.recvSeq = SeqIncrementBy(c.recvSeq, uint32(segLen))
			c.chargeRecvBuffer(segLen)
			c.tracer.Event("RCV DATA SEQ=%d LEN=%d", p.SequenceNumber, segLen)
			p.ReturnChunk()

			delivered := copyLen + c.deliverBuffered(buffer, &bytesReceived)
			c.dischargeRecvBuffer(delivered)

		case isGreater(p.SequenceNumber, c.recvSeq):
			c.bufferOutOfOrder(p)

		default:
			// duplicate of already-delivered data
			p.ReturnChunk()
		}

		// every data-bearing arrival is acknowledged cumulatively
		ack := NewRudpPacket(c.sendSeq, c.recvSeq, ACKFlag, c.advertisedWindow(), nil)
		c.endpoint.sendPacket(ack)
		c.tracer.Event("SND ACK=%d WIN=%d", c.recvSeq, ack.WindowSize)
	}

	return bytesReceived, nil
}

// bufferOutOfOrder stages a segment that arrived ahead of the in-order
// cursor. When all slots are occupied the segment is discarded; the sender's
// retransmission covers the loss.
func (c *Connection) bufferOutOfOrder(p *RudpPacket) {
	if _, ok := c.oooBuffer.Get(&RudpPacket{SequenceNumber: p.SequenceNumber}); ok {
		p.ReturnChunk() // already staged
		return
	}
	if c.oooBuffer.Len() >= c.config.WindowSize {
		p.ReturnChunk()
		return
	}
	c.oooBuffer.ReplaceOrInsert(p)
	c.chargeRecvBuffer(len(p.Payload))
}

// deliverBuffered drains the staging area for as long as the segment at
// recvSeq is present, appending payloads to buffer. Returns the bytes copied.
func (c *Connection) deliverBuffered(buffer []byte, pos *int) int {
	delivered := 0
	for {
		p, ok := c.oooBuffer.Get(&RudpPacket{SequenceNumber: c.recvSeq})
		if !ok {
			break
		}
		c.oooBuffer.Delete(p)

		segLen := len(p.Payload)
		copyLen := segLen
		if copyLen > len(buffer)-*pos {
			copyLen = len(buffer) - *pos
		}
		copy(buffer[*pos:], p.Payload[:copyLen])
		*pos += copyLen
		c.recvSeq = SeqIncrementBy(c.recvSeq, uint32(segLen))
		delivered += copyLen
		p.ReturnChunk()
	}
	return delivered
}

// Close initiates the simplified four-way termination: send FIN, then wait
// for the ACK of our FIN and the peer's FIN. The wait ends as soon as the
// peer's FIN arrives, whether or not our FIN has been acknowledged by then.
// The peer may be gone, so the whole handshake is bounded by MaxRetries RTO
// intervals, after which the connection hard-closes.
func (c *Connection) Close() error {
	if c.state != StateEstablished {
		return ErrWrongState
	}

	fin := NewRudpPacket(c.sendSeq, c.recvSeq, FINFlag, c.advertisedWindow(), nil)
	if _, err := c.endpoint.sendPacket(fin); err != nil {
		c.release()
		return err
	}
	c.tracer.Event("SND FIN SEQ=%d", c.sendSeq)
	c.sendSeq = SeqIncrement(c.sendSeq)
	c.state = StateFinWait1

	ackReceived, finReceived := false, false
	deadline := time.Now().Add(time.Duration(c.config.MaxRetries) * c.config.RTO)

	for (!ackReceived || !finReceived) && c.state != StateClosed {
		if time.Now().After(deadline) {
			log.Println("close handshake timed out, hard-closing connection")
			break
		}

		p, err := c.endpoint.recvPacket(c.config.RTO)
		if err != nil {
			if err == ErrConnectionDead {
				break
			}
			continue
		}

		if p.Flags&ACKFlag != 0 && !ackReceived {
			ackReceived = true
			c.state = StateFinWait2
		}

		if p.Flags&FINFlag != 0 && !finReceived {
			finReceived = true
			c.recvSeq = SeqIncrement(p.SequenceNumber)
			c.tracer.Event("RCV FIN SEQ=%d", p.SequenceNumber)

			finalAck := NewRudpPacket(c.sendSeq, c.recvSeq, ACKFlag, c.advertisedWindow(), nil)
			c.endpoint.sendPacket(finalAck)
			c.tracer.Event("SND ACK FOR FIN")

			c.state = StateClosed
		}

		p.ReturnChunk()
	}

	c.release()
	return nil
}

// Free releases the connection's resources unconditionally.
func (c *Connection) Free() {
	c.release()
}

func (c *Connection) release() {
	for i := 0; i < c.windowCount; i++ {
		idx := (c.windowStart + i) % c.config.WindowSize
		if c.sendWindow[idx].packet != nil {
			c.sendWindow[idx].packet.ReturnChunk()
			c.sendWindow[idx].packet = nil
		}
	}
	c.windowCount = 0

	if c.oooBuffer != nil {
		c.oooBuffer.Ascend(func(p *RudpPacket) bool {
			p.ReturnChunk()
			return true
		})
		c.oooBuffer.Clear(false)
	}

	if c.ownsSocket && c.endpoint != nil {
		c.endpoint.close()
	}
	c.state = StateClosed
}
