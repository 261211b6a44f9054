package lib

// Flow control: the receiver advertises its free buffer space on every
// outgoing segment, and the sender keeps bytes in flight inside the peer's
// last advertisement.

// advertisedWindow computes the window value for an outgoing segment. The
// floor at one MSS is mandatory: there is no window-probe mechanism, so a
// zero advertisement would deadlock the sender.
func (c *Connection) advertisedWindow() uint16 {
	available := c.recvBufferSize - c.recvBufferUsed
	if available < MaxDataSize {
		available = MaxDataSize
	}
	if available > MaxAdvertisedWindow {
		available = MaxAdvertisedWindow
	}

	diff := available - c.lastAdvertisedWin
	if diff < 0 {
		diff = -diff
	}
	if diff > MaxDataSize {
		c.tracer.Event("FLOW WIN UPDATE=%d", available)
		c.lastAdvertisedWin = available
	}

	return uint16(available)
}

// bytesInFlight is last_byte_sent - last_byte_acked, clamped at zero in case
// reordered ACKs pushed the acked counter past the sent counter.
func (c *Connection) bytesInFlight() uint32 {
	if isGreaterOrEqual(c.lastByteSent, c.lastByteAcked) {
		return seqDelta(c.lastByteSent, c.lastByteAcked)
	}
	return 0
}

// canSendData reports whether the peer's advertised window admits another
// dataLen bytes on top of what is already in flight.
func (c *Connection) canSendData(dataLen int) bool {
	inFlight := c.bytesInFlight()
	if uint32(c.peerWindow) < inFlight {
		return false
	}
	return uint32(dataLen) <= uint32(c.peerWindow)-inFlight
}

// chargeRecvBuffer accounts an arrived segment against the receive buffer.
func (c *Connection) chargeRecvBuffer(n int) {
	c.recvBufferUsed += n
	if c.recvBufferUsed > c.recvBufferSize {
		c.recvBufferUsed = c.recvBufferSize
	}
}

// dischargeRecvBuffer releases bytes delivered to the application. Saturates
// at zero.
func (c *Connection) dischargeRecvBuffer(n int) {
	if c.recvBufferUsed >= n {
		c.recvBufferUsed -= n
	} else {
		c.recvBufferUsed = 0
	}
}
