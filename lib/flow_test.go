package lib

import (
	"bytes"
	"strings"
	"testing"
)

func newFlowTestConn(t *testing.T) (*Connection, *bytes.Buffer) {
	t.Helper()
	trace := &bytes.Buffer{}
	conn, err := newConnection(DefaultConnectionConfig(), NewTracer(trace), nil)
	if err != nil {
		t.Fatalf("newConnection failed: %v", err)
	}
	return conn, trace
}

func TestAdvertisedWindowFloor(t *testing.T) {
	conn, _ := newFlowTestConn(t)

	// a nearly full buffer must still advertise one MSS to avoid deadlock
	conn.recvBufferUsed = conn.recvBufferSize - 10
	if got := conn.advertisedWindow(); got != MaxDataSize {
		t.Errorf("advertised window = %d, want floor %d", got, MaxDataSize)
	}

	// an exhausted buffer too
	conn.recvBufferUsed = conn.recvBufferSize
	if got := conn.advertisedWindow(); got != MaxDataSize {
		t.Errorf("advertised window = %d, want floor %d", got, MaxDataSize)
	}

	// empty buffer advertises full capacity
	conn.recvBufferUsed = 0
	if got := conn.advertisedWindow(); int(got) != conn.recvBufferSize {
		t.Errorf("advertised window = %d, want %d", got, conn.recvBufferSize)
	}
}

func TestAdvertisedWindowUpdateEvent(t *testing.T) {
	conn, trace := newFlowTestConn(t)

	conn.advertisedWindow() // first advertisement is itself a large change
	if !strings.Contains(trace.String(), "FLOW WIN UPDATE=") {
		t.Fatal("expected FLOW WIN UPDATE event on first advertisement")
	}

	trace.Reset()
	conn.recvBufferUsed = 100 // change below one MSS
	conn.advertisedWindow()
	if strings.Contains(trace.String(), "FLOW WIN UPDATE=") {
		t.Error("small change emitted a window update event")
	}

	conn.recvBufferUsed = 8 * 1024 // change above one MSS
	conn.advertisedWindow()
	if !strings.Contains(trace.String(), "FLOW WIN UPDATE=") {
		t.Error("large change did not emit a window update event")
	}
}

func TestCanSendData(t *testing.T) {
	conn, _ := newFlowTestConn(t)

	conn.lastByteAcked = 5000
	conn.lastByteSent = 5000
	conn.peerWindow = 2048

	if !conn.canSendData(1024) {
		t.Error("empty pipe should admit one MSS")
	}

	conn.lastByteSent = 6024 // 1024 in flight
	if !conn.canSendData(1024) {
		t.Error("half-full window should admit one more MSS")
	}

	conn.lastByteSent = 7048 // 2048 in flight, window exhausted
	if conn.canSendData(1) {
		t.Error("full window must not admit more data")
	}

	// reordered ACKs can push acked past sent; in-flight clamps at zero
	conn.lastByteSent = 5000
	conn.lastByteAcked = 6000
	if !conn.canSendData(1024) {
		t.Error("inverted counters must clamp to an empty pipe")
	}
}

func TestRecvBufferAccounting(t *testing.T) {
	conn, _ := newFlowTestConn(t)

	conn.chargeRecvBuffer(1000)
	if conn.recvBufferUsed != 1000 {
		t.Errorf("recvBufferUsed = %d, want 1000", conn.recvBufferUsed)
	}

	// charge never exceeds capacity
	conn.chargeRecvBuffer(conn.recvBufferSize)
	if conn.recvBufferUsed != conn.recvBufferSize {
		t.Errorf("recvBufferUsed = %d, want cap %d", conn.recvBufferUsed, conn.recvBufferSize)
	}

	// discharge saturates at zero
	conn.dischargeRecvBuffer(conn.recvBufferSize + 500)
	if conn.recvBufferUsed != 0 {
		t.Errorf("recvBufferUsed = %d, want 0", conn.recvBufferUsed)
	}
}
