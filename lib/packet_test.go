package lib

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPacketMarshalUnmarshal(t *testing.T) {
	initTestPool(t)

	payload := []byte("hello world")
	packet := NewRudpPacket(1000, 2000, ACKFlag, 4096, payload)
	if packet == nil {
		t.Fatal("NewRudpPacket returned nil")
	}
	defer packet.ReturnChunk()

	var buffer [MaxPacketSize]byte
	n, err := packet.Marshal(buffer[:])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if n != HeaderSize+len(payload) {
		t.Fatalf("Marshal length = %d, want %d", n, HeaderSize+len(payload))
	}

	// header fields must be big-endian at fixed offsets
	if got := binary.BigEndian.Uint32(buffer[0:4]); got != 1000 {
		t.Errorf("wire seq = %d, want 1000", got)
	}
	if got := binary.BigEndian.Uint32(buffer[4:8]); got != 2000 {
		t.Errorf("wire ack = %d, want 2000", got)
	}
	if got := binary.BigEndian.Uint16(buffer[8:10]); got != ACKFlag {
		t.Errorf("wire flags = %#x, want %#x", got, ACKFlag)
	}
	if got := binary.BigEndian.Uint16(buffer[10:12]); got != 4096 {
		t.Errorf("wire window = %d, want 4096", got)
	}

	decoded := &RudpPacket{}
	if err := decoded.Unmarshal(buffer[:n]); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	defer decoded.ReturnChunk()

	if decoded.SequenceNumber != 1000 || decoded.AcknowledgmentNum != 2000 ||
		decoded.Flags != ACKFlag || decoded.WindowSize != 4096 {
		t.Errorf("decoded header mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("decoded payload = %q, want %q", decoded.Payload, payload)
	}
}

func TestPacketControlFrameLength(t *testing.T) {
	packet := NewRudpPacket(7, 8, SYNFlag, MaxDataSize, nil)

	var buffer [MaxPacketSize]byte
	n, err := packet.Marshal(buffer[:])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if n != HeaderSize {
		t.Fatalf("control frame length = %d, want %d", n, HeaderSize)
	}

	decoded := &RudpPacket{}
	if err := decoded.Unmarshal(buffer[:n]); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Payload != nil {
		t.Errorf("control frame decoded with payload %q", decoded.Payload)
	}
}

func TestPacketUnmarshalMalformed(t *testing.T) {
	short := make([]byte, HeaderSize-1)
	decoded := &RudpPacket{}
	if err := decoded.Unmarshal(short); err != ErrMalformedPacket {
		t.Errorf("short datagram error = %v, want ErrMalformedPacket", err)
	}
}

func TestPacketUnmarshalOversize(t *testing.T) {
	oversize := make([]byte, HeaderSize+MaxDataSize+1)
	decoded := &RudpPacket{}
	if err := decoded.Unmarshal(oversize); err != ErrPayloadTooLarge {
		t.Errorf("oversize datagram error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestGenerateISN(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		isn, err := GenerateISN()
		if err != nil {
			t.Fatalf("GenerateISN failed: %v", err)
		}
		seen[isn] = true
	}
	if len(seen) < 2 {
		t.Error("GenerateISN produced the same value on every call")
	}
}
