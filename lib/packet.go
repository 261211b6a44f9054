package lib

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// RudpPacket represents a single datagram of the protocol: a fixed 12-byte
// header followed by up to MaxDataSize payload bytes.
type RudpPacket struct {
	SequenceNumber    uint32 // stream offset of the first payload byte, or the SYN/FIN sequence
	AcknowledgmentNum uint32 // cumulative acknowledgment: next expected sequence number
	Flags             uint16 // control flags (SYN, ACK, FIN)
	WindowSize        uint16 // advertised receive window in bytes
	Payload           []byte // payload data, backed by a pool chunk when non-empty
	chunk             *rp.Element
}

// Marshal writes the packet into buffer in wire format and returns the frame
// length. All multi-byte header fields are written in network byte order.
func (p *RudpPacket) Marshal(buffer []byte) (int, error) {
	frameLength := HeaderSize + len(p.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the frame (%d)", len(buffer), frameLength)
	}
	if len(p.Payload) > MaxDataSize {
		return 0, ErrPayloadTooLarge
	}

	binary.BigEndian.PutUint32(buffer[0:4], p.SequenceNumber)
	binary.BigEndian.PutUint32(buffer[4:8], p.AcknowledgmentNum)
	binary.BigEndian.PutUint16(buffer[8:10], p.Flags)
	binary.BigEndian.PutUint16(buffer[10:12], p.WindowSize)

	if len(p.Payload) > 0 {
		copy(buffer[HeaderSize:], p.Payload)
	}

	return frameLength, nil
}

// Unmarshal converts a wire-format byte slice to a RudpPacket. Datagrams
// shorter than the header are malformed; payloads longer than MaxDataSize are
// oversize. Header fields are converted to host byte order.
func (p *RudpPacket) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return ErrMalformedPacket
	}
	if len(data)-HeaderSize > MaxDataSize {
		return ErrPayloadTooLarge
	}

	p.SequenceNumber = binary.BigEndian.Uint32(data[0:4])
	p.AcknowledgmentNum = binary.BigEndian.Uint32(data[4:8])
	p.Flags = binary.BigEndian.Uint16(data[8:10])
	p.WindowSize = binary.BigEndian.Uint16(data[10:12])

	if len(data) > HeaderSize {
		err := p.CopyToPayload(data[HeaderSize:])
		if err != nil {
			return fmt.Errorf("packet unmarshal: error copying packet payload - %s", err)
		}
	} else {
		p.Payload = nil
	}

	return nil
}

func NewRudpPacket(seqNum, ackNum uint32, flags uint16, windowSize uint16, data []byte) *RudpPacket {
	newPacket := &RudpPacket{
		SequenceNumber:    seqNum,
		AcknowledgmentNum: ackNum,
		Flags:             flags,
		WindowSize:        windowSize,
	}
	if len(data) > 0 {
		err := newPacket.CopyToPayload(data)
		if err != nil {
			log.Println("NewRudpPacket error:", err)
			return nil
		}
	}
	return newPacket
}

func (p *RudpPacket) CopyToPayload(src []byte) error {
	if len(src) == 0 {
		err := fmt.Errorf("p.CopyToPayload: Source slice is empty")
		return err
	}
	p.GetChunk()
	if p.chunk == nil {
		err := fmt.Errorf("p.CopyToPayload: Got an nil chunk")
		log.Println(err)
		return err
	}
	err := p.chunk.Data.(*Payload).Copy(src)
	if err != nil {
		p.ReturnChunk()
		return fmt.Errorf("RudpPacket.CopyToPayload: %s", err)
	}
	p.Payload = p.chunk.Data.(*Payload).GetSlice()
	return nil
}

func (p *RudpPacket) ReturnChunk() {
	if p.chunk != nil {
		Pool.ReturnElement(p.chunk)
		p.chunk = nil
		p.Payload = nil
	}
}

func (p *RudpPacket) GetChunk() {
	p.chunk = Pool.GetElement()
}

func (p *RudpPacket) GetChunkReference() *rp.Element {
	return p.chunk
}

// GenerateISN picks the initial sequence number for a new connection from the
// OS random source.
func GenerateISN() (uint32, error) {
	var isn uint32
	err := binary.Read(rand.Reader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}
