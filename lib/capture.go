package lib

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Capture records every datagram the endpoint sends or receives into a pcap
// file, synthesized as IPv4/UDP frames so standard tools can dissect the
// exchange. A nil Capture discards all records.
type Capture struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

// OpenCapture creates the pcap file and writes its header.
func OpenCapture(path string) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening capture file")
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(MaxPacketSize+128, layers.LinkTypeIPv4); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "writing pcap header")
	}
	return &Capture{f: f, w: w}, nil
}

// Record serializes one protocol datagram as an IPv4/UDP frame and appends it
// to the capture.
func (c *Capture) Record(src, dst *net.UDPAddr, frame []byte) {
	if c == nil || src == nil || dst == nil {
		return
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    captureIP(src.IP),
		DstIP:    captureIP(dst.IP),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(frame)); err != nil {
		return
	}

	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.WritePacket(ci, data)
}

func (c *Capture) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.f.Close()
}

// captureIP substitutes the unspecified address so the frame always carries a
// dissectable source and destination.
func captureIP(ip net.IP) net.IP {
	if ip == nil || ip.IsUnspecified() {
		return net.IPv4(127, 0, 0, 1)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
