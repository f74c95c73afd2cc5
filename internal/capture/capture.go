package capture

// Packet capture of inspected frames as Ethernet/IPv4/TCP records.

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/tturner/modsim/internal/modbus"
)

// ModbusPort is the destination port written into captured segments.
const ModbusPort = 502

type flowState struct {
	srcIP []byte
	port  uint16
	seq   uint32
}

// Writer appends Modbus frames to a pcap stream. Each source label gets its
// own synthetic client address and TCP flow.
type Writer struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   *pcapgo.Writer
	flows    map[string]*flowState
	nextPort uint16
	count    int
}

// Create opens path and writes the pcap file header.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	w, err := NewWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// NewWriter writes the pcap file header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	writer := pcapgo.NewWriter(out)
	if err := writer.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{
		writer:   writer,
		flows:    make(map[string]*flowState),
		nextPort: 50000,
	}, nil
}

// WritePacket encodes p and appends it as a client to server segment.
func (w *Writer) WritePacket(p modbus.Packet) error {
	frame := modbus.Encode(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	flow := w.flow(p.Source)
	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	ethernet := &layers.Ethernet{
		SrcMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    flow.srcIP,
		DstIP:    []byte{192, 168, 100, 1},
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(flow.port),
		DstPort: layers.TCPPort(ModbusPort),
		ACK:     true,
		PSH:     true,
		Seq:     flow.seq,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	flow.seq += uint32(len(frame))

	if err := gopacket.SerializeLayers(buffer, opts, ethernet, ip, tcp, gopacket.Payload(frame)); err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}
	ts := p.Timestamp
	if err := w.writer.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(buffer.Bytes()),
		Length:        len(buffer.Bytes()),
	}, buffer.Bytes()); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of packets written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file, if the writer owns one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}

func (w *Writer) flow(source string) *flowState {
	if f, ok := w.flows[source]; ok {
		return f
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	sum := h.Sum32()
	f := &flowState{
		srcIP: []byte{192, 168, 100, byte(10 + sum%200)},
		port:  w.nextPort,
		seq:   1,
	}
	w.nextPort++
	w.flows[source] = f
	return f
}
