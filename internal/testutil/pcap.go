package testutil

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PacketSize is the on-wire length of every frame WritePCAP writes.
const PacketSize = 14 + 20 + 8 + 18

// WritePCAP writes a classic pcap file holding n Ethernet/IPv4/UDP frames
// spaced one millisecond apart.
func WritePCAP(t testing.TB, path string, n int) {
	t.Helper()
	writeCapture(t, path, n, false)
}

// WritePCAPNG is WritePCAP in pcapng format.
func WritePCAPNG(t testing.TB, path string, n int) {
	t.Helper()
	writeCapture(t, path, n, true)
}

func writeCapture(t testing.TB, path string, n int, ng bool) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture file: %v", err)
	}
	defer f.Close()

	var write func(gopacket.CaptureInfo, []byte) error
	if ng {
		w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
		if err != nil {
			t.Fatalf("Failed to create pcapng writer: %v", err)
		}
		defer func() {
			if err := w.Flush(); err != nil {
				t.Fatalf("Failed to flush pcapng writer: %v", err)
			}
		}()
		write = w.WritePacket
	} else {
		w := pcapgo.NewWriter(f)
		if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
			t.Fatalf("Failed to write pcap header: %v", err)
		}
		write = w.WritePacket
	}

	start := time.Unix(1234567890, 0)
	for i := 0; i < n; i++ {
		data := udpFrame(t, i)
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := write(ci, data); err != nil {
			t.Fatalf("Failed to write packet %d: %v", i, err)
		}
	}
}

func udpFrame(t testing.TB, i int) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x02},
		DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 2),
		DstIP:    net.IPv4(10, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(40000 + i), DstPort: 502}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("Failed to set checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload(make([]byte, 18))
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}
