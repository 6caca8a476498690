// Package pcapfile summarizes capture files in-process with gopacket, without
// invoking tshark.
package pcapfile

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Summary holds packet totals for one capture file.
type Summary struct {
	Path           string
	Format         string // "pcapng" or "pcap"
	LinkType       layers.LinkType
	TotalPackets   uint64
	TotalBytes     uint64
	First          time.Time
	Last           time.Time
	ProtocolCounts map[string]uint64
}

// Duration is the time between the first and last packet.
func (s Summary) Duration() time.Duration {
	if s.First.IsZero() || s.Last.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

func (s Summary) String() string {
	protocols := make([]string, 0, len(s.ProtocolCounts))
	for name := range s.ProtocolCounts {
		protocols = append(protocols, name)
	}
	sort.Strings(protocols)

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%s, %s)\n", s.Path, s.Format, s.LinkType)
	fmt.Fprintf(&b, "Total Packets: %d\nTotal Bytes: %d\nDuration: %s\n", s.TotalPackets, s.TotalBytes, s.Duration())
	b.WriteString("Protocol Distribution:")
	for _, name := range protocols {
		fmt.Fprintf(&b, "\n  %-12s %d", name, s.ProtocolCounts[name])
	}
	return b.String()
}

// Summarize reads a pcapng or pcap file and counts its packets, bytes and
// decoded layers.
func Summarize(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening capture file: %w", err)
	}
	defer f.Close()

	summary := &Summary{
		Path:           path,
		ProtocolCounts: make(map[string]uint64),
	}

	// pcapng first, then classic pcap
	var source gopacket.PacketDataSource
	if ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		source = ng
		summary.Format = "pcapng"
		summary.LinkType = ng.LinkType()
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("error resetting file position: %w", err)
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("error creating pcap reader: %w", err)
		}
		source = r
		summary.Format = "pcap"
		summary.LinkType = r.LinkType()
	}

	packets := gopacket.NewPacketSource(source, summary.LinkType)
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for packet := range packets.Packets() {
		summary.TotalPackets++
		summary.TotalBytes += uint64(len(packet.Data()))

		ts := packet.Metadata().Timestamp
		if summary.First.IsZero() || ts.Before(summary.First) {
			summary.First = ts
		}
		if ts.After(summary.Last) {
			summary.Last = ts
		}

		for _, layer := range packet.Layers() {
			summary.ProtocolCounts[layer.LayerType().String()]++
		}
	}

	return summary, nil
}
