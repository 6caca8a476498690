package tshark

import (
	"regexp"
	"strconv"
	"strings"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
)

// interfaceLine matches "tshark -D" lines:
//
//	1. eth0
//	3. en0 (Wi-Fi)
//	4. \Device\NPF_{78032B7E-4968-42D3-9F37-287EA86C0AAA} (Local Area Connection* 10)
var interfaceLine = regexp.MustCompile(`^\s*(\d+)\.\s+(\S+)(?:\s+\((.*)\))?\s*$`)

// ParseInterfaceList parses "tshark -D" output. Lines that are not interface
// records are skipped.
func ParseInterfaceList(output string) []common.InterfaceDescriptor {
	ifaces := []common.InterfaceDescriptor{}
	for _, line := range strings.Split(output, "\n") {
		m := interfaceLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ifaces = append(ifaces, common.InterfaceDescriptor{
			Index:       index,
			Name:        m[2],
			Description: m[3],
		})
	}
	return ifaces
}

var (
	durationLine = regexp.MustCompile(`Duration:\s*([0-9.]+)\s*secs`)
	intervalLine = regexp.MustCompile(`Interval:\s*([0-9.]+)\s*secs`)
)

// ParseIOStatistics parses the output of "tshark -q -z io,stat,0":
//
//	| Duration: 7.5 secs              |
//	| Interval: 7.5 secs              |
//	...
//	| Interval     | Frames |  Bytes  |
//	|---------------------------------|
//	|  0.0 <> 7.5  |     55 |   11280 |
//
// Frames and bytes are summed over all interval rows. A table header with no
// rows is an empty capture.
func ParseIOStatistics(output string) (common.Statistics, error) {
	var stats common.Statistics

	if m := durationLine.FindStringSubmatch(output); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return stats, parseError(m[0], err)
		}
		stats.Duration = v
	}
	if m := intervalLine.FindStringSubmatch(output); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return stats, parseError(m[0], err)
		}
		stats.Interval = v
	}

	framesCol, bytesCol := -1, -1
	lastLine := ""
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lastLine = line
		cells := strings.Split(line, "|")

		if framesCol < 0 {
			framesCol, bytesCol = headerColumns(cells)
			continue
		}
		if len(cells) < 2 || !strings.Contains(cells[1], "<>") {
			continue
		}
		if framesCol >= len(cells) || bytesCol >= len(cells) {
			return stats, parseError(line, nil)
		}
		frames, err := strconv.ParseInt(strings.TrimSpace(cells[framesCol]), 10, 64)
		if err != nil {
			return stats, parseError(line, err)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(cells[bytesCol]), 10, 64)
		if err != nil {
			return stats, parseError(line, err)
		}
		stats.Frames += frames
		stats.Bytes += size
	}

	if framesCol < 0 {
		return stats, parseError(lastLine, nil)
	}
	return stats, nil
}

// headerColumns finds the Frames and Bytes columns of the table header row.
func headerColumns(cells []string) (framesCol, bytesCol int) {
	framesCol, bytesCol = -1, -1
	hasInterval := false
	for i, c := range cells {
		switch strings.TrimSpace(c) {
		case "Interval":
			hasInterval = true
		case "Frames":
			framesCol = i
		case "Bytes":
			bytesCol = i
		}
	}
	if !hasInterval || framesCol < 0 || bytesCol < 0 {
		return -1, -1
	}
	return framesCol, bytesCol
}

func parseError(line string, err error) *common.Error {
	return &common.Error{
		Kind:   common.KindStatisticsParse,
		Op:     "parse io statistics",
		Output: line,
		Err:    err,
	}
}
