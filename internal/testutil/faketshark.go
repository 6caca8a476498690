// Package testutil provides a scripted stand-in for the tshark executable.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// FakeTshark configures the script written by WriteFakeTshark.
type FakeTshark struct {
	// Listing is printed for -D.
	Listing string
	// Packets is how many records a capture writes to its -w file.
	Packets int
	// CaptureExit makes a capture exit immediately with this code.
	CaptureExit int
	// IgnoreInterrupt makes a capture ignore SIGINT/SIGTERM so only a kill stops it.
	IgnoreInterrupt bool
	// StatsOutput replaces the generated io,stat block when set.
	StatsOutput string
}

const script = `#!/bin/sh
echo "$*" >> '{{CALLS}}'
mode=capture
file=""
out=""
auto=""
filter=""
while [ $# -gt 0 ]; do
  case "$1" in
    -D) mode=list ;;
    -v) mode=version ;;
    -r) mode=read; file="$2"; shift ;;
    -z) mode=stats; shift ;;
    -Y) filter="$2"; shift ;;
    -w) out="$2"; shift ;;
    -a) auto="$2"; shift ;;
    -i|-f) shift ;;
  esac
  shift
done

case "$mode" in
  list)
{{LISTCMD}}
    exit 0
    ;;
  version)
    echo "TShark (Wireshark) 4.2.2 (Git v4.2.2 packaged as 4.2.2-1)"
    echo ""
    echo "Copyright 1998-2024 Gerald Combs"
    exit 0
    ;;
  read)
    if [ ! -f "$file" ]; then echo "tshark: The file \"$file\" doesn't exist." >&2; exit 2; fi
    if [ -n "$filter" ]; then grep "$filter" "$file"; exit 0; fi
    cat "$file"
    exit 0
    ;;
  stats)
    if [ ! -f "$file" ]; then echo "tshark: The file \"$file\" doesn't exist." >&2; exit 2; fi
{{STATS}}
    exit 0
    ;;
esac

if [ -n "$out" ]; then
  : > "$out"
  i=0
  while [ $i -lt {{PACKETS}} ]; do echo "packet $i" >> "$out"; i=$((i+1)); done
fi
echo "Capturing on 'fake0'" >&2
if [ {{EXIT}} -ne 0 ]; then echo "tshark: capture failed: permission denied" >&2; exit {{EXIT}}; fi
secs=60
if [ -n "$auto" ]; then secs=${auto#duration:}; fi
{{TRAP}}
sleep "$secs" >/dev/null 2>&1 &
pid=$!
wait $pid
exit 0
`

const generatedStats = `    n=$(grep -c packet "$file")
    bytes=$((n * 60))
    cat <<EOF

=================================
| IO Statistics                 |
|                               |
| Duration: 1.000 secs          |
| Interval: 1.000 secs          |
|                               |
| Col 1: Frames and bytes       |
|-------------------------------|
|              |1               |
| Interval     | Frames | Bytes |
|-------------------------------|
|  0.0 <> 1.0  | $n | $bytes |
=================================
EOF`

// WriteFakeTshark writes an executable tshark stand-in into a temp dir and
// returns its path. Every invocation's arguments are appended to CallsFile(path).
func WriteFakeTshark(t testing.TB, f FakeTshark) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tshark")

	stats := generatedStats
	if f.StatsOutput != "" {
		stats = "    cat <<'STATS'\n" + f.StatsOutput + "\nSTATS"
	}
	listCmd := "    :"
	if f.Listing != "" {
		listCmd = "    cat <<'LISTING'\n" + strings.TrimRight(f.Listing, "\n") + "\nLISTING"
	}
	trap := "trap 'kill $pid 2>/dev/null; exit 0' INT TERM"
	if f.IgnoreInterrupt {
		trap = "trap '' INT TERM"
	}

	body := strings.NewReplacer(
		"{{CALLS}}", CallsFile(path),
		"{{LISTCMD}}", listCmd,
		"{{STATS}}", stats,
		"{{PACKETS}}", strconv.Itoa(f.Packets),
		"{{EXIT}}", strconv.Itoa(f.CaptureExit),
		"{{TRAP}}", trap,
	).Replace(script)

	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("Failed to write fake tshark: %v", err)
	}
	return path
}

// CallsFile is where the fake at path records its invocations.
func CallsFile(path string) string {
	return path + ".calls"
}

// Calls returns the recorded argument lines of the fake at path.
func Calls(t testing.TB, path string) []string {
	t.Helper()
	data, err := os.ReadFile(CallsFile(path))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("Failed to read calls file: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}
