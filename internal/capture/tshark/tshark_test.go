//go:build linux || darwin

package tshark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/testutil"
)

const threeInterfaces = "1. eth0\n2. any (Pseudo-device that captures on all interfaces)\n3. lo (Loopback)\n"

func TestTool_ListInterfaces(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{Listing: threeInterfaces}))

	ifaces, err := tool.ListInterfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ifaces, 3)
	assert.Equal(t, common.InterfaceDescriptor{Index: 3, Name: "lo", Description: "Loopback"}, ifaces[2])
}

func TestTool_ListInterfaces_NoOutput(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{}))

	ifaces, err := tool.ListInterfaces(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ifaces)
	assert.Empty(t, ifaces)
}

func TestTool_MissingExecutable(t *testing.T) {
	tool := New(filepath.Join(t.TempDir(), "no-such-tshark"))
	_, err := tool.ListInterfaces(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrCaptureProcess))
}

func TestTool_Statistics(t *testing.T) {
	path := testutil.WriteFakeTshark(t, testutil.FakeTshark{})
	tool := New(path)

	capFile := filepath.Join(t.TempDir(), "capture.pcapng")
	require.NoError(t, os.WriteFile(capFile, []byte("packet 0\npacket 1\npacket 2\n"), 0644))

	stats, err := tool.Statistics(context.Background(), capFile)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Frames)
	assert.Equal(t, int64(180), stats.Bytes)
	assert.Equal(t, 1.0, stats.Duration)

	calls := testutil.Calls(t, path)
	require.Len(t, calls, 1)
	assert.Equal(t, "-r "+capFile+" -q -z io,stat,0", calls[0])
}

func TestTool_Statistics_MissingFile(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{}))

	_, err := tool.Statistics(context.Background(), "/nonexistent/capture.pcap")
	require.Error(t, err)

	var capErr *common.Error
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, common.KindCaptureProcess, capErr.Kind)
	assert.Equal(t, 2, capErr.ExitCode)
	assert.Contains(t, capErr.Output, "doesn't exist")
}

func TestTool_Statistics_Malformed(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{StatsOutput: "garbage"}))

	capFile := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(capFile, nil, 0644))

	_, err := tool.Statistics(context.Background(), capFile)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrStatisticsParse))
	assert.Contains(t, err.Error(), "garbage")
}

func TestTool_ReadFileAndDisplayFilter(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{}))

	capFile := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(capFile, []byte("packet 0 tcp\npacket 1 udp\n"), 0644))

	out, err := tool.ReadFile(context.Background(), capFile)
	require.NoError(t, err)
	assert.Equal(t, "packet 0 tcp\npacket 1 udp\n", out)

	out, err = tool.ApplyDisplayFilter(context.Background(), capFile, "udp")
	require.NoError(t, err)
	assert.Equal(t, "packet 1 udp\n", out)
}

func TestTool_Version(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{}))

	v, err := tool.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TShark (Wireshark) 4.2.2 (Git v4.2.2 packaged as 4.2.2-1)", v)
}

func TestTool_StartCapture_InterruptIsClean(t *testing.T) {
	path := testutil.WriteFakeTshark(t, testutil.FakeTshark{Packets: 2})
	tool := New(path)
	out := filepath.Join(t.TempDir(), "out.pcap")

	proc, err := tool.StartCapture(context.Background(), CaptureRequest{
		Interface:     common.InterfaceDescriptor{Index: 1, Name: "eth0"},
		CaptureConfig: common.CaptureConfig{OutputPath: out},
	})
	require.NoError(t, err)
	assert.Greater(t, proc.Pid(), 0)

	// give the shell time to install its trap
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, proc.Interrupt())
	assert.NoError(t, proc.Wait())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "packet 0\npacket 1\n", string(data))
}

func TestTool_StartCapture_NonzeroExit(t *testing.T) {
	tool := New(testutil.WriteFakeTshark(t, testutil.FakeTshark{CaptureExit: 1}))

	proc, err := tool.StartCapture(context.Background(), CaptureRequest{
		Interface: common.InterfaceDescriptor{Index: 1, Name: "eth0"},
	})
	require.NoError(t, err)

	err = proc.Wait()
	require.Error(t, err)
	var capErr *common.Error
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, common.KindCaptureProcess, capErr.Kind)
	assert.Equal(t, 1, capErr.ExitCode)
	assert.Contains(t, capErr.Output, "permission denied")
}
