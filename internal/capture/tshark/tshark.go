// Package tshark runs the tshark command-line tool and parses its output.
package tshark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
)

// stderrTailLines is how much of the tool's stderr is kept for error messages.
const stderrTailLines = 20

// commandContext is replaced in tests.
var commandContext = exec.CommandContext

// Tool invokes one tshark executable.
type Tool struct {
	Path string
	log  *logger.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithLogger sets the logger used for invocations.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tool) { t.log = l }
}

// New returns a Tool for the executable at path. An empty path selects DefaultPath.
func New(path string, opts ...Option) *Tool {
	if path == "" {
		path = DefaultPath
	}
	t := &Tool{Path: path}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logger.OrDefault(t.log)
	return t
}

// run executes tshark to completion and returns its stdout.
func (t *Tool) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := commandContext(ctx, t.Path, args...)
	var stdout bytes.Buffer
	stderr := newTailWriter(stderrTailLines)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	t.log.Debug("[tshark] %s: running %s %v", op, t.Path, args)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			t.log.Error("[tshark] %s: exit code %d: %s", op, exitErr.ExitCode(), stderr.String())
			return stdout.String(), &common.Error{
				Kind:     common.KindCaptureProcess,
				Op:       op,
				ExitCode: exitErr.ExitCode(),
				Output:   stderr.String(),
			}
		}
		return "", fmt.Errorf("%s: failed to run %s: %w", op, t.Path, err)
	}
	return stdout.String(), nil
}

// ListInterfaces runs "tshark -D" and returns the listed interfaces in order.
// No interfaces is an empty slice, not an error.
func (t *Tool) ListInterfaces(ctx context.Context) ([]common.InterfaceDescriptor, error) {
	out, err := t.run(ctx, "list interfaces", "-D")
	if err != nil {
		return nil, err
	}
	ifaces := ParseInterfaceList(out)
	t.log.Debug("[tshark] found %d interfaces", len(ifaces))
	return ifaces, nil
}

// ReadFile returns tshark's one-line-per-packet summary of a capture file.
func (t *Tool) ReadFile(ctx context.Context, path string) (string, error) {
	return t.run(ctx, "read file", "-r", path)
}

// ApplyDisplayFilter returns the packets of a capture file matching a display filter.
func (t *Tool) ApplyDisplayFilter(ctx context.Context, path, displayFilter string) (string, error) {
	return t.run(ctx, "apply display filter", "-r", path, "-Y", displayFilter)
}

// Statistics runs the io,stat summary over a capture file and parses it.
func (t *Tool) Statistics(ctx context.Context, path string) (common.Statistics, error) {
	out, err := t.run(ctx, "statistics", "-r", path, "-q", "-z", "io,stat,0")
	if err != nil {
		return common.Statistics{}, err
	}
	stats, err := ParseIOStatistics(out)
	if err != nil {
		return common.Statistics{}, fmt.Errorf("statistics for %s: %w", path, err)
	}
	t.log.Debug("[tshark] statistics for %s: %+v", path, stats)
	return stats, nil
}

// Version returns the first line of "tshark -v".
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := t.run(ctx, "version", "-v")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(first), nil
}
