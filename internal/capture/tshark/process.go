package tshark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"time"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
)

// waitDelay bounds how long Wait blocks on output pipes after the process exits.
const waitDelay = 2 * time.Second

// CaptureRequest is one capture invocation.
type CaptureRequest struct {
	Interface common.InterfaceDescriptor
	common.CaptureConfig
}

// Process is a running capture.
type Process interface {
	Pid() int
	// Interrupt asks the process to finish writing and exit.
	Interrupt() error
	Kill() error
	// Wait blocks until exit. A nonzero exit is a KindCaptureProcess *common.Error.
	Wait() error
}

// CaptureArgs builds the tshark arguments for req.
func CaptureArgs(req CaptureRequest) []string {
	var args []string
	if !req.Promiscuous {
		args = append(args, "-p")
	}
	iface := req.Interface.Name
	if req.Interface.Index > 0 {
		iface = strconv.Itoa(req.Interface.Index)
	}
	args = append(args, "-q", "-i", iface)
	if req.OutputPath != "" {
		args = append(args, "-w", req.OutputPath)
	}
	if req.Filter != "" {
		args = append(args, "-f", req.Filter)
	}
	if req.Duration > 0 {
		args = append(args, "-a", "duration:"+autostopSeconds(req.Duration))
	}
	return args
}

// autostopSeconds rounds d up to whole seconds, the unit tshark's autostop takes.
func autostopSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// StartCapture spawns a capture and returns without waiting for it. ctx only
// bounds the spawn; stopping is done through the returned Process.
func (t *Tool) StartCapture(ctx context.Context, req CaptureRequest) (Process, error) {
	args := CaptureArgs(req)
	cmd := commandContext(context.WithoutCancel(ctx), t.Path, args...)
	stderr := newTailWriter(stderrTailLines)
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	t.log.Info("[tshark] starting capture: %s %v", t.Path, args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: failed to start %s: %w", t.Path, err)
	}
	t.log.Debug("[tshark] capture running with pid %d", cmd.Process.Pid)
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr *tailWriter
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

// Interrupt sends SIGINT, on which tshark flushes the capture file and exits.
// Windows does not support it; callers fall back to Kill.
func (p *execProcess) Interrupt() error { return p.cmd.Process.Signal(os.Interrupt) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &common.Error{
			Kind:     common.KindCaptureProcess,
			Op:       "capture",
			ExitCode: exitErr.ExitCode(),
			Output:   p.stderr.String(),
		}
	}
	return fmt.Errorf("capture: wait for pid %d: %w", p.cmd.Process.Pid, err)
}
