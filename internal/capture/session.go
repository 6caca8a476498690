// Package capture manages the lifecycle of one external capture process.
//
// Start is asynchronous: it returns once tshark is spawned. A run with a
// duration stops itself when the duration elapses (tshark is also given the
// same autostop). Wait and Run block until the run ends. Stop pre-empts a
// pending duration, and each run is terminated at most once.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/capture/tshark"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
)

// DefaultStopTimeout is how long Stop waits after each termination step.
const DefaultStopTimeout = 5 * time.Second

// Tool is the external capture tool a Session drives.
type Tool interface {
	ListInterfaces(ctx context.Context) ([]common.InterfaceDescriptor, error)
	StartCapture(ctx context.Context, req tshark.CaptureRequest) (tshark.Process, error)
}

// Recorder is told about every finished run.
type Recorder interface {
	RecordSession(result common.CaptureResult) error
}

// Options configures a Session.
type Options struct {
	// Defaults applied to Start for fields it leaves zero.
	common.CaptureConfig
	// StopTimeout bounds the wait after interrupt and again after kill.
	StopTimeout time.Duration
	Logger      *logger.Logger
	Recorder    Recorder
}

// Session owns at most one running capture process.
type Session struct {
	id       string
	tool     Tool
	selector string
	iface    common.InterfaceDescriptor
	opts     Options
	log      *logger.Logger

	mu      sync.Mutex
	state   common.State
	current *run
	last    *common.CaptureResult
}

// run is one spawned process.
type run struct {
	proc    tshark.Process
	cfg     common.CaptureConfig
	started time.Time
	done    chan struct{} // closed once the process has exited and result is set
	timer   *time.Timer
	stopCtx func() bool

	terminated bool // guarded by Session.mu

	stopOnce sync.Once
	stopErr  error

	result common.CaptureResult
}

// NewSession resolves selector against the tool's current interface listing.
// It does not start a capture.
func NewSession(ctx context.Context, tool Tool, selector string, opts Options) (*Session, error) {
	ifaces, err := tool.ListInterfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	iface, err := Resolve(ifaces, selector)
	if err != nil {
		return nil, err
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		tool:     tool,
		selector: selector,
		iface:    iface,
		opts:     opts,
		log:      logger.OrDefault(opts.Logger).With("session", id),
		state:    common.StateIdle,
	}
	s.log.Debug("[capture] selector %q resolved to %s", selector, iface)
	return s, nil
}

func (s *Session) ID() string                            { return s.id }
func (s *Session) Selector() string                      { return s.selector }
func (s *Session) Interface() common.InterfaceDescriptor { return s.iface }

// State returns idle, running or stopped.
func (s *Session) State() common.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a capture process is active.
func (s *Session) Running() bool {
	return s.State() == common.StateRunning
}

// LastResult returns the result of the most recent finished run.
func (s *Session) LastResult() (common.CaptureResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return common.CaptureResult{}, false
	}
	return *s.last, true
}

// ListInterfaces returns the tool's current interface listing.
func (s *Session) ListInterfaces(ctx context.Context) ([]common.InterfaceDescriptor, error) {
	return s.tool.ListInterfaces(ctx)
}

// Start spawns a capture. Zero fields of cfg take the session defaults.
// Cancelling ctx stops the capture.
func (s *Session) Start(ctx context.Context, cfg common.CaptureConfig) error {
	_, err := s.start(ctx, cfg)
	return err
}

func (s *Session) start(ctx context.Context, cfg common.CaptureConfig) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == common.StateRunning {
		return nil, &common.Error{Kind: common.KindAlreadyRunning, Op: "start", Selector: s.selector}
	}

	cfg = s.withDefaults(cfg)
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	proc, err := s.tool.StartCapture(ctx, tshark.CaptureRequest{Interface: s.iface, CaptureConfig: cfg})
	if err != nil {
		s.log.Error("[capture] failed to start capture on %s: %v", s.iface, err)
		return nil, err
	}

	r := &run{
		proc:    proc,
		cfg:     cfg,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.current = r
	s.state = common.StateRunning
	s.log.Info("[capture] capture started on %s (pid %d, duration %v, output %q)", s.iface, proc.Pid(), cfg.Duration, cfg.OutputPath)

	if cfg.Duration > 0 {
		r.timer = time.AfterFunc(cfg.Duration, func() {
			s.log.Debug("[capture] duration %v elapsed", cfg.Duration)
			if err := s.terminate(r); err != nil {
				s.log.Error("[capture] failed to stop after duration: %v", err)
			}
		})
	}
	r.stopCtx = context.AfterFunc(ctx, func() {
		s.log.Debug("[capture] context done, stopping")
		if err := s.terminate(r); err != nil {
			s.log.Error("[capture] failed to stop after context cancellation: %v", err)
		}
	})

	go s.monitor(r)
	return r, nil
}

func (s *Session) withDefaults(cfg common.CaptureConfig) common.CaptureConfig {
	if cfg.Duration == 0 {
		cfg.Duration = s.opts.Duration
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = s.opts.OutputPath
	}
	if cfg.Filter == "" {
		cfg.Filter = s.opts.Filter
	}
	cfg.Promiscuous = cfg.Promiscuous || s.opts.Promiscuous
	return cfg
}

// monitor waits for the process to exit and moves the session to stopped.
func (s *Session) monitor(r *run) {
	err := r.proc.Wait()

	s.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.stopCtx()
	if r.terminated && killedBySignal(err) {
		err = nil
	}
	r.result = common.CaptureResult{
		SessionID:  s.id,
		Interface:  s.iface,
		OutputPath: r.cfg.OutputPath,
		Filter:     r.cfg.Filter,
		StartTime:  r.started,
		EndTime:    time.Now(),
		Stopped:    r.terminated,
		Error:      err,
	}
	if s.current == r {
		s.current = nil
		s.state = common.StateStopped
	}
	s.last = &r.result
	s.mu.Unlock()

	if err != nil {
		s.log.Error("[capture] capture on %s failed: %v", s.iface, err)
	} else {
		s.log.Info("[capture] capture on %s finished after %v", s.iface, r.result.EndTime.Sub(r.started).Round(time.Millisecond))
	}
	if s.opts.Recorder != nil {
		if rerr := s.opts.Recorder.RecordSession(r.result); rerr != nil {
			s.log.Warn("[capture] failed to record session: %v", rerr)
		}
	}
	close(r.done)
}

// killedBySignal reports whether err is the exit of a process that died from
// a signal rather than exiting with a status of its own. Only that exit is
// expected after the session terminated the process.
func killedBySignal(err error) bool {
	var capErr *common.Error
	return errors.As(err, &capErr) && capErr.Kind == common.KindCaptureProcess && capErr.ExitCode < 0
}

// Stop terminates the running capture and waits for it to exit. It is a no-op
// when nothing is running. The process is interrupted first and killed if it
// has not exited within StopTimeout; a CaptureStop error is returned only if
// it is still alive after the kill. A nonzero exit status tshark reports while
// shutting down is not a stop failure; it is the run's error, returned by Wait
// and kept in LastResult.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return s.terminate(r)
}

// Close stops the session. It makes a Session usable as an io.Closer.
func (s *Session) Close() error {
	return s.Stop()
}

func (s *Session) terminate(r *run) error {
	r.stopOnce.Do(func() {
		r.stopErr = s.interruptAndWait(r)
	})
	return r.stopErr
}

func (s *Session) interruptAndWait(r *run) error {
	s.mu.Lock()
	select {
	case <-r.done:
		s.mu.Unlock()
		return nil
	default:
	}
	r.terminated = true
	s.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}

	pid := r.proc.Pid()
	s.log.Info("[capture] stopping capture (pid %d)", pid)
	if err := r.proc.Interrupt(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn("[capture] interrupt of pid %d failed: %v; killing", pid, err)
		return s.kill(r)
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(s.opts.StopTimeout):
	}

	s.log.Warn("[capture] pid %d did not exit within %v of interrupt; killing", pid, s.opts.StopTimeout)
	return s.kill(r)
}

func (s *Session) kill(r *run) error {
	pid := r.proc.Pid()
	if err := r.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &common.Error{Kind: common.KindCaptureStop, Op: "stop", Selector: s.selector, Err: err}
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(s.opts.StopTimeout):
		return &common.Error{
			Kind:     common.KindCaptureStop,
			Op:       "stop",
			Selector: s.selector,
			Err:      fmt.Errorf("pid %d still running %v after kill", pid, s.opts.StopTimeout),
		}
	}
}

// Wait blocks until the current run ends and returns its process error. With
// nothing running it returns the error of the last run, if any.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	last := s.last
	s.mu.Unlock()

	if r == nil {
		if last != nil {
			return last.Error
		}
		return nil
	}
	select {
	case <-r.done:
		return r.result.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts a capture and blocks until it ends, through its duration, natural
// exit, or cancellation of ctx.
func (s *Session) Run(ctx context.Context, cfg common.CaptureConfig) (common.CaptureResult, error) {
	r, err := s.start(ctx, cfg)
	if err != nil {
		return common.CaptureResult{}, err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		if err := s.terminate(r); err != nil {
			return common.CaptureResult{}, err
		}
	}
	return r.result, r.result.Error
}

// With creates a session, passes it to fn and stops it on every exit path,
// including a panic in fn. Creating the session starts nothing.
func With(ctx context.Context, tool Tool, selector string, opts Options, fn func(*Session) error) (err error) {
	s, err := NewSession(ctx, tool, selector, opts)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := s.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()
	return fn(s)
}
