// Package scheduler runs a named maintenance pass on a fixed interval: once
// immediately on start, then on every tick, until stopped. It keeps the
// outcome of the latest pass for status reporting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status describes the loop and its most recent pass.
type Status struct {
	Name     string        `json:"name"`
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	Passes   int64         `json:"passes"`
	Failures int64         `json:"failures"`
	LastRun  time.Time     `json:"lastRun,omitzero"`
	LastErr  string        `json:"lastError,omitempty"`
}

type Scheduler struct {
	name     string
	interval time.Duration
	pass     func(context.Context) error
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}

	stateMu sync.Mutex
	state   Status
}

func New(name string, interval time.Duration, pass func(context.Context) error) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if pass == nil {
		return nil, errors.New("pass must not be nil")
	}
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		pass:     pass,
		log:      slog.Default().With("loop", name),
		trigger:  make(chan struct{}, 1),
		state:    Status{Name: name, Interval: interval},
	}, nil
}

func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	if l != nil {
		s.log = l.With("loop", s.name)
	}
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	return true
}

// Stop cancels the pass in progress and waits for the loop to exit.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	s.cancel()
	<-s.done
	s.running = false

	s.log.Info("loop stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger asks a running loop for an extra pass without waiting for the next
// tick. Requests made while one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Status() Status {
	s.stateMu.Lock()
	st := s.state
	s.stateMu.Unlock()

	st.Running = s.IsRunning()
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("loop started", "interval", s.interval.String())

	s.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		case <-s.trigger:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	start := time.Now()
	err := s.safePass(ctx)

	s.stateMu.Lock()
	s.state.Passes++
	s.state.LastRun = start
	s.state.LastErr = ""
	if err != nil {
		s.state.Failures++
		s.state.LastErr = err.Error()
	}
	s.stateMu.Unlock()

	if err != nil {
		s.log.Warn("pass failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.log.Debug("pass completed", "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) safePass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
		}
	}()
	return s.pass(ctx)
}
