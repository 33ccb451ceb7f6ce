// Package scheduler drives the dispatch loop on a fixed interval. Start and
// Stop are idempotent, and a tick that panics is recovered so one bad batch
// cannot kill the loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context) error

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statusMu sync.Mutex
	lastTick time.Time
	lastErr  string
}

// Status is the operator view of the loop.
type Status struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	LastTick  *time.Time `json:"lastTick,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func New(interval time.Duration, tickFn func(context.Context) error) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := Status{
		Running:   s.running.Load(),
		Interval:  s.interval.String(),
		LastError: s.lastErr,
	}
	if !s.lastTick.IsZero() {
		t := s.lastTick
		st.LastTick = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panic recovered", "panic", r)
			s.recordTick(fmt.Sprintf("panic: %v", r))
		}
	}()

	start := time.Now()
	if err := s.tickFn(ctx); err != nil {
		slog.Error("scheduler tick failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.recordTick(err.Error())
		return
	}

	slog.Info("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
	s.recordTick("")
}

func (s *Scheduler) recordTick(errText string) {
	s.statusMu.Lock()
	s.lastTick = time.Now()
	s.lastErr = errText
	s.statusMu.Unlock()
}
