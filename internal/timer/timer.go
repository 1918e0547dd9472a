// Package timer schedules one cancellable deadline per ticket.
package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/shardmap"
)

// ErrAlreadyArmed is returned by Arm when a timer is already active for the ID.
var ErrAlreadyArmed = errors.New("timer already armed")

// FireFunc runs once when a deadline elapses without an intervening reset.
type FireFunc func(id string)

// Service owns at most one armed timer per ID. An arming ends either by
// firing or by being cancelled; a later Arm or Reset starts a fresh one.
type Service struct {
	timers *shardmap.Map[*arming]
	seq    atomic.Uint64
	logger *slog.Logger
}

type arming struct {
	seq      uint64
	timer    *time.Timer
	deadline time.Time
}

// New creates a timer service.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		timers: shardmap.New[*arming](0),
		logger: logger,
	}
}

// Arm starts a timer for id. It fails with ErrAlreadyArmed if one is active;
// use Reset to replace it.
func (s *Service) Arm(id string, d time.Duration, onFire FireFunc) error {
	var err error
	s.timers.Compute(id, func(cur *arming, ok bool) (*arming, bool) {
		if ok {
			err = fmt.Errorf("timer: arm %s: %w", id, ErrAlreadyArmed)
			return cur, true
		}
		return s.start(id, d, onFire), true
	})
	if err == nil {
		s.logger.Debug("timer armed", "ticket", id, "duration", d)
	}
	return err
}

// Reset cancels any active timer for id and arms a new one. Callbacks of the
// superseded arming never run.
func (s *Service) Reset(id string, d time.Duration, onFire FireFunc) {
	s.timers.Compute(id, func(cur *arming, ok bool) (*arming, bool) {
		if ok {
			cur.timer.Stop()
		}
		return s.start(id, d, onFire), true
	})
	s.logger.Debug("timer reset", "ticket", id, "duration", d)
}

// Cancel stops the active timer for id. It is a no-op when nothing is armed,
// including after the timer has fired. It reports whether a timer was stopped.
func (s *Service) Cancel(id string) bool {
	cancelled := false
	s.timers.Compute(id, func(cur *arming, ok bool) (*arming, bool) {
		if ok {
			cur.timer.Stop()
			cancelled = true
		}
		return nil, false
	})
	if cancelled {
		s.logger.Debug("timer cancelled", "ticket", id)
	}
	return cancelled
}

// Deadline returns when the active timer for id will fire.
func (s *Service) Deadline(id string) (time.Time, bool) {
	a, ok := s.timers.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return a.deadline, true
}

// Armed reports whether a timer is active for id.
func (s *Service) Armed(id string) bool {
	_, ok := s.timers.Get(id)
	return ok
}

// Len returns the number of active timers.
func (s *Service) Len() int {
	return s.timers.Len()
}

// Stop cancels every active timer.
func (s *Service) Stop() {
	var ids []string
	s.timers.Range(func(id string, _ *arming) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		s.Cancel(id)
	}
}

// start must be called with the shard for id locked (inside Compute).
func (s *Service) start(id string, d time.Duration, onFire FireFunc) *arming {
	a := &arming{
		seq:      s.seq.Add(1),
		deadline: time.Now().Add(d),
	}
	a.timer = time.AfterFunc(d, func() { s.fire(id, a, onFire) })
	return a
}

// fire claims the arming by removing it from the table. If the arming was
// reset or cancelled first, the claim fails and the callback is dropped.
func (s *Service) fire(id string, a *arming, onFire FireFunc) {
	claimed := false
	s.timers.Compute(id, func(cur *arming, ok bool) (*arming, bool) {
		if ok && cur == a {
			claimed = true
			return nil, false
		}
		return cur, ok
	})
	if !claimed {
		s.logger.Debug("stale timer dropped", "ticket", id, "seq", a.seq)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer callback panicked",
				"ticket", id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.logger.Info("timer fired", "ticket", id)
	onFire(id)
}
