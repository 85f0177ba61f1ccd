package server

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// updateScheduler ticks every live session at the configured interval from
// a dedicated goroutine. A slow sweep eats into the following sleep so the
// contract stays "every session ticked within the interval"; an interval
// of zero ticks as fast as possible.
type updateScheduler struct {
	interval time.Duration
	registry *SessionRegistry
	events   Events
	logger   *logrus.Logger

	stop chan struct{}
	done chan struct{}
}

func newUpdateScheduler(interval time.Duration, registry *SessionRegistry, events Events, logger *logrus.Logger) *updateScheduler {
	return &updateScheduler{
		interval: interval,
		registry: registry,
		events:   events,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run sweeps until stopped.
func (u *updateScheduler) run() error {
	defer close(u.done)

	prev := time.Now()
	for {
		select {
		case <-u.stop:
			return nil
		default:
		}

		sweepStart := time.Now()
		elapsed := sweepStart.Sub(prev)
		prev = sweepStart

		u.registry.ForEach(func(s *Session) {
			u.tick(s, elapsed.Milliseconds())
		})

		sleep := u.interval - time.Since(sweepStart)
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-u.stop:
			return nil
		case <-time.After(sleep):
		}
	}
}

// tick isolates one session's update so a panic cannot abort the sweep.
func (u *updateScheduler) tick(s *Session, elapsedMs int64) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session %d: panic in update: %v", s.ID(), r)
			u.logger.Errorf("%v", err)
			u.events.OnSessionErrored(s, err)
		}
	}()
	s.Update(elapsedMs)
}

// stopAndJoin signals the loop and waits for the current sweep to finish.
func (u *updateScheduler) stopAndJoin() {
	close(u.stop)
	<-u.done
}
