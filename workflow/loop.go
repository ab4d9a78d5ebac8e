package workflow

import (
	"context"
	"time"
)

// Start launches the bus dispatch loop and the ticker-driven calendar-poll
// loop, sharing CalendarPollInterval with the PDE's own background loop
// per the design note that the interval and cron trigger drive the same
// underlying work.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.bus.Start(loopCtx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.CalendarPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunCalendarPollWorkflow(loopCtx, "cron:"+s.cfg.CalendarPollCron)
			}
		}
	}()
}

// Stop cancels the ticker loop and drains the bus.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.bus.Stop()
}
