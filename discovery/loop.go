package discovery

import (
	"context"
	"fmt"
	"time"
)

// backgroundLoopErrorBackoff is the cool-off period after an unhandled
// panic escapes a discovery cycle, distinct from the normal PollInterval
// cadence — mirrors the original monitoring loop's "log and sleep 60s
// before retrying" behavior.
const backgroundLoopErrorBackoff = 60 * time.Second

// Start launches the ticker-driven background loop. Each tick runs one
// discovery cycle; the loop exits when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	if e.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := e.runCycleSafely(loopCtx); err != nil {
					e.logger.Error().Err(err).Msg("background monitoring loop: unhandled error, backing off")
					select {
					case <-time.After(backgroundLoopErrorBackoff):
					case <-loopCtx.Done():
						return
					}
				}
			}
		}
	}()
}

// runCycleSafely runs one discovery cycle, recovering a panic into an
// error so the background loop can back off instead of dying. Per-listing
// failures already accumulate into Result.Errors and are logged at the
// normal cadence; only a genuine panic triggers the extended backoff.
func (e *Engine) runCycleSafely(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in discovery cycle: %v", r)
		}
	}()

	result := e.RunDiscoveryCycle(ctx)
	if len(result.Errors) > 0 {
		e.logger.Warn().Strs("errors", result.Errors).Msg("discovery cycle completed with errors")
	} else {
		e.logger.Debug().
			Int("new_listings", result.NewListingsFound).
			Int("ready_targets", result.ReadyTargetsFound).
			Int("scheduled", result.TargetsScheduled).
			Msg("discovery cycle completed")
	}
	return nil
}

// Stop cancels the background loop and waits for it to exit.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	e.cancel()
	<-e.done
	e.running = false
}
