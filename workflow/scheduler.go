// Package workflow is the Durable Work Scheduler: named, step-checkpointed
// workflows driven by cron and internal events, with at-least-once step
// execution and replay-from-store semantics.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nlarkins/mexc-sniper/discovery"
	"github.com/nlarkins/mexc-sniper/mexc"
	"github.com/nlarkins/mexc-sniper/store"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/rs/zerolog"
)

const maxRecheckAttemptsDefault = 10

// Config carries the scheduler's tuning parameters.
type Config struct {
	// CalendarPollInterval is the ticker period driving the calendar
	// workflow, shared with the PDE's background loop per spec.md §4.E's
	// design note that the interval and cron trigger drive the same work.
	CalendarPollInterval time.Duration
	// CalendarPollCron is recorded only; no cron expression engine parses
	// it (see DESIGN.md) — CalendarPollInterval is the actual timer.
	CalendarPollCron       string
	MaxRecheckAttempts     int
}

// Scheduler runs the calendar-poll and per-symbol-recheck workflows.
type Scheduler struct {
	store   *store.Store
	bus     *Bus
	engine  *discovery.Engine
	adapter *mexc.Client
	logger  zerolog.Logger
	cfg     Config
	metrics *telemetry.Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the scheduler and wires its event subscriptions.
func New(st *store.Store, bus *Bus, engine *discovery.Engine, adapter *mexc.Client, logger zerolog.Logger, cfg Config, metrics *telemetry.Registry) *Scheduler {
	if cfg.MaxRecheckAttempts == 0 {
		cfg.MaxRecheckAttempts = maxRecheckAttemptsDefault
	}
	s := &Scheduler{
		store:   st,
		bus:     bus,
		engine:  engine,
		adapter: adapter,
		logger:  logger.With().Str("component", "workflow-scheduler").Logger(),
		cfg:     cfg,
		metrics: metrics,
	}

	bus.Subscribe(EventCalendarPollRequested, func(ctx context.Context, evt Event) {
		s.RunCalendarPollWorkflow(ctx, "event:"+EventCalendarPollRequested)
	})
	bus.Subscribe(EventNewListingDiscovered, func(ctx context.Context, evt Event) {
		s.handleRecheckEvent(ctx, evt)
	})
	bus.Subscribe(EventSymbolRecheckNeeded, func(ctx context.Context, evt Event) {
		s.handleRecheckEvent(ctx, evt)
	})

	return s
}

func (s *Scheduler) handleRecheckEvent(ctx context.Context, evt Event) {
	vcoinID, _ := evt.Payload["vcoin_id"].(string)
	attempt := 1
	if raw, ok := evt.Payload["attempt"]; ok {
		switch v := raw.(type) {
		case int:
			attempt = v
		case float64:
			attempt = int(v)
		}
	}
	s.RunRecheckWorkflow(ctx, vcoinID, attempt)
}

// CalendarPollResult is the calendar-poll workflow's return contract.
type CalendarPollResult struct {
	Status              string    `json:"status"`
	Trigger             string    `json:"trigger"`
	NewListings         int       `json:"new_listings"`
	ReadyTargets        int       `json:"ready_targets"`
	ScheduledTargets    int       `json:"scheduled_targets"`
	Errors              []string  `json:"errors"`
	FollowUpEventsSent  int       `json:"follow_up_events_sent"`
	Timestamp           time.Time `json:"timestamp"`
	Error               string    `json:"error,omitempty"`
}

type discoveryStepResult struct {
	NewListingsFound  int                    `json:"new_listings_found"`
	ReadyTargetsFound int                    `json:"ready_targets_found"`
	TargetsScheduled  int                    `json:"targets_scheduled"`
	Errors            []string               `json:"errors"`
	NewListings       []discovery.NewListing `json:"new_listings"`
}

// RunCalendarPollWorkflow executes the calendar-poll workflow: discover,
// fan out per-listing events, log. Any unhandled step error is caught and
// returned as a {status:error} result rather than propagated.
func (s *Scheduler) RunCalendarPollWorkflow(ctx context.Context, trigger string) CalendarPollResult {
	runID := uuid.NewString()
	timestamp := time.Now().UTC()

	if err := s.store.CreateWorkflowRun(ctx, &store.WorkflowRun{
		RunID: runID, WorkflowID: "calendar-poll", Trigger: trigger, Status: "running",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record workflow run")
	}

	result, err := s.runCalendarPollSteps(ctx, runID, trigger, timestamp)
	if err != nil {
		result = CalendarPollResult{Status: "error", Trigger: trigger, Timestamp: timestamp, Error: err.Error()}
		_ = s.store.UpdateWorkflowRunStatus(ctx, runID, "error")
		return result
	}
	_ = s.store.UpdateWorkflowRunStatus(ctx, runID, "completed")
	return result
}

func (s *Scheduler) runCalendarPollSteps(ctx context.Context, runID, trigger string, timestamp time.Time) (result CalendarPollResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in calendar-poll workflow: %v", r)
		}
	}()

	raw, err := s.runStep(ctx, runID, "run-calendar-discovery", func() (interface{}, error) {
		cycleResult := s.engine.RunDiscoveryCycle(ctx)
		return discoveryStepResult{
			NewListingsFound:  cycleResult.NewListingsFound,
			ReadyTargetsFound: cycleResult.ReadyTargetsFound,
			TargetsScheduled:  cycleResult.TargetsScheduled,
			Errors:            cycleResult.Errors,
			NewListings:       cycleResult.NewListings,
		}, nil
	})
	if err != nil {
		return result, err
	}
	var discoveryResult discoveryStepResult
	if err := json.Unmarshal(raw, &discoveryResult); err != nil {
		return result, fmt.Errorf("decode discovery step result: %w", err)
	}

	followUpSent, err := s.runStep(ctx, runID, "process-discovery-results", func() (interface{}, error) {
		count := 0
		for _, listing := range discoveryResult.NewListings {
			evt := Event{
				Name: EventNewListingDiscovered,
				Payload: map[string]interface{}{
					"vcoin_id":     listing.VcoinID,
					"symbol_name":  listing.Symbol,
					"project_name": listing.ProjectName,
					"launch_time":  listing.LaunchTime.Format(time.RFC3339),
				},
			}
			if err := s.bus.Publish(ctx, evt); err != nil {
				return count, err
			}
			count++
		}
		return count, nil
	})
	if err != nil {
		return result, err
	}
	var followUpCount int
	if err := json.Unmarshal(followUpSent, &followUpCount); err != nil {
		return result, fmt.Errorf("decode follow-up step result: %w", err)
	}

	// send-follow-up-events is a no-op marker step: the events were already
	// published above; this step only records that the fan-out ran,
	// satisfying the "skipped if zero events" contract via the count.
	if followUpCount > 0 {
		if _, err := s.runStep(ctx, runID, "send-follow-up-events", func() (interface{}, error) {
			return map[string]interface{}{"sent": followUpCount}, nil
		}); err != nil {
			return result, err
		}
	}

	if _, err := s.runStep(ctx, runID, "log-results", func() (interface{}, error) {
		s.logger.Info().
			Int("new_listings", discoveryResult.NewListingsFound).
			Int("ready_targets", discoveryResult.ReadyTargetsFound).
			Int("scheduled_targets", discoveryResult.TargetsScheduled).
			Int("follow_up_events_sent", followUpCount).
			Msg("calendar poll workflow completed")
		return map[string]interface{}{"logged": true}, nil
	}); err != nil {
		return result, err
	}

	return CalendarPollResult{
		Status:             "success",
		Trigger:            trigger,
		NewListings:        discoveryResult.NewListingsFound,
		ReadyTargets:       discoveryResult.ReadyTargetsFound,
		ScheduledTargets:   discoveryResult.TargetsScheduled,
		Errors:             discoveryResult.Errors,
		FollowUpEventsSent: followUpCount,
		Timestamp:          timestamp,
	}, nil
}

// RecheckResult is the per-symbol recheck workflow's return contract. Only
// the fields relevant to the outcome reached are populated.
type RecheckResult struct {
	Status             string `json:"status,omitempty"`
	VcoinID            string `json:"vcoin_id,omitempty"`
	Attempt            int    `json:"attempt,omitempty"`
	Ready              bool   `json:"ready,omitempty"`
	HasCompleteData    bool   `json:"has_complete_data,omitempty"`
	SymbolsFound       int    `json:"symbols_found,omitempty"`
	NextCheckScheduled bool   `json:"next_check_scheduled,omitempty"`
	MaxAttemptsReached bool   `json:"max_attempts_reached,omitempty"`
	TargetCreated      bool   `json:"target_created,omitempty"`
	TargetID           uint64 `json:"target_id,omitempty"`
	Error              string `json:"error,omitempty"`
}

type symbolStatusStepResult struct {
	Ready           bool              `json:"ready"`
	HasCompleteData bool              `json:"has_complete_data"`
	SymbolsFound    int               `json:"symbols_found"`
	Symbol          *mexc.SymbolRecord `json:"symbol,omitempty"`
}

// RunRecheckWorkflow executes the per-symbol recheck workflow for one
// vcoin_id/attempt pair.
func (s *Scheduler) RunRecheckWorkflow(ctx context.Context, vcoinID string, attempt int) RecheckResult {
	if vcoinID == "" {
		return RecheckResult{Status: "error", Error: "missing vcoin_id"}
	}
	if attempt <= 0 {
		attempt = 1
	}

	runID := uuid.NewString()
	stepName := fmt.Sprintf("recheck:%s:%d", vcoinID, attempt)
	if err := s.store.CreateWorkflowRun(ctx, &store.WorkflowRun{
		RunID: runID, WorkflowID: "symbol-recheck", Trigger: stepName, Status: "running",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record workflow run")
	}

	result, err := s.runRecheckSteps(ctx, runID, vcoinID, attempt)
	if err != nil {
		_ = s.store.UpdateWorkflowRunStatus(ctx, runID, "error")
		return RecheckResult{Status: "error", VcoinID: vcoinID, Attempt: attempt, Error: err.Error()}
	}
	_ = s.store.UpdateWorkflowRunStatus(ctx, runID, "completed")
	return result
}

func (s *Scheduler) runRecheckSteps(ctx context.Context, runID, vcoinID string, attempt int) (result RecheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in recheck workflow: %v", r)
		}
	}()

	raw, err := s.runStep(ctx, runID, "check-symbol-status", func() (interface{}, error) {
		symbols, err := s.adapter.GetSymbols(ctx, vcoinID)
		if err != nil {
			return nil, err
		}
		for i := range symbols {
			if symbols[i].MatchesReady(s.readyPattern()) {
				return symbolStatusStepResult{Ready: true, HasCompleteData: symbols[i].HasCompleteData(), Symbol: &symbols[i]}, nil
			}
		}
		return symbolStatusStepResult{Ready: false, SymbolsFound: len(symbols)}, nil
	})
	if err != nil {
		return result, err
	}
	var status symbolStatusStepResult
	if err := json.Unmarshal(raw, &status); err != nil {
		return result, fmt.Errorf("decode symbol status step result: %w", err)
	}

	final, err := s.runStep(ctx, runID, "process-symbol-status", func() (interface{}, error) {
		switch {
		case !status.Ready && attempt < s.cfg.MaxRecheckAttempts:
			evt := Event{Name: EventSymbolRecheckNeeded, Payload: map[string]interface{}{"vcoin_id": vcoinID, "attempt": attempt + 1}}
			if err := s.bus.Publish(ctx, evt); err != nil {
				return nil, err
			}
			return RecheckResult{VcoinID: vcoinID, Attempt: attempt, NextCheckScheduled: true}, nil

		case !status.Ready:
			return RecheckResult{VcoinID: vcoinID, Attempt: attempt, MaxAttemptsReached: true}, nil

		case status.Ready && status.HasCompleteData:
			target, err := s.engine.CreateReadyTarget(ctx, vcoinID, *status.Symbol)
			if err != nil {
				return RecheckResult{VcoinID: vcoinID, Attempt: attempt, Ready: true, HasCompleteData: true, TargetCreated: false}, nil
			}
			evt := Event{
				Name: EventTargetReady,
				Payload: map[string]interface{}{
					"target_id":           target.TargetID,
					"vcoin_id":             vcoinID,
					"launch_time_utc_iso":  target.LaunchTimeUTC.Format(time.RFC3339),
				},
			}
			if err := s.bus.Publish(ctx, evt); err != nil {
				return nil, err
			}
			return RecheckResult{VcoinID: vcoinID, Attempt: attempt, Ready: true, HasCompleteData: true, TargetCreated: true, TargetID: target.TargetID}, nil

		default:
			return RecheckResult{VcoinID: vcoinID, Attempt: attempt, Ready: true, HasCompleteData: false, TargetCreated: false}, nil
		}
	})
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(final, &result); err != nil {
		return result, fmt.Errorf("decode process-symbol-status step result: %w", err)
	}
	return result, nil
}

func (s *Scheduler) readyPattern() [3]int {
	return s.engine.Config().ReadyStatePattern
}

// runStep returns the persisted result for (runID, stepName) if one exists
// (replay), otherwise computes it, persists it, and returns it. Once a
// result is persisted, compute is not run again for that (runID, stepName);
// concurrent first runs of the same step are not excluded.
func (s *Scheduler) runStep(ctx context.Context, runID, stepName string, compute func() (interface{}, error)) (json.RawMessage, error) {
	cached, err := s.store.GetStepResult(ctx, runID, stepName)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return json.RawMessage(cached.ResultJSON), nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal step %s result: %w", stepName, err)
	}
	if err := s.store.SaveStepResult(ctx, &store.StepResult{RunID: runID, StepName: stepName, ResultJSON: string(data)}); err != nil {
		return nil, err
	}
	s.metrics.CounterInc("workflow_steps_total", map[string]string{"step": stepName})
	return data, nil
}
