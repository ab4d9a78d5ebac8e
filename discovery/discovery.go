// Package discovery implements the Pattern Discovery Engine: the state
// machine and background loop that correlates the calendar and symbol
// feeds to detect ready listings and emit durable snipe targets.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nlarkins/mexc-sniper/apperr"
	"github.com/nlarkins/mexc-sniper/mexc"
	"github.com/nlarkins/mexc-sniper/store"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/rs/zerolog"
)

// Config snapshots the tuning parameters the status query reports.
type Config struct {
	ReadyStatePattern  [3]int
	TargetAdvanceHours float64
	PollInterval       time.Duration
	DefaultBuyAmount   float64
}

// Result summarizes one discovery cycle.
type Result struct {
	NewListingsFound  int       `json:"new_listings_found"`
	ReadyTargetsFound int       `json:"ready_targets_found"`
	TargetsScheduled  int       `json:"targets_scheduled"`
	Errors            []string  `json:"errors"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`

	// NewListings carries the vcoin_ids discovered this cycle, used by the
	// scheduler to fan out per-symbol watcher events.
	NewListings []NewListing `json:"-"`
	// ReadyTargets carries the targets created this cycle.
	ReadyTargets []ReadyTarget `json:"-"`
}

// NewListing describes a calendar entry newly promoted into monitoring.
type NewListing struct {
	VcoinID     string
	Symbol      string
	ProjectName string
	LaunchTime  time.Time
}

// ReadyTarget describes a snipe target created this cycle.
type ReadyTarget struct {
	TargetID       uint64
	VcoinID        string
	LaunchTimeUTC  time.Time
}

// Status reports the PDE's current operating state.
type Status struct {
	Running               bool    `json:"running"`
	MonitoringCount        int64  `json:"monitoring_count"`
	PendingOrScheduled     int64  `json:"pending_or_scheduled_targets"`
	Config                 Config `json:"configuration"`
	LastCalendarCheck      time.Time `json:"last_calendar_check"`
}

// Engine is the Pattern Discovery Engine.
type Engine struct {
	adapter *mexc.Client
	store   *store.Store
	logger  zerolog.Logger
	cfg     Config
	metrics *telemetry.Registry

	running           bool
	lastCalendarCheck time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the PDE.
func New(adapter *mexc.Client, st *store.Store, logger zerolog.Logger, cfg Config, metrics *telemetry.Registry) *Engine {
	return &Engine{
		adapter: adapter,
		store:   st,
		logger:  logger.With().Str("component", "discovery").Logger(),
		cfg:     cfg,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// RunDiscoveryCycle executes one idempotent pass: calendar ingest,
// ready-state scan, then schedule. A failure in one listing never aborts
// the scan; it is recorded in Result.Errors.
func (e *Engine) RunDiscoveryCycle(ctx context.Context) Result {
	e.metrics.CounterInc("discovery_cycles_total", nil)
	e.lastCalendarCheck = time.Now().UTC()

	result := Result{AnalysisTimestamp: e.lastCalendarCheck}

	newListings, err := e.ingestCalendar(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.NewListings = newListings
	result.NewListingsFound = len(newListings)

	readyTargets, scanErrors := e.scanReadyState(ctx)
	result.ReadyTargets = readyTargets
	result.ReadyTargetsFound = len(readyTargets)
	result.Errors = append(result.Errors, scanErrors...)

	scheduled, err := e.scheduleTargets(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.TargetsScheduled = scheduled

	if len(result.Errors) > 0 {
		e.metrics.CounterInc("discovery_errors_total", nil)
	}

	if monitoring, err := e.store.CountListingsByStatus(ctx, store.ListingStatusMonitoring); err == nil {
		e.metrics.GaugeSet("listings_monitoring", nil, float64(monitoring))
	}
	if pending, err := e.store.CountTargetsPendingOrScheduled(ctx); err == nil {
		e.metrics.GaugeSet("targets_pending", nil, float64(pending))
	}

	return result
}

// ingestCalendar fetches the calendar and creates monitoring listings for
// any future launch not already known. Past entries are skipped.
func (e *Engine) ingestCalendar(ctx context.Context) ([]NewListing, error) {
	entries, err := e.adapter.GetCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}

	now := time.Now().UTC()
	var created []NewListing
	for _, entry := range entries {
		launch := entry.LaunchTime()
		if !launch.After(now) {
			continue
		}

		existing, err := e.store.GetListingByVcoin(ctx, entry.VcoinID)
		if err != nil {
			e.logger.Warn().Err(err).Str("vcoin_id", entry.VcoinID).Msg("failed to look up listing")
			continue
		}
		if existing != nil {
			continue
		}

		listing := &store.MonitoredListing{
			VcoinID:               entry.VcoinID,
			SymbolName:            entry.Symbol,
			ProjectName:           entry.ProjectName,
			AnnouncedLaunchTimeMs: entry.FirstOpenTimeMs,
			AnnouncedLaunchUTC:    launch,
		}
		if err := e.store.CreateListing(ctx, listing); err != nil {
			e.logger.Warn().Err(err).Str("vcoin_id", entry.VcoinID).Msg("failed to create listing")
			continue
		}

		// CreateListing also returns nil when another actor created the
		// row between the lookup above and this insert; such a listing is
		// still reported as new here, since the two cases are not told apart.
		created = append(created, NewListing{
			VcoinID:     entry.VcoinID,
			Symbol:      entry.Symbol,
			ProjectName: entry.ProjectName,
			LaunchTime:  launch,
		})
	}
	return created, nil
}

// scanReadyState lists monitoring listings and, for each, checks whether
// any of its symbol records now matches the ready pattern with complete
// data. One bad listing is logged and skipped; it never stops the scan.
func (e *Engine) scanReadyState(ctx context.Context) ([]ReadyTarget, []string) {
	listings, err := e.store.ListMonitoringListings(ctx)
	if err != nil {
		return nil, []string{fmt.Sprintf("list monitoring listings: %v", err)}
	}

	var ready []ReadyTarget
	var errs []string
	for _, listing := range listings {
		symbols, err := e.adapter.GetSymbols(ctx, listing.VcoinID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("fetch symbols for %s: %v", listing.VcoinID, err))
			continue
		}

		for _, sym := range symbols {
			if !sym.MatchesReady(e.cfg.ReadyStatePattern) {
				continue
			}
			if !sym.HasCompleteData() {
				e.logger.Warn().Str("vcoin_id", listing.VcoinID).Msg("ready-but-incomplete symbol, skipping")
				continue
			}

			target, err := e.CreateReadyTarget(ctx, listing.VcoinID, sym)
			if err != nil {
				if !apperr.Is(err, apperr.KindPrecondition) {
					errs = append(errs, fmt.Sprintf("create target for %s: %v", listing.VcoinID, err))
				}
				continue
			}
			if target != nil {
				ready = append(ready, *target)
			}
			break
		}
	}
	return ready, errs
}

// CreateReadyTarget applies the ready-target policy (§ 4.D) for a single
// vcoin_id/symbol pair: at most one target per vcoin_id, required fields
// present, advance notice ≥ TargetAdvanceHours, atomic create+advance.
func (e *Engine) CreateReadyTarget(ctx context.Context, vcoinID string, sym mexc.SymbolRecord) (*ReadyTarget, error) {
	existing, err := e.store.GetTargetByVcoin(ctx, vcoinID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.KindPrecondition, "target already exists for "+vcoinID)
	}

	if !sym.HasCompleteData() {
		return nil, apperr.New(apperr.KindValidation, "missing required symbol fields")
	}

	discoveredAt := time.Now().UTC()
	actualLaunch := time.UnixMilli(*sym.OpenTimeMs).UTC()
	advanceHours := actualLaunch.Sub(discoveredAt).Hours()

	if advanceHours < e.cfg.TargetAdvanceHours {
		e.logger.Warn().Str("vcoin_id", vcoinID).Float64("advance_hours", advanceHours).
			Msg("advance notice too short, target window not actionable")
		return nil, apperr.New(apperr.KindPrecondition, "advance notice too short")
	}

	orderParams := map[string]interface{}{
		"symbol":        sym.Contract,
		"side":          "BUY",
		"type":          "MARKET",
		"quoteOrderQty": e.cfg.DefaultBuyAmount,
	}
	orderParamsJSON, err := json.Marshal(orderParams)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal order params", err)
	}

	target := &store.SnipeTarget{
		VcoinID:                vcoinID,
		Contract:               sym.Contract,
		PricePrecision:         *sym.PriceScale,
		QtyPrecision:           *sym.QtyScale,
		ActualLaunchTimeMs:     *sym.OpenTimeMs,
		ActualLaunchUTC:        actualLaunch,
		DiscoveredAtUTC:        discoveredAt,
		HoursAdvanceNotice:     advanceHours,
		IntendedBuyAmountQuote: e.cfg.DefaultBuyAmount,
		OrderParams:            string(orderParamsJSON),
	}
	if err := e.store.CreateTargetAndAdvanceListing(ctx, target); err != nil {
		return nil, err
	}

	return &ReadyTarget{TargetID: target.ID, VcoinID: vcoinID, LaunchTimeUTC: actualLaunch}, nil
}

// scheduleTargets transitions pending targets to scheduled or missed based
// on the remaining lead time.
func (e *Engine) scheduleTargets(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending targets: %w", err)
	}

	scheduled := 0
	now := time.Now().UTC()
	for _, target := range pending {
		delta := target.ActualLaunchUTC.Sub(now)
		status := store.TargetStatusScheduled
		if delta <= 10*time.Second {
			status = store.TargetStatusMissed
		}
		if err := e.store.UpdateTargetStatus(ctx, target.ID, status, "", nil); err != nil {
			e.logger.Warn().Err(err).Uint64("target_id", target.ID).Msg("failed to update target status")
			continue
		}
		if status == store.TargetStatusScheduled {
			scheduled++
		}
	}
	return scheduled, nil
}

// Config returns the engine's configuration snapshot without touching the
// store, for collaborators (e.g. the scheduler) that need the ready-state
// pattern without paying for a status query.
func (e *Engine) Config() Config {
	return e.cfg
}

// Status returns the PDE's running flag, counts, and configuration snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	monitoring, _ := e.store.CountListingsByStatus(ctx, store.ListingStatusMonitoring)
	pending, _ := e.store.CountTargetsPendingOrScheduled(ctx)
	return Status{
		Running:            e.running,
		MonitoringCount:    monitoring,
		PendingOrScheduled: pending,
		Config:             e.cfg,
		LastCalendarCheck:  e.lastCalendarCheck,
	}
}
