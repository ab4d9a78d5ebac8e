package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nlarkins/mexc-sniper/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateListingIsIdempotentUnderConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	listing := &store.MonitoredListing{
		VcoinID:               "A",
		SymbolName:            "AUSDT",
		ProjectName:           "Alpha",
		AnnouncedLaunchTimeMs: time.Now().Add(6 * time.Hour).UnixMilli(),
		AnnouncedLaunchUTC:    time.Now().Add(6 * time.Hour).UTC(),
	}
	require.NoError(t, s.CreateListing(ctx, listing))

	dup := &store.MonitoredListing{
		VcoinID:               "A",
		SymbolName:            "AUSDT",
		ProjectName:           "Alpha",
		AnnouncedLaunchTimeMs: listing.AnnouncedLaunchTimeMs,
		AnnouncedLaunchUTC:    listing.AnnouncedLaunchUTC,
	}
	require.NoError(t, s.CreateListing(ctx, dup), "duplicate create should be a no-op, not an error")

	listings, err := s.ListMonitoringListings(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
}

func TestCreateTargetAdvancesListingToReady(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateListing(ctx, &store.MonitoredListing{
		VcoinID:            "A",
		AnnouncedLaunchUTC: time.Now().Add(6 * time.Hour).UTC(),
	}))

	target := &store.SnipeTarget{
		VcoinID:                "A",
		Contract:               "AUSDT",
		ActualLaunchUTC:        time.Now().Add(4 * time.Hour).UTC(),
		DiscoveredAtUTC:        time.Now().UTC(),
		HoursAdvanceNotice:     4.0,
		IntendedBuyAmountQuote: 100,
		OrderParams:            `{"symbol":"AUSDT","side":"BUY","type":"MARKET","quoteOrderQty":100}`,
	}
	require.NoError(t, s.CreateTargetAndAdvanceListing(ctx, target))

	listing, err := s.GetListingByVcoin(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, store.ListingStatusReady, listing.Status)

	// A second target for the same vcoin_id must not be created.
	dup := &store.SnipeTarget{VcoinID: "A", Contract: "AUSDT"}
	require.NoError(t, s.CreateTargetAndAdvanceListing(ctx, dup))

	got, err := s.GetTargetByVcoin(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, 4.0, got.HoursAdvanceNotice)
}

func TestStepResultReplayReturnsPersistedResult(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateWorkflowRun(ctx, &store.WorkflowRun{
		RunID:      "run-1",
		WorkflowID: "calendar-poll",
		Trigger:    "cron",
		Status:     "running",
	}))

	require.NoError(t, s.SaveStepResult(ctx, &store.StepResult{
		RunID:      "run-1",
		StepName:   "run-calendar-discovery",
		ResultJSON: `{"new_listings_found":1}`,
	}))

	// Replay: saving the same step again is a no-op.
	require.NoError(t, s.SaveStepResult(ctx, &store.StepResult{
		RunID:      "run-1",
		StepName:   "run-calendar-discovery",
		ResultJSON: `{"new_listings_found":99}`,
	}))

	result, err := s.GetStepResult(ctx, "run-1", "run-calendar-discovery")
	require.NoError(t, err)
	require.Equal(t, `{"new_listings_found":1}`, result.ResultJSON)
}
