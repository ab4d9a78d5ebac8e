package discovery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/nlarkins/mexc-sniper/cacheservice"
	"github.com/nlarkins/mexc-sniper/config"
	"github.com/nlarkins/mexc-sniper/discovery"
	"github.com/nlarkins/mexc-sniper/mexc"
	"github.com/nlarkins/mexc-sniper/store"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEngine(t *testing.T, calendarJSON, symbolsJSON string, cfg discovery.Config) (*discovery.Engine, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/operation/new_coin_calendar" {
			_, _ = w.Write([]byte(calendarJSON))
			return
		}
		_, _ = w.Write([]byte(symbolsJSON))
	}))
	t.Cleanup(srv.Close)

	cache := cacheservice.New(&config.Config{}, zerolog.Nop())
	client := mexc.New(srv.URL, "", "", cache, zerolog.Nop(), telemetry.New())
	st := newTestStore(t)
	engine := discovery.New(client, st, zerolog.Nop(), cfg, telemetry.New())
	return engine, st
}

func defaultConfig() discovery.Config {
	return discovery.Config{
		ReadyStatePattern:  [3]int{2, 2, 4},
		TargetAdvanceHours: 3.5,
		PollInterval:       time.Minute,
		DefaultBuyAmount:   10,
	}
}

func TestDiscoveryCycleCreatesListingThenTarget(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).UnixMilli()
	launchFar := time.Now().Add(10 * time.Hour).UnixMilli()
	calendarJSON := `{"data":[{"vcoinId":"V1","symbol":"V1USDT","projectName":"Vee","firstOpenTime":` +
		strconv.FormatInt(future, 10) + `}]}`
	symbolsJSON := `{"data":{"symbols":[{"cd":"V1","sts":2,"st":2,"tt":4,"ca":"V1USDT","ps":4,"qs":2,"ot":` +
		strconv.FormatInt(launchFar, 10) + `}]}}`

	engine, st := newEngine(t, calendarJSON, symbolsJSON, defaultConfig())
	ctx := context.Background()

	result := engine.RunDiscoveryCycle(ctx)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.NewListingsFound)
	require.Equal(t, 1, result.ReadyTargetsFound)

	target, err := st.GetTargetByVcoin(ctx, "V1")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, store.TargetStatusScheduled, target.ExecutionStatus)

	listing, err := st.GetListingByVcoin(ctx, "V1")
	require.NoError(t, err)
	require.Equal(t, store.ListingStatusReady, listing.Status)
}

func TestNotReadySymbolLeavesListingInMonitoring(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).UnixMilli()
	calendarJSON := `{"data":[{"vcoinId":"V2","symbol":"V2USDT","projectName":"Vee2","firstOpenTime":` +
		strconv.FormatInt(future, 10) + `}]}`
	symbolsJSON := `{"data":{"symbols":[{"cd":"V2","sts":1,"st":1,"tt":1}]}}`

	engine, st := newEngine(t, calendarJSON, symbolsJSON, defaultConfig())
	ctx := context.Background()

	result := engine.RunDiscoveryCycle(ctx)
	require.Equal(t, 0, result.ReadyTargetsFound)

	listing, err := st.GetListingByVcoin(ctx, "V2")
	require.NoError(t, err)
	require.Equal(t, store.ListingStatusMonitoring, listing.Status)
}

func TestAdvanceNoticeTooShortIsRejected(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).UnixMilli()
	launchSoon := time.Now().Add(1 * time.Hour).UnixMilli()
	calendarJSON := `{"data":[{"vcoinId":"V3","symbol":"V3USDT","projectName":"Vee3","firstOpenTime":` +
		strconv.FormatInt(future, 10) + `}]}`
	symbolsJSON := `{"data":{"symbols":[{"cd":"V3","sts":2,"st":2,"tt":4,"ca":"V3USDT","ps":4,"qs":2,"ot":` +
		strconv.FormatInt(launchSoon, 10) + `}]}}`

	engine, st := newEngine(t, calendarJSON, symbolsJSON, defaultConfig())
	ctx := context.Background()

	result := engine.RunDiscoveryCycle(ctx)
	require.Equal(t, 0, result.ReadyTargetsFound)

	target, err := st.GetTargetByVcoin(ctx, "V3")
	require.NoError(t, err)
	require.Nil(t, target)
}

func TestDuplicateCalendarEntryIsIdempotent(t *testing.T) {
	future := time.Now().Add(48 * time.Hour).UnixMilli()
	calendarJSON := `{"data":[{"vcoinId":"V4","symbol":"V4USDT","projectName":"Vee4","firstOpenTime":` +
		strconv.FormatInt(future, 10) + `}]}`
	symbolsJSON := `{"data":{"symbols":[]}}`

	engine, st := newEngine(t, calendarJSON, symbolsJSON, defaultConfig())
	ctx := context.Background()

	first := engine.RunDiscoveryCycle(ctx)
	require.Equal(t, 1, first.NewListingsFound)

	second := engine.RunDiscoveryCycle(ctx)
	require.Equal(t, 0, second.NewListingsFound, "already-known listing must not be recreated")

	count, err := st.CountListingsByStatus(ctx, store.ListingStatusMonitoring)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestScheduleTargetsMarksImminentLaunchAsMissed(t *testing.T) {
	engine, st := newEngine(t, `{"data":[]}`, `{"data":{"symbols":[]}}`, defaultConfig())
	ctx := context.Background()

	listing := &store.MonitoredListing{
		VcoinID:               "V5",
		SymbolName:            "V5USDT",
		AnnouncedLaunchTimeMs: time.Now().Add(time.Hour).UnixMilli(),
		AnnouncedLaunchUTC:    time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreateListing(ctx, listing))

	target := &store.SnipeTarget{
		VcoinID:            "V5",
		Contract:            "V5USDT",
		ActualLaunchTimeMs:  time.Now().Add(time.Second).UnixMilli(),
		ActualLaunchUTC:     time.Now().Add(time.Second),
		HoursAdvanceNotice:  5,
		OrderParams:         "{}",
	}
	require.NoError(t, st.CreateTargetAndAdvanceListing(ctx, target))

	result := engine.RunDiscoveryCycle(ctx)
	require.Equal(t, 0, result.TargetsScheduled)

	got, err := st.GetTargetByVcoin(ctx, "V5")
	require.NoError(t, err)
	require.Equal(t, store.TargetStatusMissed, got.ExecutionStatus)
}

func TestStatusReportsLastCalendarCheck(t *testing.T) {
	engine, _ := newEngine(t, `{"data":[]}`, `{"data":{"symbols":[]}}`, defaultConfig())
	ctx := context.Background()

	before := engine.Status(ctx)
	require.True(t, before.LastCalendarCheck.IsZero())

	engine.RunDiscoveryCycle(ctx)

	after := engine.Status(ctx)
	require.False(t, after.LastCalendarCheck.IsZero())
}
