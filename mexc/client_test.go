package mexc_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/nlarkins/mexc-sniper/apperr"
	"github.com/nlarkins/mexc-sniper/cacheservice"
	"github.com/nlarkins/mexc-sniper/config"
	"github.com/nlarkins/mexc-sniper/mexc"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func noopCache() *cacheservice.Service {
	return cacheservice.New(&config.Config{}, zerolog.Nop())
}

func TestGetCalendarDropsMalformedEntriesIndividually(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"vcoinId":"A","symbol":"AUSDT","projectName":"Alpha","firstOpenTime":1000},
			{"vcoinId":123}
		]}`))
	}))
	defer srv.Close()

	client := mexc.New(srv.URL, "", "", noopCache(), zerolog.Nop(), telemetry.New())
	entries, err := client.GetCalendar(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "A", entries[0].VcoinID)
}

func TestGetSymbolsFiltersByVcoinClientSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"symbols":[
			{"cd":"A","sts":2,"st":2,"tt":4,"ca":"AUSDT","ps":8,"qs":6,"ot":2000},
			{"cd":"B","sts":1,"st":1,"tt":1}
		]}}`))
	}))
	defer srv.Close()

	client := mexc.New(srv.URL, "", "", noopCache(), zerolog.Nop(), telemetry.New())
	symbols, err := client.GetSymbols(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	require.Equal(t, "A", symbols[0].VcoinID)
	require.True(t, symbols[0].MatchesReady([3]int{2, 2, 4}))
	require.True(t, symbols[0].HasCompleteData())
}

func TestNon2xxIsNotRetriedAndMapsToUpstreamHTTP(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"bad request"}`))
	}))
	defer srv.Close()

	client := mexc.New(srv.URL, "", "", noopCache(), zerolog.Nop(), telemetry.New())
	_, err := client.GetCalendar(context.Background())
	require.Error(t, err)
	require.True(t, apperr.IsUpstreamHTTP(err))
	require.Equal(t, 1, hits, "non-2xx must not be retried")
}

func TestSignedRequestWithoutSecretFailsConfigMissing(t *testing.T) {
	client := mexc.New("https://api.mexc.com", "key", "", noopCache(), zerolog.Nop(), telemetry.New())
	_, err := client.PlaceMarketBuy(context.Background(), "AUSDT", 100)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindConfigMissing))
}

func TestSignedRequestIncludesValidSignature(t *testing.T) {
	var gotParams url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParams = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"1","symbol":"AUSDT","status":"FILLED"}`))
	}))
	defer srv.Close()

	client := mexc.New(srv.URL, "test-key", "test-secret", noopCache(), zerolog.Nop(), telemetry.New())
	_, err := client.PlaceMarketBuy(context.Background(), "AUSDT", 100)
	require.NoError(t, err)
	require.NotEmpty(t, gotParams.Get("signature"))

	unsigned := url.Values{}
	for k, v := range gotParams {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(unsigned.Encode()))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotParams.Get("signature"))
	require.Equal(t, "AUSDT", gotParams.Get("symbol"))
	require.Equal(t, "BUY", gotParams.Get("side"))
}

func TestRateLimitEnforcesMinimumSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := mexc.New(srv.URL, "", "", noopCache(), zerolog.Nop(), telemetry.New())
	ctx := context.Background()

	start := time.Now()
	_, err := client.GetCalendar(ctx)
	require.NoError(t, err)
	_, err = client.GetCalendar(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestServerTimeFallsBackToLocalClockOnFailure(t *testing.T) {
	client := mexc.New("http://127.0.0.1:0", "", "", noopCache(), zerolog.Nop(), telemetry.New())
	before := time.Now().UnixMilli()
	got := client.ServerTime(context.Background())
	after := time.Now().UnixMilli()
	require.True(t, got >= before-1000 && got <= after+1000, "expected fallback to local clock, got %s", strconv.FormatInt(got, 10))
}
