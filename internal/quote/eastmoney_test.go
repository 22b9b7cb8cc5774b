package quote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/marketclock"
	"github.com/papertrade/engine/internal/model"
	"github.com/papertrade/engine/internal/pricelimit"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// push2 payload for a stock trading at 100.00, prev close 98.00,
// band 107.80/88.20. Prices arrive ×100.
const moutaiPayload = `{"data":{
	"f57":"600519","f58":"贵州茅台",
	"f43":10000,"f44":10120,"f45":9950,"f46":9980,"f60":9800,
	"f47":52000,"f48":519000000.0,
	"f169":200,"f170":204,
	"f51":10780,"f52":8820,
	"f86":1756694400
}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *EastMoneyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewEastMoneyClient(2 * time.Second)
	c.baseURL = srv.URL
	return c
}

func TestFetch_ParsesQuote(t *testing.T) {
	var gotSecID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSecID = r.URL.Query().Get("secid")
		w.Write([]byte(moutaiPayload))
	})

	q, err := c.Fetch(context.Background(), "600519")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotSecID != "1.600519" {
		t.Errorf("secid = %q, want 1.600519 for a Shanghai code", gotSecID)
	}
	if q.Name != "贵州茅台" {
		t.Errorf("name = %q", q.Name)
	}
	if !q.Current.Equal(d(100)) {
		t.Errorf("current = %s, want 100 (÷100 scaling)", q.Current)
	}
	if !q.PrevClose.Equal(d(98)) {
		t.Errorf("prev close = %s, want 98", q.PrevClose)
	}
	if !q.LimitUp.Equal(d(107.80)) || !q.LimitDown.Equal(d(88.20)) {
		t.Errorf("band = (%s, %s), want (107.80, 88.20)", q.LimitUp, q.LimitDown)
	}
	if q.Volume != 52000 {
		t.Errorf("volume = %d, want 52000", q.Volume)
	}
	if q.Suspended {
		t.Error("actively traded stock marked suspended")
	}
	if q.AsOf.Unix() != 1756694400 {
		t.Errorf("as_of = %v, want feed timestamp", q.AsOf)
	}
}

func TestFetch_DashPlaceholdersMeanSuspended(t *testing.T) {
	// A suspended stock reports "-" in every price field.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"f57":"600519","f58":"贵州茅台",
			"f43":"-","f44":"-","f45":"-","f46":"-","f60":9800,
			"f47":"-","f48":"-","f169":"-","f170":"-","f51":"-","f52":"-"}}`))
	})

	q, err := c.Fetch(context.Background(), "600519")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !q.Suspended {
		t.Error("dash-priced stock should be suspended")
	}
	if !q.Current.IsZero() {
		t.Errorf("current = %s, want 0", q.Current)
	}
	if !q.PrevClose.Equal(d(98)) {
		t.Errorf("prev close survives suspension, got %s", q.PrevClose)
	}
}

func TestFetch_NullDataUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null}`))
	})

	_, err := c.Fetch(context.Background(), "600519")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
}

func TestFetch_HTTPErrorUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Fetch(context.Background(), "600519")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
}

func TestSecID(t *testing.T) {
	cases := map[string]string{
		"600519": "1.600519",
		"688981": "1.688981",
		"000001": "0.000001",
		"300750": "0.300750",
		"430047": "0.430047",
	}
	for code, want := range cases {
		if got := secID(code); got != want {
			t.Errorf("secID(%s) = %s, want %s", code, got, want)
		}
	}
}

// --- Service read-through ---

type countingRaw struct {
	calls int
	q     *model.Quote
	err   error
}

func (c *countingRaw) Fetch(_ context.Context, code string) (*model.Quote, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	cp := *c.q
	return &cp, nil
}

func TestService_CachesFreshQuotes(t *testing.T) {
	raw := &countingRaw{q: &model.Quote{
		Code:      "600519",
		Name:      "贵州茅台",
		Current:   d(100),
		PrevClose: d(98),
		Volume:    1000,
		AsOf:      time.Now(),
	}}
	svc := NewService(raw, pricelimit.NewResolver(marketclock.New()), NewMemoryCache(), time.Minute)

	q1, err := svc.Get(context.Background(), "600519")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Get(context.Background(), "600519"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if raw.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second hit served from cache)", raw.calls)
	}

	// Resolver filled the band from prev close (no feed band supplied).
	if !q1.HasBand() {
		t.Error("service should resolve a band before returning")
	}
}

func TestService_InvalidCode(t *testing.T) {
	svc := NewService(&countingRaw{err: ErrUnavailable}, pricelimit.NewResolver(marketclock.New()), NewMemoryCache(), time.Minute)

	if _, err := svc.Get(context.Background(), "bogus"); err == nil {
		t.Error("invalid code should fail before hitting upstream")
	}
}

func TestService_UpstreamError(t *testing.T) {
	svc := NewService(&countingRaw{err: ErrUnavailable}, pricelimit.NewResolver(marketclock.New()), NewMemoryCache(), time.Minute)

	_, err := svc.Get(context.Background(), "600519")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
}
