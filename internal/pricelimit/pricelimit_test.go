package pricelimit_test

import (
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

func TestClassify(t *testing.T) {
	cases := []struct {
		code, name string
		want       pricelimit.Class
	}{
		{"600519", "贵州茅台", pricelimit.ClassNormal},
		{"000001", "平安银行", pricelimit.ClassNormal},
		{"300750", "宁德时代", pricelimit.ClassChiNext},
		{"688981", "中芯国际", pricelimit.ClassSTAR},
		{"430047", "诺思兰德", pricelimit.ClassBSE},
		{"830799", "艾融软件", pricelimit.ClassBSE},
		{"870436", "大地电气", pricelimit.ClassBSE},
		{"600086", "ST东方", pricelimit.ClassST},
		{"002450", "*ST康得", pricelimit.ClassST},
		// ST in the name wins over a wide-band code prefix.
		{"300104", "ST乐视", pricelimit.ClassST},
	}
	for _, tc := range cases {
		if got := pricelimit.Classify(tc.code, tc.name); got != tc.want {
			t.Errorf("Classify(%s, %s) = %s, want %s", tc.code, tc.name, got, tc.want)
		}
	}
}

func TestBand(t *testing.T) {
	cases := []struct {
		code, name string
		prevClose  float64
		up, down   float64
	}{
		{"600519", "贵州茅台", 10.00, 11.00, 9.00},
		{"600086", "ST东方", 10.00, 10.50, 9.50},
		{"300750", "宁德时代", 20.00, 24.00, 16.00},
		{"688981", "中芯国际", 50.00, 60.00, 40.00},
		{"430047", "诺思兰德", 10.00, 13.00, 7.00},
		// Rounding to the cent.
		{"600519", "贵州茅台", 10.01, 11.01, 9.01},
		{"600519", "贵州茅台", 3.33, 3.66, 3.00},
	}
	for _, tc := range cases {
		up, down := pricelimit.Band(tc.code, tc.name, d(tc.prevClose))
		if !up.Equal(d(tc.up)) || !down.Equal(d(tc.down)) {
			t.Errorf("Band(%s, prev %.2f) = (%s, %s), want (%.2f, %.2f)",
				tc.code, tc.prevClose, up, down, tc.up, tc.down)
		}
	}
}

func TestBand_DownFloor(t *testing.T) {
	// A penny stock's lower bound never goes below 0.01.
	_, down := pricelimit.Band("600519", "x", d(0.01))
	if !down.Equal(d(0.01)) {
		t.Errorf("down = %s, want floor 0.01", down)
	}
}

func TestBand_ZeroBase(t *testing.T) {
	up, down := pricelimit.Band("600519", "x", decimal.Zero)
	if !up.IsZero() || !down.IsZero() {
		t.Errorf("zero base should yield zero band, got (%s, %s)", up, down)
	}
}

func TestNormalizeCode(t *testing.T) {
	valid := []string{"600519", "000001", "300750", "688981", "430047", "830799", "870436"}
	for _, code := range valid {
		got, err := pricelimit.NormalizeCode(" " + code + " ")
		if err != nil || got != code {
			t.Errorf("NormalizeCode(%q) = (%q, %v), want (%q, nil)", code, got, err, code)
		}
	}

	invalid := []string{"", "60051", "6005190", "abc123", "123456", "999999", "399001", "399006"}
	for _, code := range invalid {
		if _, err := pricelimit.NormalizeCode(code); err == nil {
			t.Errorf("NormalizeCode(%q) should fail", code)
		}
	}
}

// --- Resolver ---

func rawQuote(feedUp, feedDown float64) *model.Quote {
	return &model.Quote{
		Code:      "600519",
		Name:      "贵州茅台",
		Current:   d(10),
		PrevClose: d(10),
		LimitUp:   d(feedUp),
		LimitDown: d(feedDown),
	}
}

func TestResolver_TrustsFeedDuringSession(t *testing.T) {
	r := pricelimit.NewResolver(marketclock.New())
	inSession := time.Date(2026, 9, 1, 10, 0, 0, 0, marketclock.CST)

	// Feed band differs from the computed one (e.g. intraday adjustment).
	q := rawQuote(10.80, 9.20)
	r.Resolve(q, inSession)
	if !q.LimitUp.Equal(d(10.80)) || !q.LimitDown.Equal(d(9.20)) {
		t.Errorf("in session feed band should win, got (%s, %s)", q.LimitUp, q.LimitDown)
	}
}

func TestResolver_ComputesLocallyOffHours(t *testing.T) {
	r := pricelimit.NewResolver(marketclock.New())
	offHours := time.Date(2026, 9, 1, 20, 0, 0, 0, marketclock.CST)

	// Stale feed band is ignored off-hours; prev close drives the band.
	q := rawQuote(10.80, 9.20)
	r.Resolve(q, offHours)
	if !q.LimitUp.Equal(d(11)) || !q.LimitDown.Equal(d(9)) {
		t.Errorf("off hours local band should win, got (%s, %s)", q.LimitUp, q.LimitDown)
	}
}

func TestResolver_FallsBackWhenPrimaryMissing(t *testing.T) {
	r := pricelimit.NewResolver(marketclock.New())
	inSession := time.Date(2026, 9, 1, 10, 0, 0, 0, marketclock.CST)

	// Feed omitted the band; the local computation fills in.
	q := rawQuote(0, 0)
	r.Resolve(q, inSession)
	if !q.LimitUp.Equal(d(11)) || !q.LimitDown.Equal(d(9)) {
		t.Errorf("missing feed band should fall back to local, got (%s, %s)", q.LimitUp, q.LimitDown)
	}
}

func TestResolver_BothMissingLeavesZeroBand(t *testing.T) {
	r := pricelimit.NewResolver(marketclock.New())
	offHours := time.Date(2026, 9, 1, 20, 0, 0, 0, marketclock.CST)

	q := rawQuote(0, 0)
	q.PrevClose = decimal.Zero
	r.Resolve(q, offHours)
	if q.HasBand() {
		t.Errorf("band should stay unknown, got (%s, %s)", q.LimitUp, q.LimitDown)
	}
}
