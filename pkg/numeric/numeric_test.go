package numeric_test

import (
	"math"
	"testing"

	"github.com/jihwankim/rngwatch/pkg/numeric"
)

func TestInvNormCDFBoundaries(t *testing.T) {
	if v, err := numeric.InvNormCDF(0); err != nil || !math.IsInf(v, -1) {
		t.Fatalf("InvNormCDF(0) = %v, %v; want -Inf, nil", v, err)
	}
	if v, err := numeric.InvNormCDF(1); err != nil || !math.IsInf(v, 1) {
		t.Fatalf("InvNormCDF(1) = %v, %v; want +Inf, nil", v, err)
	}
	if _, err := numeric.InvNormCDF(-0.1); err == nil {
		t.Fatal("InvNormCDF(-0.1) should error")
	}
	if _, err := numeric.InvNormCDF(1.1); err == nil {
		t.Fatal("InvNormCDF(1.1) should error")
	}
}

func TestInvNormCDFMedian(t *testing.T) {
	v, err := numeric.InvNormCDF(0.5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v) > 1e-12 {
		t.Fatalf("InvNormCDF(0.5) = %v, want ~0", v)
	}
}

// TestInvNormCDFKnownQuantiles compares against standard normal quantiles
// for 1-alpha/2 at a few common operational alphas, checking agreement
// to 1e-6.
func TestInvNormCDFKnownQuantiles(t *testing.T) {
	cases := []struct {
		p    float64
		want float64
	}{
		{1 - 1e-2/2, 2.5758293035489004},
		{1 - 1e-4/2, 3.890591886413},
		{1 - 1e-6/2, 4.891638475669},
	}
	for _, c := range cases {
		got, err := numeric.InvNormCDF(c.p)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got-c.want) > 1e-6 {
			t.Errorf("InvNormCDF(%v) = %v, want ~%v", c.p, got, c.want)
		}
	}
}

func phi(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func TestInvNormCDFRoundTrip(t *testing.T) {
	ps := []float64{1e-300, 1e-10, 1e-6, 0.001, 0.25, 0.5, 0.75, 0.999, 1 - 1e-6, 1 - 1e-16}
	for _, p := range ps {
		x, err := numeric.InvNormCDF(p)
		if err != nil {
			t.Fatalf("InvNormCDF(%v): %v", p, err)
		}
		got := phi(x)
		if math.Abs(got-p) > 1e-9 && math.Abs(got-p)/p > 1e-9 {
			t.Errorf("phi(InvNormCDF(%v)) = %v, relative error too large", p, got)
		}
	}
}

func TestRCTCutoff(t *testing.T) {
	for _, alpha := range []float64{0.5, 0.1, 1e-2, 1e-6, 1e-12} {
		c, err := numeric.RCTCutoff(alpha)
		if err != nil {
			t.Fatal(err)
		}
		if c < 8 {
			t.Errorf("RCTCutoff(%v) = %d, want >= 8", alpha, c)
		}
		if math.Pow(0.5, float64(c)) > alpha {
			t.Errorf("RCTCutoff(%v) = %d fails (1/2)^r <= alpha", alpha, c)
		}
	}
	if _, err := numeric.RCTCutoff(0); err == nil {
		t.Fatal("RCTCutoff(0) should error")
	}
	if _, err := numeric.RCTCutoff(1); err == nil {
		t.Fatal("RCTCutoff(1) should error")
	}
}

func TestRCTCutoffKnownValue(t *testing.T) {
	// A commonly used false-positive rate, alpha=1e-6, should land on
	// cutoff 20.
	c, err := numeric.RCTCutoff(1e-6)
	if err != nil {
		t.Fatal(err)
	}
	if c != 20 {
		t.Fatalf("RCTCutoff(1e-6) = %d, want 20", c)
	}
}

func TestAPTBounds(t *testing.T) {
	for _, n := range []int{1, 8, 1024, 100000} {
		for _, alpha := range []float64{0.5, 0.01, 1e-6} {
			lo, hi, err := numeric.APTBounds(n, alpha)
			if err != nil {
				t.Fatal(err)
			}
			if lo < 0 || hi > n || lo > hi {
				t.Errorf("APTBounds(%d,%v) = (%d,%d), out of [0,%d]", n, alpha, lo, hi, n)
			}
			mid := float64(n) / 2
			if float64(lo) > mid || float64(hi) < mid {
				t.Errorf("APTBounds(%d,%v) = (%d,%d) not symmetric around n/2=%v", n, alpha, lo, hi, mid)
			}
		}
	}
	if _, _, err := numeric.APTBounds(0, 0.1); err == nil {
		t.Fatal("APTBounds(0, .) should error")
	}
	if _, _, err := numeric.APTBounds(10, 0); err == nil {
		t.Fatal("APTBounds(., 0) should error")
	}
}

func TestHumanBPS(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{500, "500.00 bps"},
		{1500, "1.50 Kbps"},
		{2_500_000, "2.50 Mbps"},
		{3_500_000_000, "3.50 Gbps"},
	}
	for _, c := range cases {
		if got := numeric.HumanBPS(c.in); got != c.want {
			t.Errorf("HumanBPS(%v) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := numeric.HumanBPS(math.NaN()); got != "n/a" {
		t.Errorf("HumanBPS(NaN) = %q, want n/a", got)
	}
}
