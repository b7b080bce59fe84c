package detector

import (
	"fmt"
	"math"

	"github.com/jihwankim/rngwatch/pkg/numeric"
)

// ZMonobit is the optional two-sided normal-approximation test on the
// cumulative proportion of ones. It is silent until n reaches minBits,
// and may re-emit as Z drifts further from zero on subsequent bits.
type ZMonobit struct {
	alpha   float64
	minBits int
	n       int64
	ones    int64
	zThr    float64
}

// NewZMonobit constructs a Monobit Z-test with false-positive rate
// alpha and a minimum observation count minBits before it evaluates.
func NewZMonobit(alpha float64, minBits int) (*ZMonobit, error) {
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("detector: ZMonobit: alpha must be in (0,1), got %v", alpha)
	}
	if minBits <= 0 {
		return nil, fmt.Errorf("detector: ZMonobit: minBits must be > 0, got %d", minBits)
	}
	zThr, err := numeric.InvNormCDF(1 - alpha/2)
	if err != nil {
		return nil, fmt.Errorf("detector: ZMonobit: %w", err)
	}
	return &ZMonobit{alpha: alpha, minBits: minBits, zThr: zThr}, nil
}

// Name implements Test.
func (z *ZMonobit) Name() string { return "ZMONO" }

// Update implements Test.
func (z *ZMonobit) Update(bit int) *Event {
	z.n++
	z.ones += int64(bit)
	if z.n < int64(z.minBits) {
		return nil
	}

	mean := 0.5 * float64(z.n)
	variance := 0.25 * float64(z.n)
	if variance <= 0 {
		return nil
	}
	stat := (float64(z.ones) - mean) / math.Sqrt(variance)
	if math.Abs(stat) < z.zThr {
		return nil
	}

	direction := "p > 0.5"
	if stat < 0 {
		direction = "p < 0.5"
	}
	return &Event{
		Test:      "ZMONO",
		Direction: direction,
		Stat:      stat,
		Threshold: z.zThr,
		N:         int(z.n),
		Ones:      int(z.ones),
		Message:   fmt.Sprintf("monobit Z exceeds threshold (|Z|>=%.3f)", z.zThr),
	}
}
