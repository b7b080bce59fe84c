package detector

import (
	"fmt"

	"github.com/jihwankim/rngwatch/pkg/numeric"
)

// APT is the Adaptive Proportion Test: a sliding-window two-sided
// proportion test over a fixed window of N bits. It flags a window
// whose count of ones falls outside a binomial(N, 0.5) acceptance
// region derived once at construction.
//
// APT stays silent while the window is filling and re-evaluates (and
// may re-emit) on every bit once it is full, since a later window can
// independently fall out of band.
type APT struct {
	window  int
	alpha   float64
	buf     []int
	start   int // index of the oldest bit in buf, once full
	filled  int
	ones    int
	lo, hi  int
}

// NewAPT constructs an APT test over the given window size and target
// false-positive rate alpha.
func NewAPT(window int, alpha float64) (*APT, error) {
	lo, hi, err := numeric.APTBounds(window, alpha)
	if err != nil {
		return nil, fmt.Errorf("detector: APT: %w", err)
	}
	return &APT{
		window: window,
		alpha:  alpha,
		buf:    make([]int, window),
		lo:     lo,
		hi:     hi,
	}, nil
}

// Name implements Test.
func (a *APT) Name() string { return "APT" }

// Window returns the configured window size.
func (a *APT) Window() int { return a.window }

// Len returns the number of bits currently buffered (<= Window).
func (a *APT) Len() int { return a.filled }

// Ones returns the count of ones currently buffered.
func (a *APT) Ones() int { return a.ones }

// Bounds returns the inclusive acceptance region (lo, hi).
func (a *APT) Bounds() (int, int) { return a.lo, a.hi }

// Update implements Test.
func (a *APT) Update(bit int) *Event {
	if a.filled == a.window {
		old := a.buf[a.start]
		a.ones -= old
		a.buf[a.start] = bit
		a.start = (a.start + 1) % a.window
		a.ones += bit
	} else {
		a.buf[a.filled] = bit
		a.ones += bit
		a.filled++
	}

	if a.filled < a.window {
		return nil
	}

	if a.ones < a.lo || a.ones > a.hi {
		return &Event{
			Test:    "APT",
			Window:  a.window,
			Bounds:  [2]int{a.lo, a.hi},
			Ones:    a.ones,
			Message: fmt.Sprintf("proportion out of [%d,%d] in window %d", a.lo, a.hi, a.window),
		}
	}
	return nil
}
