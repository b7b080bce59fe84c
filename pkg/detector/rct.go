package detector

import (
	"fmt"

	"github.com/jihwankim/rngwatch/pkg/numeric"
)

// RCT is the Repetition Count Test: it flags a run of identical bits
// once the run length reaches a cutoff chosen so that, under the null
// hypothesis of i.i.d. Bernoulli(0.5) bits, the probability of ever
// reaching the cutoff in a single transition is at most alpha.
//
// RCT does not reset its run counter after emitting: a run of N
// identical bits past the cutoff produces N-cutoff+1 anomaly events,
// one per bit, until the run breaks or the worker stops.
type RCT struct {
	alpha   float64
	cutoff  int
	lastBit int
	haveBit bool
	runLen  int
}

// NewRCT constructs an RCT test with the given target false-positive
// rate alpha.
func NewRCT(alpha float64) (*RCT, error) {
	cutoff, err := numeric.RCTCutoff(alpha)
	if err != nil {
		return nil, fmt.Errorf("detector: RCT: %w", err)
	}
	return &RCT{alpha: alpha, cutoff: cutoff}, nil
}

// Name implements Test.
func (r *RCT) Name() string { return "RCT" }

// Cutoff returns the run length that triggers an anomaly.
func (r *RCT) Cutoff() int { return r.cutoff }

// RunLen returns the current run length.
func (r *RCT) RunLen() int { return r.runLen }

// Update implements Test.
func (r *RCT) Update(bit int) *Event {
	if !r.haveBit {
		r.lastBit = bit
		r.haveBit = true
		r.runLen = 1
		return nil
	}

	if bit == r.lastBit {
		r.runLen++
		if r.runLen >= r.cutoff {
			return &Event{
				Test:    "RCT",
				Cutoff:  r.cutoff,
				RunLen:  r.runLen,
				Message: fmt.Sprintf("run of %d identical bits (>= %d)", r.runLen, r.cutoff),
			}
		}
		return nil
	}

	r.lastBit = bit
	r.runLen = 1
	return nil
}
