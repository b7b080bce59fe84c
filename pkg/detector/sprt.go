package detector

import (
	"fmt"
	"math"
)

// sprtEpsilon clamps the alternative probabilities away from 0/1 to
// prevent log singularities.
const sprtEpsilon = 1e-12

// SPRT runs two one-sided Wald sequential probability ratio tests in
// parallel against p0=0.5: one for an upward bias to p0+delta, one for
// a downward bias to p0-delta. Statistics are never reset after
// emission; they are monotone-drifting estimators, and either or both
// may cross threshold on the same bit.
type SPRT struct {
	delta, alpha, beta float64
	p0, p1u, p1d       float64
	a                  float64 // upper (anomaly) threshold
	b                  float64 // lower threshold, computed but unused for early accept
	sUp, sDown         float64
}

// NewSPRT constructs an SPRT test targeting minimum detectable bias
// delta, with false-positive rate alpha and false-negative rate beta.
func NewSPRT(delta, alpha, beta float64) (*SPRT, error) {
	if !(delta > 0 && delta < 0.5) {
		return nil, fmt.Errorf("detector: SPRT: delta must be in (0, 0.5), got %v", delta)
	}
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("detector: SPRT: alpha must be in (0,1), got %v", alpha)
	}
	if !(beta > 0 && beta < 1) {
		return nil, fmt.Errorf("detector: SPRT: beta must be in (0,1), got %v", beta)
	}

	p0 := 0.5
	p1u := clamp(p0+delta, sprtEpsilon, 1-sprtEpsilon)
	p1d := clamp(p0-delta, sprtEpsilon, 1-sprtEpsilon)

	return &SPRT{
		delta: delta, alpha: alpha, beta: beta,
		p0: p0, p1u: p1u, p1d: p1d,
		a: math.Log((1 - beta) / alpha),
		b: math.Log(beta / (1 - alpha)),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Name implements Test.
func (s *SPRT) Name() string { return "SPRT" }

// Up returns the upward (positive-bias) accumulator.
func (s *SPRT) Up() float64 { return s.sUp }

// Down returns the downward (negative-bias) accumulator.
func (s *SPRT) Down() float64 { return s.sDown }

// Update implements Test. It returns whichever one-sided event crossed
// threshold; when both cross on the same bit, only the positive-bias
// event is returned here; callers that need both, in deterministic
// order (up before down), should use updateBoth directly; see
// Suite.Update.
func (s *SPRT) Update(bit int) *Event {
	up, down := s.updateBoth(bit)
	if up != nil {
		return up
	}
	return down
}

// updateBoth advances both accumulators and returns up to two events:
// the positive-bias event (if s_up crossed A) and the negative-bias
// event (if s_dn crossed A).
func (s *SPRT) updateBoth(bit int) (up, down *Event) {
	if bit == 1 {
		s.sUp += math.Log(s.p1u / s.p0)
		s.sDown += math.Log(s.p1d / s.p0)
	} else {
		s.sUp += math.Log((1 - s.p1u) / (1 - s.p0))
		s.sDown += math.Log((1 - s.p1d) / (1 - s.p0))
	}

	if s.sUp >= s.a {
		up = &Event{
			Test:      "SPRT",
			Direction: "p > 0.5",
			Delta:     s.delta,
			Stat:      s.sUp,
			Threshold: s.a,
			Message:   fmt.Sprintf("positive bias detected (delta~=%v)", s.delta),
		}
	}
	if s.sDown >= s.a {
		down = &Event{
			Test:      "SPRT",
			Direction: "p < 0.5",
			Delta:     s.delta,
			Stat:      s.sDown,
			Threshold: s.a,
			Message:   fmt.Sprintf("negative bias detected (delta~=%v)", s.delta),
		}
	}
	return up, down
}
