package detector

import "testing"

func TestNewSPRTRejectsBadParams(t *testing.T) {
	cases := []struct {
		delta, alpha, beta float64
	}{
		{0, 0.01, 0.01},
		{0.6, 0.01, 0.01},
		{0.1, 0, 0.01},
		{0.1, 0.01, 0},
	}
	for _, c := range cases {
		if _, err := NewSPRT(c.delta, c.alpha, c.beta); err == nil {
			t.Errorf("NewSPRT(%v,%v,%v): expected error", c.delta, c.alpha, c.beta)
		}
	}
}

func TestSPRTFiresUpOnPersistentOnes(t *testing.T) {
	s, err := NewSPRT(0.1, 0.01, 0.01)
	if err != nil {
		t.Fatalf("NewSPRT: %v", err)
	}
	var ev *Event
	for i := 0; i < 2000 && ev == nil; i++ {
		ev = s.Update(1)
	}
	if ev == nil {
		t.Fatal("expected SPRT to flag persistent bias toward ones")
	}
	if ev.Direction != "p > 0.5" {
		t.Errorf("Direction = %q, want %q", ev.Direction, "p > 0.5")
	}
}

func TestSPRTFiresDownOnPersistentZeros(t *testing.T) {
	s, err := NewSPRT(0.1, 0.01, 0.01)
	if err != nil {
		t.Fatalf("NewSPRT: %v", err)
	}
	var up, down *Event
	for i := 0; i < 2000 && down == nil; i++ {
		up, down = s.updateBoth(0)
	}
	if down == nil {
		t.Fatal("expected SPRT to flag persistent bias toward zeros")
	}
	if up != nil {
		t.Errorf("expected no up-event for an all-zero stream, got %+v", up)
	}
	if down.Direction != "p < 0.5" {
		t.Errorf("Direction = %q, want %q", down.Direction, "p < 0.5")
	}
}

func TestSPRTStaysSilentForBalancedStream(t *testing.T) {
	s, err := NewSPRT(0.1, 0.01, 0.01)
	if err != nil {
		t.Fatalf("NewSPRT: %v", err)
	}
	for i := 0; i < 5000; i++ {
		if ev := s.Update(i % 2); ev != nil {
			t.Fatalf("unexpected event on balanced stream at bit %d: %+v", i, ev)
		}
	}
}
