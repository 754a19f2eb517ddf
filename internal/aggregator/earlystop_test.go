package aggregator

import "testing"

func TestPatienceTripsAtThirdNonImprovingRound(t *testing.T) {
	p := newPatiencePolicy(3, 0.0)

	rewards := []float64{5, 4, 3, 2}
	expected := []bool{false, false, false, true}
	for i, r := range rewards {
		if got := p.Observe(r); got != expected[i] {
			t.Fatalf("round %d: stop = %v, want %v", i+1, got, expected[i])
		}
	}
}

func TestPatienceResetsOnImprovement(t *testing.T) {
	p := newPatiencePolicy(2, 0.0)

	if p.Observe(1) {
		t.Fatal("first round should not stop")
	}
	if p.Observe(0.5) {
		t.Fatal("one non-improving round should not stop")
	}
	if p.Observe(2) {
		t.Fatal("improvement should reset the counter")
	}
	if p.Observe(1.5) {
		t.Fatal("counter should have restarted from zero")
	}
	if !p.Observe(1.0) {
		t.Fatal("second consecutive non-improving round should stop")
	}
}

func TestPatienceHonorsMinDelta(t *testing.T) {
	p := newPatiencePolicy(2, 1.0)

	p.Observe(10)
	// Improvement below min delta still counts as non-improving.
	if p.Observe(10.5) {
		t.Fatal("should not stop yet")
	}
	if !p.Observe(10.9) {
		t.Fatal("two sub-delta rounds should stop")
	}
}

func TestPatienceDisabledByZeroThreshold(t *testing.T) {
	p := newPatiencePolicy(0, 0.0)
	for i := 0; i < 100; i++ {
		if p.Observe(-float64(i)) {
			t.Fatal("disabled policy must never stop")
		}
	}
}
