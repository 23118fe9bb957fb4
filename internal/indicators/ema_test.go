package indicators

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	if got := SMA([]float64{1, 2, 3, 4}, 2); got != 3.5 {
		t.Fatalf("expected 3.5, got %v", got)
	}
	if got := SMA([]float64{1}, 2); got != 0 {
		t.Fatalf("short window should be 0, got %v", got)
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	e := NewEMA(3)
	for _, p := range []float64{1, 2} {
		if _, ok := e.Update(p); ok {
			t.Fatal("ema ready before period values")
		}
	}
	v, ok := e.Update(3)
	if !ok || v != 2 {
		t.Fatalf("expected seed 2, got %v %v", v, ok)
	}
	// alpha = 0.5
	v, _ = e.Update(6)
	if math.Abs(v-4) > 1e-9 {
		t.Fatalf("expected 4, got %v", v)
	}
	if !e.Ready() || e.Value() != v {
		t.Fatal("accessors disagree with Update")
	}
}
