package stats_test

import (
	"testing"

	"github.com/popsplit/popsplit/internal/stats"
)

func TestConfidenceInterval_BracketsRate(t *testing.T) {
	// 100 conversions over 1000 displays: the 95% interval must bracket 0.10
	// and stay within [0, 1].
	interval, ok := stats.ConfidenceInterval(100, 1000, 95)
	if !ok {
		t.Fatal("expected a valid interval")
	}

	if interval.Lower >= 0.10 || interval.Upper <= 0.10 {
		t.Errorf("interval [%f, %f] does not bracket 0.10", interval.Lower, interval.Upper)
	}
	if interval.Lower < 0 {
		t.Errorf("lower bound %f below 0", interval.Lower)
	}
	if interval.Upper > 1 {
		t.Errorf("upper bound %f above 1", interval.Upper)
	}
}

func TestConfidenceInterval_ZeroTrials(t *testing.T) {
	// No displays: no interval, not a division by zero.
	interval, ok := stats.ConfidenceInterval(0, 0, 95)
	if ok {
		t.Error("expected no interval for zero trials")
	}
	if interval.Lower != 0 || interval.Upper != 0 {
		t.Errorf("expected empty interval, got [%f, %f]", interval.Lower, interval.Upper)
	}
}

func TestConfidenceInterval_ClampsToUnit(t *testing.T) {
	// Extreme proportions with small n would leave [0, 1] without clamping.
	interval, ok := stats.ConfidenceInterval(10, 10, 99)
	if !ok {
		t.Fatal("expected a valid interval")
	}
	if interval.Upper > 1 {
		t.Errorf("upper bound %f above 1", interval.Upper)
	}

	interval, _ = stats.ConfidenceInterval(0, 10, 99)
	if interval.Lower < 0 {
		t.Errorf("lower bound %f below 0", interval.Lower)
	}
}

func TestConfidenceInterval_WiderAtHigherConfidence(t *testing.T) {
	i90, _ := stats.ConfidenceInterval(100, 1000, 90)
	i99, _ := stats.ConfidenceInterval(100, 1000, 99)

	if (i99.Upper - i99.Lower) <= (i90.Upper - i90.Lower) {
		t.Error("99% interval should be wider than 90%")
	}
}

func TestZScore_ConfiguredLevels(t *testing.T) {
	cases := map[int]float64{
		90: 1.645,
		95: 1.96,
		99: 2.576,
	}
	for level, want := range cases {
		if got := stats.ZScore(level); got != want {
			t.Errorf("ZScore(%d) = %f, want %f", level, got, want)
		}
	}
}
