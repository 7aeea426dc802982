package stats

import (
	"fmt"
	"math"

	"github.com/popsplit/popsplit/internal/store"
)

// Result is the outcome of one pairwise two-proportion z-test. B is the
// challenger: Improvement is B's conversion rate relative to A's, signed.
type Result struct {
	VariantA      string
	VariantB      string
	Confidence    float64 // percent, 0-100
	PValue        float64
	Improvement   float64 // percent, signed; 0 when A has no conversions
	Significant   bool
	SampleSizeMet bool
	Message       string
}

// Significance performs a two-proportion z-test between two variants at the
// given confidence level (90, 95 or 99). minSample is the test's minimum
// sample size gate: a result is never reported significant while either
// variant's displays are below it, regardless of the raw z-score.
//
// The computation always uses the raw integer counts, never a pre-rounded
// rate.
func Significance(a, b store.VariantMetrics, confidence, minSample int) Result {
	r := Result{
		VariantA:      a.VariantID,
		VariantB:      b.VariantID,
		SampleSizeMet: a.Displays >= minSample && b.Displays >= minSample,
	}

	if a.Displays == 0 || b.Displays == 0 {
		r.PValue = 1
		r.Message = "Insufficient data: both variants need recorded views before significance can be computed."
		return r
	}

	pA := float64(a.Conversions) / float64(a.Displays)
	pB := float64(b.Conversions) / float64(b.Displays)

	// Pooled proportion under the null hypothesis (pA = pB)
	pooled := float64(a.Conversions+b.Conversions) / float64(a.Displays+b.Displays)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(a.Displays) + 1/float64(b.Displays)))

	var z float64
	if se > 0 {
		z = (pB - pA) / se
	}

	// Two-tailed p-value from the standard normal CDF
	r.PValue = 2 * (1 - normalCDF(math.Abs(z)))
	r.Confidence = (1 - r.PValue) * 100

	if pA > 0 {
		r.Improvement = (pB - pA) / pA * 100
	}

	alpha := 1 - float64(confidence)/100
	crossed := r.PValue < alpha

	if !r.SampleSizeMet {
		r.Message = fmt.Sprintf(
			"Insufficient data: each variant needs at least %d views before a reliable result (p=%.4f ignored).",
			minSample, r.PValue)
		return r
	}

	r.Significant = crossed
	switch {
	case crossed && r.Improvement > 0:
		r.Message = fmt.Sprintf("Variant %s outperforms %s by %.1f%% at the %d%% confidence level.",
			b.VariantID, a.VariantID, r.Improvement, confidence)
	case crossed:
		r.Message = fmt.Sprintf("Variant %s underperforms %s by %.1f%% at the %d%% confidence level.",
			b.VariantID, a.VariantID, math.Abs(r.Improvement), confidence)
	default:
		r.Message = fmt.Sprintf("No statistically significant difference at the %d%% confidence level (p=%.4f).",
			confidence, r.PValue)
	}
	return r
}

// Pairwise computes a two-proportion z-test for every C(n,2) pair of
// variants, in stable position order. No multiple-comparisons correction is
// applied; callers comparing many variants should treat borderline results
// accordingly.
func Pairwise(metrics []store.VariantMetrics, confidence, minSample int) []Result {
	var results []Result
	for i := 0; i < len(metrics); i++ {
		for j := i + 1; j < len(metrics); j++ {
			results = append(results, Significance(metrics[i], metrics[j], confidence, minSample))
		}
	}
	return results
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Use the approximation from Abramowitz and Stegun
	// Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
