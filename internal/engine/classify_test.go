package engine

import (
	"math"
	"testing"

	"github.com/miradorstack/report-viewer/internal/models"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		z    float64
		want models.SeverityTier
	}{
		{0, models.SeverityMild},
		{1.99, models.SeverityMild},
		{-1.99, models.SeverityMild},
		{2.0, models.SeverityModerate},
		{-2.0, models.SeverityModerate},
		{2.999999, models.SeverityModerate},
		{-2.999999, models.SeverityModerate},
		{3.0, models.SeveritySevere},
		{-3.0, models.SeveritySevere},
		{-3.4, models.SeveritySevere},
		{12, models.SeveritySevere},
		{math.Inf(-1), models.SeveritySevere},
	}
	for _, tc := range cases {
		if got := Classify(tc.z); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.z, got, tc.want)
		}
	}
}

func TestClassifyNaNIsMild(t *testing.T) {
	if got := Classify(math.NaN()); got != models.SeverityMild {
		t.Fatalf("expected mild for NaN, got %s", got)
	}
}

func TestClassifySignIrrelevant(t *testing.T) {
	for z := 0.0; z < 6; z += 0.25 {
		if Classify(z) != Classify(-z) {
			t.Fatalf("classification differs for %v and %v", z, -z)
		}
	}
}
