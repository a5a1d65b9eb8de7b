package engine

import (
	"math"

	"github.com/miradorstack/report-viewer/internal/models"
)

const (
	severeZ   = 3.0
	moderateZ = 2.0
)

// Classify maps a signed z-score to a severity tier using its magnitude only.
func Classify(z float64) models.SeverityTier {
	abs := math.Abs(z)
	switch {
	case abs >= severeZ:
		return models.SeveritySevere
	case abs >= moderateZ:
		return models.SeverityModerate
	default:
		return models.SeverityMild
	}
}

// severityRank orders tiers for display, most severe first.
func severityRank(tier models.SeverityTier) int {
	switch tier {
	case models.SeveritySevere:
		return 0
	case models.SeverityModerate:
		return 1
	default:
		return 2
	}
}
