package models

import (
	"regexp"
	"strings"
)

// Anomaly is one detected metric drop.
type Anomaly struct {
	Date         string  `json:"date"`
	Source       string  `json:"source"`
	Metric       string  `json:"metric"`
	DropPercent  float64 `json:"dropPercent"`
	CurrentValue float64 `json:"currentValue"`
	Avg7d        float64 `json:"avg7d"`
	ZScore       float64 `json:"zScore"`
}

// SeverityTier is derived from an anomaly's z-score and is never stored on it.
type SeverityTier string

const (
	SeveritySevere   SeverityTier = "severe"
	SeverityModerate SeverityTier = "moderate"
	SeverityMild     SeverityTier = "mild"
)

// AnomalyID identifies an anomaly for dedup and action tracking.
type AnomalyID string

var whitespaceRun = regexp.MustCompile(`\s+`)

// IdentityOf derives the stable key for an anomaly from date, source and metric.
// Anomalies sharing all three fields are the same anomaly.
func IdentityOf(a Anomaly) AnomalyID {
	key := strings.ToLower(a.Date + "_" + a.Source + "_" + a.Metric)
	return AnomalyID(whitespaceRun.ReplaceAllString(key, "_"))
}

// AnomalyView is the presentation projection of an anomaly. It is recomputed on
// every read so severity always follows the z-score.
type AnomalyView struct {
	Anomaly
	ID               AnomalyID    `json:"id"`
	Severity         SeverityTier `json:"severity"`
	Interpretation   string       `json:"interpretation"`
	PrimaryAction    string       `json:"primaryAction"`
	SecondaryActions []string     `json:"secondaryActions"`
}
