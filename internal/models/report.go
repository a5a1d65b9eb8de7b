package models

import "time"

// DiagnosticReport is the typed form of one raw diagnostic payload.
type DiagnosticReport struct {
	Period             string        `json:"period"`
	Domain             string        `json:"domain"`
	TotalDropsDeclared int           `json:"totalDropsDeclared"`
	HealthChecks       []HealthCheck `json:"healthChecks"`
	Anomalies          []Anomaly     `json:"anomalies"`
	RootCauses         []RootCause   `json:"rootCauses"`
}

// HealthCheck is a single row of the health-check table.
type HealthCheck struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
}

// HealthStatus enumerates health-check outcomes.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// RootCause is a candidate explanation taken from a confidence-marked heading.
type RootCause struct {
	Title      string     `json:"title"`
	Confidence Confidence `json:"confidence"`
}

// Confidence captures how strongly the upstream job believes a root cause.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RawReport is the unparsed payload returned by the dashboard backend.
type RawReport struct {
	SiteID      string    `json:"siteId"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
	FetchedAt   time.Time `json:"fetchedAt"`
}
