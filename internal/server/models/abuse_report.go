package models

import "time"

// AbuseReport is an append-only audit row.
type AbuseReport struct {
	ReporterHash string
	ReportedHash string
	Reason       string
	CreatedAt    time.Time
}
