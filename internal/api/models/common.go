// Package models holds the response bodies of the ops HTTP surface.
package models

import "time"

// HealthStatus represents the health status of a service or dependency.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Worse returns the more severe of two statuses.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusOK: 0, HealthStatusDegraded: 1, HealthStatusFail: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// Timestamp is a time.Time that marshals as RFC 3339 in UTC.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(time.RFC3339) + `"`), nil
}

// TimestampPtr returns nil for the zero time.
func TimestampPtr(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	ts := Timestamp(t)
	return &ts
}
