// Package id generates identifiers for jobs and assembly requests.
package id

import (
	"github.com/google/uuid"
)

const (
	jobPrefix     = "job-"
	requestPrefix = "req-"
)

// Generate creates a new unique job ID.
// Example: job-6f1c2a7e-3b1d-4c55-9a0e-2d1f4b8c9e10
func Generate() string {
	return jobPrefix + uuid.NewString()
}

// GenerateRequest creates an ID for a synchronous assembly request. It is
// only used to correlate log lines.
func GenerateRequest() string {
	return requestPrefix + uuid.NewString()
}

// IsJobID reports whether s has the shape of an ID returned by Generate.
func IsJobID(s string) bool {
	if len(s) <= len(jobPrefix) || s[:len(jobPrefix)] != jobPrefix {
		return false
	}
	return uuid.Validate(s[len(jobPrefix):]) == nil
}
