package store

import (
	"fmt"
)

// Redis key helpers. Format: nexshift:{kind}:{parts...}

// LeaderLockKey is the lease key for sweep leader election.
const LeaderLockKey = "nexshift:lock:sweep-leader"

// WaveIntentKey is the duplicate-suppression key for a wave dispatch.
func WaveIntentKey(requestID string, wave int) string {
	return fmt.Sprintf("nexshift:intent:%s:wave:%d", requestID, wave)
}

// CompletionIntentKey is the duplicate-suppression key for a completion
// notification of a given type.
func CompletionIntentKey(intentType, requestID string) string {
	return fmt.Sprintf("nexshift:intent:%s:%s", intentType, requestID)
}

// AlertIntentKey is the duplicate-suppression key for a reminder alert: one
// per recipient, assignment and alert type.
func AlertIntentKey(intentType, recipientID, assignmentID string) string {
	return fmt.Sprintf("nexshift:alert:%s:%s:%s", intentType, recipientID, assignmentID)
}
