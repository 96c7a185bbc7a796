package dynamodb

import (
	"time"
)

// PK/SK prefix constants.
const (
	prefixRun = "RUN#"

	activePK = "ACTIVE"
	activeSK = "ACTIVE"

	// gsi1RunsPK partitions every run in GSI1 for newest-first listing.
	gsi1RunsPK = "RUNS"
	gsi1Name   = "GSI1"
)

// sortableTime is fixed width so lexical order matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func runPK(runID string) string { return prefixRun + runID }
func runSK(runID string) string { return prefixRun + runID }

func runListSK(startedAt time.Time, runID string) string {
	return startedAt.UTC().Format(sortableTime) + "#" + runID
}

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() > epoch
}
