package dynamodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunKeys(t *testing.T) {
	assert.Equal(t, "RUN#run-123", runPK("run-123"))
	assert.Equal(t, "RUN#run-123", runSK("run-123"))
}

func TestRunListSK_SortsByTime(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	late := early.Add(500 * time.Millisecond)

	a := runListSK(early, "run-z")
	b := runListSK(late, "run-a")
	assert.Less(t, a, b, "fixed-width timestamps must sort lexically")
	assert.Equal(t, "2026-01-02T03:04:05.000000000Z#run-z", a)
}

func TestRunListSK_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 1, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2026-01-02T03:00:00.000000000Z#r", runListSK(ts, "r"))
}

func TestIsExpired(t *testing.T) {
	assert.False(t, isExpired(0))
	assert.True(t, isExpired(time.Now().Add(-time.Minute).Unix()))
	assert.False(t, isExpired(ttlEpoch(time.Hour)))
}
