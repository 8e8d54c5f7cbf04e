package zoteroapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalcBackoff_ExponentialWithJitterAndCap(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calcBackoff(attempt)
		assert.LessOrEqual(t, d, defaultMaxBackoff)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestCalcBackoff_CapsAtMax(t *testing.T) {
	d := calcBackoff(20)
	assert.LessOrEqual(t, d, defaultMaxBackoff)
}

func TestQuietClock_ExtendIsMonotoneLatest(t *testing.T) {
	q := newQuietClock()
	q.extend(10 * time.Millisecond)
	first := q.until
	q.extend(1 * time.Millisecond)
	assert.Equal(t, first, q.until, "a shorter extension must not shorten the deadline")
}
