package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsLiveWithinWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	tr := NewTracker(15 * time.Second, nil)
	tr.now = func() time.Time { return clock }

	tr.Touch("cs1")
	clock = clock.Add(10 * time.Second)
	assert.True(t, tr.IsLive("cs1"))

	clock = clock.Add(10 * time.Second) // 20s since touch, window is 15s
	assert.False(t, tr.IsLive("cs1"))
}

func TestNeverSeenServerIsDead(t *testing.T) {
	tr := NewTracker(15 * time.Second, nil)
	assert.False(t, tr.IsLive("cs-unknown"))
}

func TestLiveSetIsSortedAndExcludesExpired(t *testing.T) {
	clock := time.Unix(1000, 0)
	tr := NewTracker(15 * time.Second, nil)
	tr.now = func() time.Time { return clock }

	tr.Touch("cs3")
	clock = clock.Add(5 * time.Second)
	tr.Touch("cs2")
	tr.Touch("cs1")
	clock = clock.Add(11 * time.Second) // cs3 is now 16s old; cs2, cs1 are 11s old

	assert.Equal(t, []string{"cs1", "cs2"}, tr.LiveSet())
}

func TestTouchOutsideStaticUniverseIsIgnored(t *testing.T) {
	tr := NewTracker(15*time.Second, []string{"cs1", "cs2"})

	tr.Touch("cs1")
	tr.Touch("rogue")

	assert.True(t, tr.IsLive("cs1"))
	assert.False(t, tr.IsLive("rogue"))
	assert.Equal(t, []string{"cs1"}, tr.LiveSet())
}

func TestInUniverse(t *testing.T) {
	restricted := NewTracker(15*time.Second, []string{"cs1", "cs2"})
	assert.True(t, restricted.InUniverse("cs1"))
	assert.False(t, restricted.InUniverse("cs3"))

	unrestricted := NewTracker(15*time.Second, nil)
	assert.True(t, unrestricted.InUniverse("anything"))
}

func TestLastSeenReportsPresence(t *testing.T) {
	clock := time.Unix(1000, 0)
	tr := NewTracker(15 * time.Second, nil)
	tr.now = func() time.Time { return clock }

	_, ok := tr.LastSeen("cs1")
	assert.False(t, ok)

	tr.Touch("cs1")
	seen, ok := tr.LastSeen("cs1")
	assert.True(t, ok)
	assert.Equal(t, clock, seen)
}
