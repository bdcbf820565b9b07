package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectTargetsRanksByLoadThenID(t *testing.T) {
	live := []string{"cs3", "cs1", "cs2"}
	counts := map[string]int{"cs1": 2, "cs2": 0, "cs3": 0}

	got := SelectTargets(live, counts, 2, nil)
	assert.Equal(t, []string{"cs2", "cs3"}, got, "tie on load count breaks by server id")
}

func TestSelectTargetsHonorsExclude(t *testing.T) {
	live := []string{"cs1", "cs2", "cs3"}
	counts := map[string]int{}
	excl := ExcludeSet("cs1")

	got := SelectTargets(live, counts, 2, excl)
	assert.Equal(t, []string{"cs2", "cs3"}, got)
}

func TestSelectTargetsReturnsFewerThanKWhenShortOfCapacity(t *testing.T) {
	live := []string{"cs1"}
	got := SelectTargets(live, nil, 3, nil)
	assert.Equal(t, []string{"cs1"}, got)
}

func TestSelectTargetsZeroOrNegativeKReturnsNil(t *testing.T) {
	assert.Nil(t, SelectTargets([]string{"cs1"}, nil, 0, nil))
	assert.Nil(t, SelectTargets([]string{"cs1"}, nil, -1, nil))
}

func TestChunkIDsAreOrderedAndCanonical(t *testing.T) {
	ids := ChunkIDs("f.txt", 3)
	assert.Equal(t, []string{"f.txt_chunk_0", "f.txt_chunk_1", "f.txt_chunk_2"}, ids)
}
