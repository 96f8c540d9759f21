package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterAbove(t *testing.T) {
	// Unsorted server response is sorted ascending
	assert.Equal(t, []uint32{4, 5, 7}, filterAbove([]uint32{7, 4, 5}, 3))

	// UIDs at or below the cursor are dropped
	assert.Equal(t, []uint32{6}, filterAbove([]uint32{3, 5, 6}, 5))

	// An idle mailbox re-offers the cursor message via the n:* range;
	// it must not come back
	assert.Empty(t, filterAbove([]uint32{5}, 5))
	assert.Empty(t, filterAbove(nil, 0))
}
