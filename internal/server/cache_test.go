package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheDetectsDuplicates(t *testing.T) {
	c := newActionCache(10)

	assert.False(t, c.Contains("a1"))
	assert.False(t, c.Add("a1"))
	assert.True(t, c.Contains("a1"))
	assert.True(t, c.Add("a1"))
}

func TestCacheIgnoresEmptyIDs(t *testing.T) {
	c := newActionCache(10)
	assert.False(t, c.Add(""))
	assert.False(t, c.Contains(""))
	assert.Equal(t, 0, c.Len())
}

func TestCacheClear(t *testing.T) {
	c := newActionCache(10)
	c.Add("a1")
	c.Add("a2")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("a1"))
	assert.False(t, c.Add("a1"), "cleared ids can be used again")
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	c := newActionCache(3)
	for i := 0; i < 3; i++ {
		c.Add(fmt.Sprintf("a%d", i))
	}
	assert.True(t, c.Contains("a0"))

	c.Add("a3")
	assert.False(t, c.Contains("a0"), "oldest entry evicted")
	assert.True(t, c.Contains("a1"))
	assert.True(t, c.Contains("a3"))
	assert.Equal(t, 3, c.Len())
}
