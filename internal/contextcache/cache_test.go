package contextcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetReplacesEntry(t *testing.T) {
	c := New(10, time.Hour)

	_, ok := c.Get("U1")
	assert.False(t, ok)

	c.Set("U1", Entry{LastMessage: "a", LastResponse: "1"})
	c.Set("U1", Entry{LastMessage: "b", LastResponse: "2"})

	e, ok := c.Get("U1")
	require.True(t, ok)
	assert.Equal(t, "b", e.LastMessage)
	assert.Equal(t, "2", e.LastResponse)
	assert.Equal(t, 1, c.Len())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, 0)

	c.Set("U1", Entry{LastMessage: "1"})
	c.Set("U2", Entry{LastMessage: "2"})
	c.Get("U1")
	c.Set("U3", Entry{LastMessage: "3"})

	_, ok := c.Get("U2")
	assert.False(t, ok, "U2 was least recently used")
	_, ok = c.Get("U1")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestEntriesExpire(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	c.Set("U1", Entry{LastMessage: "hi"})

	assert.Eventually(t, func() bool {
		_, ok := c.Get("U1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentWritersDoNotCorrupt(t *testing.T) {
	c := New(100, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("U%d", i%5)
			msg := fmt.Sprintf("m%d", i)
			c.Set(user, Entry{LastMessage: msg, LastResponse: "r" + msg})
			c.Get(user)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
	for i := 0; i < 5; i++ {
		e, ok := c.Get(fmt.Sprintf("U%d", i))
		require.True(t, ok)
		assert.Equal(t, "r"+e.LastMessage, e.LastResponse, "entries are replaced whole")
	}
}
