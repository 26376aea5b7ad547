package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntws/ntws/internal/types"
)

func TestCache_GetSet(t *testing.T) {
	c := New()

	_, ok := c.Get("/a")
	assert.False(t, ok)
	assert.True(t, c.GetOr("/a", types.NumberValue(-1)).Equal(types.NumberValue(-1)))

	c.Set("/a", types.NumberValue(1))
	v, ok := c.Get("/a")
	require.True(t, ok)
	assert.True(t, v.Equal(types.NumberValue(1)))
	assert.True(t, c.Has("/a"))

	c.Set("/a", types.StringValue("x"))
	assert.True(t, c.GetOr("/a", types.Value{}).Equal(types.StringValue("x")))
	assert.Equal(t, 1, c.Len())
}

func TestCache_SetTwiceIsIdempotent(t *testing.T) {
	c := New()
	c.Set("/a", types.BoolValue(true))
	first := c.Snapshot()
	c.Set("/a", types.BoolValue(true))
	assert.ElementsMatch(t, first, c.Snapshot())
}

func TestCache_KeysAndSnapshot(t *testing.T) {
	c := New()
	c.Set("/a", types.NumberValue(1))
	c.Set("/b", types.StringValue("x"))

	assert.ElementsMatch(t, []string{"/a", "/b"}, c.Keys())
	assert.ElementsMatch(t, []Entry{
		{Key: "/a", Value: types.NumberValue(1)},
		{Key: "/b", Value: types.StringValue("x")},
	}, c.Snapshot())
}

func TestCache_Clear(t *testing.T) {
	c := New()
	c.Set("/a", types.NumberValue(1))
	c.Set("/b", types.NumberValue(2))

	assert.Equal(t, 2, c.Clear())
	assert.Empty(t, c.Keys())
	assert.False(t, c.Has("/a"))
	assert.Equal(t, 0, c.Clear())
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Set(fmt.Sprintf("/k%d", i%10), types.NumberValue(float64(i)))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = c.Keys()
				_, _ = c.Get("/k1")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}
