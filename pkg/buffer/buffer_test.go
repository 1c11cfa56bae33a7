package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	b := NewRing[int](4)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	assert.Equal(t, 2, b.Size())

	v, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v, "FIFO order")

	v, ok = b.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = b.Read()
	assert.False(t, ok, "empty buffer")
}

func TestDropOldestOverflow(t *testing.T) {
	var dropped []int
	b := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, []int{2, 3}, b.ReadBatch(10))
	assert.Equal(t, int64(1), b.Stats().Drops())
}

func TestDropNewestOverflow(t *testing.T) {
	b := NewRing[int](2, WithOverflowPolicy[int](DropNewest))

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	assert.Equal(t, []int{1, 2}, b.ReadBatch(10))
}

func TestReadBatchPartial(t *testing.T) {
	b := NewRing[int](8)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Write(i))
	}

	assert.Equal(t, []int{0, 1}, b.ReadBatch(2))
	assert.Equal(t, []int{2}, b.ReadBatch(5))
	assert.Nil(t, b.ReadBatch(5))
}

func TestWrapAround(t *testing.T) {
	b := NewRing[int](3)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Write(i))
	}
	assert.Equal(t, []int{7, 8, 9}, b.ReadBatch(3), "only the freshest survive")
}

func TestClear(t *testing.T) {
	b := NewRing[int](4)
	require.NoError(t, b.Write(1))
	b.Clear()
	assert.Equal(t, 0, b.Size())
	_, ok := b.Read()
	assert.False(t, ok)
}

func TestClosedBufferRejectsWrites(t *testing.T) {
	b := NewRing[int](4)
	require.NoError(t, b.Write(1))
	require.NoError(t, b.Close())

	assert.Error(t, b.Write(2))

	// Buffered items remain readable after close.
	v, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestConcurrentProducers(t *testing.T) {
	b := NewRing[int](1000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.Write(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, b.Size())
	assert.Equal(t, int64(400), b.Stats().Writes())
	assert.Equal(t, 400, b.Stats().MaxSize())
}
