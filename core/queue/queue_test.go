package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundedPushPopFIFO(t *testing.T) {
	q := NewBounded[int](4)
	require.Equal(t, 4, q.Cap())
	for i := 0; i < 4; i++ {
		require.True(t, q.Push(i))
	}
	require.False(t, q.Push(99), "queue should be full")
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestBoundedRoundsUpToPowerOfTwo(t *testing.T) {
	q := NewBounded[int](5)
	require.Equal(t, 8, q.Cap())
}

func TestBoundedConcurrentProducersSingleConsumer(t *testing.T) {
	const n = 20000
	q := NewBounded[int](256)
	var wg sync.WaitGroup
	produced := make(chan int, n)

	wg.Add(4)
	for p := 0; p < 4; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				for !q.Push(base*1000000 + i) {
				}
			}
		}(p)
	}

	var consumeWG sync.WaitGroup
	consumeWG.Add(1)
	go func() {
		defer consumeWG.Done()
		got := 0
		for got < n {
			if v, ok := q.Pop(); ok {
				produced <- v
				got++
			}
		}
		close(produced)
	}()

	wg.Wait()
	consumeWG.Wait()

	count := 0
	for range produced {
		count++
	}
	require.Equal(t, n, count)
}
