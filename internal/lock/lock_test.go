package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "m1:a1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.slots, "slots are dropped once unused")
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()

	r1, err := l.Acquire(context.Background(), "m1:a1")
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := l.Acquire(ctx, "m2:a1")
	require.NoError(t, err)
	r2()
}

func TestLocalLocker_Timeout(t *testing.T) {
	l := NewLocalLocker()

	release, err := l.Acquire(context.Background(), "m1:a1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "m1:a1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	release() // second call is a no-op

	again, err := l.Acquire(context.Background(), "m1:a1")
	require.NoError(t, err)
	again()
}
