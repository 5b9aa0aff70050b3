package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpisodeLocks_Serializes(t *testing.T) {
	locks := newEpisodeLocks()

	unlock := locks.lock(42)
	acquired := make(chan struct{})
	go func() {
		release := locks.lock(7, 42)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired episode 42 while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestEpisodeLocks_OverlappingBatches(t *testing.T) {
	locks := newEpisodeLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []int64{1, 2, 3}
			if i%2 == 0 {
				ids = []int64{3, 2, 1, 1}
			}
			unlock := locks.lock(ids...)
			counter++
			unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size(), "released entries are dropped")
}
