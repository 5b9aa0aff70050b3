package service

import (
	"sort"
	"sync"
)

// episodeLocks serializes mutations per episode. Entries are reference counted and dropped
// when the last holder releases them.
type episodeLocks struct {
	mu    sync.Mutex
	locks map[int64]*episodeLock
}

type episodeLock struct {
	mu   sync.Mutex
	refs int
}

func newEpisodeLocks() *episodeLocks {
	return &episodeLocks{locks: make(map[int64]*episodeLock)}
}

// lock acquires every episode in ids, in ascending order so overlapping batches cannot
// deadlock, and returns the matching unlock.
func (l *episodeLocks) lock(ids ...int64) func() {
	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	held := make([]*episodeLock, len(sorted))
	for i, id := range sorted {
		l.mu.Lock()
		el, ok := l.locks[id]
		if !ok {
			el = &episodeLock{}
			l.locks[id] = el
		}
		el.refs++
		l.mu.Unlock()

		el.mu.Lock()
		held[i] = el
	}

	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, sorted[i])
			}
			l.mu.Unlock()
		}
	}
}

// size returns the number of live entries
func (l *episodeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
