package eventstore

import "sync"

// partitionLocks hands out one mutex per partition. Entries are dropped
// once nobody holds or waits on them, so idle partitions cost nothing.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*partitionLock
}

type partitionLock struct {
	mu   sync.Mutex
	refs int
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*partitionLock)}
}

// lock blocks until the partition is free and returns its unlock func.
func (p *partitionLocks) lock(partitionID string) func() {
	p.mu.Lock()
	l, ok := p.locks[partitionID]
	if !ok {
		l = &partitionLock{}
		p.locks[partitionID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, partitionID)
		}
		p.mu.Unlock()
	}
}

func (p *partitionLocks) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
