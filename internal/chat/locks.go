package chat

import "sync"

// chatLocks hands out one mutex per chat id and forgets it once nobody
// holds or waits for it.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*refLock)}
}

func (l *chatLocks) lock(id string) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
