package sharedfiles

import "sync"

// keyLocks — блокировки на уровне отдельного ключа записи.
// Писатели одного ключа сериализуются, разные ключи не блокируют
// друг друга. Запись в map удаляется, когда блокировку никто не держит.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock захватывает эксклюзивную блокировку ключа и возвращает функцию освобождения.
func (l *keyLocks) lock(key string) func() {
	kl := l.acquire(key)
	kl.Lock()
	return func() {
		kl.Unlock()
		l.release(key, kl)
	}
}

// rlock захватывает разделяемую блокировку ключа.
func (l *keyLocks) rlock(key string) func() {
	kl := l.acquire(key)
	kl.RLock()
	return func() {
		kl.RUnlock()
		l.release(key, kl)
	}
}

func (l *keyLocks) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size — число ключей с активными блокировками. Используется в тестах.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
