package usecase

import "sync"

// keyLock выдает мьютекс на ключ (идентификатор назначения или тревоги).
// Неиспользуемые мьютексы удаляются, чтобы карта не росла бесконечно.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
