package sqlite

import (
	"context"
	"sync"
	"sync/atomic"
)

// lockHolder идентифицирует одного логического владельца блокировки.
// Значение не пустое, чтобы указатели разных владельцев гарантированно различались.
type lockHolder struct {
	id uint64
}

var holderSeq atomic.Uint64

// ownerKey - ключ context.Context, под которым лежит владелец конкретной блокировки.
type ownerKey struct {
	lock *WriteLock
}

// WriteLock - реентерабельный мьютекс записи.
//
// В Go нет идентификатора горутины, поэтому владелец блокировки
// передаётся через context.Context: Acquire возвращает контекст-владельца,
// и повторный Acquire с этим контекстом (или его потомком) не блокируется,
// а только увеличивает счётчик. Владение переходит вместе с контекстом,
// поэтому передавать такой контекст в другие горутины нельзя.
type WriteLock struct {
	mu sync.Mutex

	state sync.Mutex
	owner *lockHolder
	depth int
}

// NewWriteLock создает свободную блокировку.
func NewWriteLock() *WriteLock {
	return &WriteLock{}
}

// Acquire захватывает блокировку и возвращает контекст, несущий владение.
// Каждому Acquire должен соответствовать ровно один Release с возвращённым контекстом.
func (l *WriteLock) Acquire(ctx context.Context) context.Context {
	if h := l.holderOf(ctx); h != nil {
		l.state.Lock()
		if l.owner == h {
			l.depth++
			l.state.Unlock()
			return ctx
		}
		l.state.Unlock()
	}

	l.mu.Lock()
	h := &lockHolder{id: holderSeq.Add(1)}
	l.state.Lock()
	l.owner = h
	l.depth = 1
	l.state.Unlock()
	return context.WithValue(ctx, ownerKey{l}, h)
}

// Release освобождает один уровень захвата.
// Release без соответствующего Acquire - ошибка программиста и вызывает панику.
func (l *WriteLock) Release(ctx context.Context) {
	h := l.holderOf(ctx)

	l.state.Lock()
	if h == nil || l.owner != h || l.depth == 0 {
		l.state.Unlock()
		panic("sqlite: release of a write lock that is not held by this context")
	}
	l.depth--
	if l.depth > 0 {
		l.state.Unlock()
		return
	}
	l.owner = nil
	l.state.Unlock()
	l.mu.Unlock()
}

// Held сообщает, владеет ли ctx блокировкой прямо сейчас.
func (l *WriteLock) Held(ctx context.Context) bool {
	h := l.holderOf(ctx)
	if h == nil {
		return false
	}
	l.state.Lock()
	defer l.state.Unlock()
	return l.owner == h
}

// Depth возвращает текущую глубину захвата (0 - свободна).
func (l *WriteLock) Depth() int {
	l.state.Lock()
	defer l.state.Unlock()
	return l.depth
}

func (l *WriteLock) holderOf(ctx context.Context) *lockHolder {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(ownerKey{l}).(*lockHolder)
	return h
}

// bind переносит владение holder в ctx, если ctx ещё ничего не знает о блокировке.
// Так курсор, созданный внутри транзакции, остаётся реентерабельным
// даже при вызове с посторонним контекстом.
func (l *WriteLock) bind(ctx context.Context, h *lockHolder) context.Context {
	if h == nil || l.holderOf(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{l}, h)
}

// lockRegistry выдаёт одну блокировку на канонический путь,
// чтобы копии дескриптора одного файла не сериализовались независимо.
type lockRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	lock *WriteLock
	refs int
}

var registry = &lockRegistry{entries: make(map[string]*registryEntry)}

// acquire возвращает блокировку для key и функцию освобождения ссылки.
// Пустой key означает приватную блокировку (in-memory БД).
func (r *lockRegistry) acquire(key string) (*WriteLock, func()) {
	if key == "" {
		return NewWriteLock(), func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &registryEntry{lock: NewWriteLock()}
		r.entries[key] = e
	}
	e.refs++

	var once sync.Once
	return e.lock, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.refs--
			if e.refs == 0 && r.entries[key] == e {
				delete(r.entries, key)
			}
		})
	}
}

// size возвращает число путей в реестре.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
