package ops

import (
	"context"
	"database/sql"
	"sync"

	"github.com/hpungsan/protkit/internal/session"
)

// Locker serializes interaction cycles per session name. The zero value is
// ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// Lock blocks until the session name is free and returns its unlock func.
// Entries are dropped once no caller holds or waits for them.
func (l *Locker) Lock(name string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[name]
	if !ok {
		sl = &sessionLock{}
		l.locks[name] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

// held reports how many callers hold or wait for name.
func (l *Locker) held(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl, ok := l.locks[name]; ok {
		return sl.refs
	}
	return 0
}

// processLocks is shared by every runner without its own Locker, so the
// web and MCP surfaces of one process serialize on the same names.
var processLocks = NewLocker()

func (r *Runner) locker() *Locker {
	if r.Locks != nil {
		return r.Locks
	}
	return processLocks
}

// Cycle runs one interaction cycle on the named session while holding its
// lock: load (creating when missing), apply fn (may be nil), process pending
// predictions, save. An fn error aborts without saving. The save ignores ctx
// cancellation so finished predictions are kept.
func Cycle(ctx context.Context, database *sql.DB, r *Runner, name string, fn func(s *session.State) error) (*session.State, ProcessOutput, error) {
	if err := session.ValidateName(name); err != nil {
		return nil, ProcessOutput{}, err
	}
	unlock := r.locker().Lock(session.NormalizeName(name))
	defer unlock()

	s, err := Load(ctx, database, name)
	if err != nil {
		return nil, ProcessOutput{}, err
	}
	if fn != nil {
		if err := fn(s); err != nil {
			return nil, ProcessOutput{}, err
		}
	}

	out := ProcessPending(ctx, r, s)
	if err := Save(context.WithoutCancel(ctx), database, s); err != nil {
		return nil, ProcessOutput{}, err
	}
	return s, out, nil
}
