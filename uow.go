package uow

import (
	"context"
	"errors"
	"fmt"

	orderedmap "github.com/elliotchance/orderedmap/v2"
	"github.com/go-kratos/kratos/v2/log"
)

var (
	ErrUnitOfWorkNotFound = errors.New("unit of work not found, please wrap with manager.WithNew")
	ErrDisposed           = errors.New("unit of work disposed")
	ErrNoConstructor      = errors.New("no factory constructor")
	// ErrCommitFailed wraps every error of a failed SaveChanges
	ErrCommitFailed = errors.New("commit failed")
)

// UnitOfWork owns one session and the factories created on top of it.
// It is not safe for concurrent use.
type UnitOfWork[S Session] struct {
	id         string
	session    S
	provider   RepositoryProvider[S]
	autoCommit bool
	// factories keeps creation order, index maps a type pair to its slot
	factories *orderedmap.OrderedMap[int, Handle]
	index     map[TypeKey]int
	seq       int
	disposed  bool
	log       *log.Helper
}

// New creates a unit of work owning session. A nil provider falls back to an empty Registry.
func New[S Session](id string, session S, provider RepositoryProvider[S], autoCommit bool, logger log.Logger) *UnitOfWork[S] {
	if provider == nil {
		provider = NewRegistry[S]()
	}
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &UnitOfWork[S]{
		id:         id,
		session:    session,
		provider:   provider,
		autoCommit: autoCommit,
		factories:  orderedmap.NewOrderedMap[int, Handle](),
		index:      map[TypeKey]int{},
		log:        log.NewHelper(log.With(logger, "module", "uow", "uow_id", id)),
	}
}

func (u *UnitOfWork[S]) ID() string {
	return u.id
}

func (u *UnitOfWork[S]) IsDisposed() bool {
	return u.disposed
}

// Session returns the shared session
func (u *UnitOfWork[S]) Session() (S, error) {
	if u.disposed {
		var zero S
		return zero, ErrDisposed
	}
	return u.session, nil
}

// SetSession replaces the shared session. Factories already created keep
// the previous session; dispose them first if they must follow.
// The previous session is not closed: the caller takes ownership of it.
func (u *UnitOfWork[S]) SetSession(session S) error {
	if u.disposed {
		return ErrDisposed
	}
	u.session = session
	return nil
}

func (u *UnitOfWork[S]) AutoCommit() bool {
	return u.autoCommit
}

// SetAutoCommit only affects factories created afterwards
func (u *UnitOfWork[S]) SetAutoCommit(autoCommit bool) {
	u.autoCommit = autoCommit
}

// CreateFactory returns the factory of entity E with key K. The same live
// factory is returned for repeated calls; a disposed one is replaced.
func CreateFactory[E any, K comparable, S Session](u *UnitOfWork[S]) (Factory[E, K], error) {
	if u.disposed {
		return nil, ErrDisposed
	}
	key := KeyOf[E, K]()
	if slot, ok := u.index[key]; ok {
		h, _ := u.factories.Get(slot)
		if !h.IsDisposed() {
			return h.(Factory[E, K]), nil
		}
		u.log.Debugf("[uow] factory %s disposed, recreate", key)
		u.factories.Delete(slot)
		delete(u.index, key)
	}

	var f Factory[E, K]
	if ctor := u.provider.Resolve(key); ctor != nil {
		h := ctor(u.session, u.autoCommit)
		if h != nil {
			var ok bool
			if f, ok = h.(Factory[E, K]); !ok {
				if err := h.Dispose(); err != nil {
					u.log.Warnf("[uow] dispose mismatched factory %T: %v", h, err)
				}
			}
		}
	} else if gf := NewGenericFactory[E, K](u.session, u.autoCommit); gf != nil {
		f = gf
	}
	if f == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoConstructor, key)
	}
	u.seq++
	u.factories.Set(u.seq, f)
	u.index[key] = u.seq
	u.log.Debugf("[uow] factory %s created", key)
	return f, nil
}

type commitOption struct {
	autoRollback bool
}

type CommitOption func(*commitOption)

// NoAutoRollback keeps pending changes when the commit fails
func NoAutoRollback() CommitOption {
	return func(o *commitOption) {
		o.autoRollback = false
	}
}

// CommitResult is the outcome of CommitAsync
type CommitResult struct {
	Affected int
	Err      error
}

// Commit saves the pending changes of the session. On failure it rolls back
// unless NoAutoRollback is given, and returns the save error wrapped in ErrCommitFailed.
func (u *UnitOfWork[S]) Commit(ctx context.Context, opts ...CommitOption) (int, error) {
	if u.disposed {
		return 0, ErrDisposed
	}
	opt := &commitOption{autoRollback: true}
	for _, o := range opts {
		o(opt)
	}
	n, err := u.session.SaveChanges(ctx)
	if err == nil {
		return n, nil
	}
	u.log.Errorf("[uow] commit fail: %v", err)
	err = fmt.Errorf("%w: %w", ErrCommitFailed, err)
	if opt.autoRollback {
		if rerr := u.session.Rollback(ctx); rerr != nil {
			u.log.Errorf("[uow] rollback after commit fail: %v", rerr)
			return n, errors.Join(err, fmt.Errorf("rolling back transaction fail: %w", rerr))
		}
	}
	return n, err
}

// CommitAsync runs Commit on its own goroutine. The channel receives exactly one result.
// No other method may be called until the result is received.
func (u *UnitOfWork[S]) CommitAsync(ctx context.Context, opts ...CommitOption) <-chan CommitResult {
	ret := make(chan CommitResult, 1)
	go func() {
		defer close(ret)
		n, err := u.Commit(ctx, opts...)
		ret <- CommitResult{Affected: n, Err: err}
	}()
	return ret
}

func (u *UnitOfWork[S]) Rollback(ctx context.Context) error {
	if u.disposed {
		return ErrDisposed
	}
	return u.session.Rollback(ctx)
}

// Dispose releases every factory, newest first, then closes the session.
// Only the first call has effect.
func (u *UnitOfWork[S]) Dispose() error {
	if u.disposed {
		return nil
	}
	u.disposed = true
	var errs []error
	for el := u.factories.Back(); el != nil; el = el.Prev() {
		if el.Value.IsDisposed() {
			continue
		}
		if err := el.Value.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose factory %T: %w", el.Value, err))
		}
	}
	u.factories = orderedmap.NewOrderedMap[int, Handle]()
	u.index = map[TypeKey]int{}
	if err := u.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		u.log.Errorf("[uow] dispose fail: %v", err)
		return err
	}
	return nil
}
