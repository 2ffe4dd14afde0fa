package mock

import (
	"context"
	"errors"

	uow "github.com/go-saas/uowfactory"
)

var ErrNotFound = errors.New("entity not found")

// Factory is a uow.Factory keeping entities in memory and tracking changes on Session
type Factory[E any, K comparable] struct {
	Name       string
	Session    *Session
	AutoCommit bool
	DisposeErr error

	keyOf    func(*E) K
	entities map[K]E
	disposed bool
}

var _ uow.Factory[struct{}, int] = (*Factory[struct{}, int])(nil)

func NewFactory[E any, K comparable](name string, session *Session, autoCommit bool, keyOf func(*E) K) *Factory[E, K] {
	return &Factory[E, K]{
		Name:       name,
		Session:    session,
		AutoCommit: autoCommit,
		keyOf:      keyOf,
		entities:   map[K]E{},
	}
}

// Constructor adapts NewFactory for uow.Register
func Constructor[E any, K comparable](name string, keyOf func(*E) K) func(*Session, bool) uow.Factory[E, K] {
	return func(session *Session, autoCommit bool) uow.Factory[E, K] {
		return NewFactory[E, K](name, session, autoCommit, keyOf)
	}
}

func (f *Factory[E, K]) Get(ctx context.Context, id K) (*E, error) {
	if f.disposed {
		return nil, uow.ErrDisposed
	}
	e, ok := f.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (f *Factory[E, K]) List(ctx context.Context, conds ...interface{}) ([]E, error) {
	if f.disposed {
		return nil, uow.ErrDisposed
	}
	ret := make([]E, 0, len(f.entities))
	for _, e := range f.entities {
		ret = append(ret, e)
	}
	return ret, nil
}

func (f *Factory[E, K]) Insert(ctx context.Context, entity *E) error {
	return f.track(ctx, func() { f.entities[f.keyOf(entity)] = *entity })
}

func (f *Factory[E, K]) Update(ctx context.Context, entity *E) error {
	return f.track(ctx, func() { f.entities[f.keyOf(entity)] = *entity })
}

func (f *Factory[E, K]) Delete(ctx context.Context, entity *E) error {
	return f.track(ctx, func() { delete(f.entities, f.keyOf(entity)) })
}

func (f *Factory[E, K]) Save(ctx context.Context) (int, error) {
	if f.disposed {
		return 0, uow.ErrDisposed
	}
	return f.Session.SaveChanges(ctx)
}

func (f *Factory[E, K]) track(ctx context.Context, apply func()) error {
	if f.disposed {
		return uow.ErrDisposed
	}
	apply()
	f.Session.Track()
	if f.AutoCommit {
		_, err := f.Session.SaveChanges(ctx)
		return err
	}
	return nil
}

func (f *Factory[E, K]) IsDisposed() bool {
	return f.disposed
}

func (f *Factory[E, K]) Dispose() error {
	f.disposed = true
	f.Session.Recorder.Record(f.Name + ".dispose")
	return f.DisposeErr
}
