package uow

import (
	"context"
)

// GenericFactory is the default Factory. It issues every operation against
// the Store of the shared session.
type GenericFactory[E any, K comparable] struct {
	session    Session
	store      Store
	autoCommit bool
	disposed   bool
}

var _ Factory[struct{}, int] = (*GenericFactory[struct{}, int])(nil)

// NewGenericFactory returns nil if session does not expose a Store
func NewGenericFactory[E any, K comparable](session Session, autoCommit bool) *GenericFactory[E, K] {
	store, ok := asStore(session)
	if !ok {
		return nil
	}
	return &GenericFactory[E, K]{
		session:    session,
		store:      store,
		autoCommit: autoCommit,
	}
}

func (f *GenericFactory[E, K]) AutoCommit() bool {
	return f.autoCommit
}

func (f *GenericFactory[E, K]) Get(ctx context.Context, id K) (*E, error) {
	if f.disposed {
		return nil, ErrDisposed
	}
	e := new(E)
	if err := f.store.Find(ctx, e, id); err != nil {
		return nil, err
	}
	return e, nil
}

func (f *GenericFactory[E, K]) List(ctx context.Context, conds ...interface{}) ([]E, error) {
	if f.disposed {
		return nil, ErrDisposed
	}
	var ret []E
	if err := f.store.List(ctx, &ret, conds...); err != nil {
		return nil, err
	}
	return ret, nil
}

func (f *GenericFactory[E, K]) Insert(ctx context.Context, entity *E) error {
	return f.track(ctx, entity, f.store.Add)
}

func (f *GenericFactory[E, K]) Update(ctx context.Context, entity *E) error {
	return f.track(ctx, entity, f.store.Update)
}

func (f *GenericFactory[E, K]) Delete(ctx context.Context, entity *E) error {
	return f.track(ctx, entity, f.store.Remove)
}

func (f *GenericFactory[E, K]) Save(ctx context.Context) (int, error) {
	if f.disposed {
		return 0, ErrDisposed
	}
	return f.session.SaveChanges(ctx)
}

func (f *GenericFactory[E, K]) track(ctx context.Context, entity *E, op func(ctx context.Context, entity interface{}) error) error {
	if f.disposed {
		return ErrDisposed
	}
	if err := op(ctx, entity); err != nil {
		return err
	}
	if f.autoCommit {
		_, err := f.session.SaveChanges(ctx)
		return err
	}
	return nil
}

func (f *GenericFactory[E, K]) IsDisposed() bool {
	return f.disposed
}

// Dispose detaches the factory. The session is owned by the unit of work and stays open.
func (f *GenericFactory[E, K]) Dispose() error {
	f.disposed = true
	return nil
}
