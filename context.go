package uow

import (
	"context"
	"errors"
	"fmt"
)

type unitOfWorkKey string

var (
	currentKey unitOfWorkKey = "current"
)

func NewCurrentUow[S Session](ctx context.Context, u *UnitOfWork[S]) context.Context {
	return context.WithValue(ctx, currentKey, u)
}

func FromCurrentUow[S Session](ctx context.Context) (u *UnitOfWork[S], ok bool) {
	u, ok = ctx.Value(currentKey).(*UnitOfWork[S])
	return
}

func WithUnitOfWork[S Session](ctx context.Context, u *UnitOfWork[S], fn func(ctx context.Context) error) (err error) {
	ctx = NewCurrentUow(ctx, u)
	return WithCurrentUnitOfWork[S](ctx, fn)
}

// WithCurrentUnitOfWork wrap a function into current unit of work. Automatically Rollback if function returns error
func WithCurrentUnitOfWork[S Session](ctx context.Context, fn func(ctx context.Context) error) (err error) {
	uow, ok := FromCurrentUow[S](ctx)
	if !ok {
		return ErrUnitOfWorkNotFound
	}
	panicked := true
	defer func() {
		if panicked || err != nil {
			if rerr := uow.Rollback(ctx); rerr != nil {
				err = errors.Join(err, fmt.Errorf("rolling back transaction fail: %w", rerr))
			}
		}
	}()
	if err = fn(ctx); err != nil {
		panicked = false
		return
	}
	panicked = false
	// the deferred rollback covers a failed commit
	_, err = uow.Commit(ctx, NoAutoRollback())
	return err
}

// CurrentFactory creates the factory of entity E with key K from the unit of work in ctx
func CurrentFactory[E any, K comparable, S Session](ctx context.Context) (Factory[E, K], error) {
	u, ok := FromCurrentUow[S](ctx)
	if !ok {
		return nil, ErrUnitOfWorkNotFound
	}
	return CreateFactory[E, K](u)
}
