package uow

import (
	"context"
	"fmt"
)

// Session is the store connection owned by a unit of work. Pending changes
// are persisted by SaveChanges and discarded by Rollback.
type Session interface {
	// SaveChanges persists all pending changes and returns the number of affected records
	SaveChanges(ctx context.Context) (int, error)
	// Rollback discards pending change tracking. The session stays usable.
	Rollback(ctx context.Context) error
	Close() error
}

// Store is the optional data access capability of a Session used by GenericFactory.
// Mutations are tracked and only reach the store on SaveChanges.
type Store interface {
	Find(ctx context.Context, dest interface{}, id interface{}) error
	List(ctx context.Context, dest interface{}, conds ...interface{}) error
	Add(ctx context.Context, entity interface{}) error
	Update(ctx context.Context, entity interface{}) error
	Remove(ctx context.Context, entity interface{}) error
}

// Handle is the minimal capability the unit of work needs from a factory
type Handle interface {
	IsDisposed() bool
	Dispose() error
}

// Factory is a per entity repository bound to the session of a unit of work
type Factory[E any, K comparable] interface {
	Handle
	Get(ctx context.Context, id K) (*E, error)
	List(ctx context.Context, conds ...interface{}) ([]E, error)
	Insert(ctx context.Context, entity *E) error
	Update(ctx context.Context, entity *E) error
	Delete(ctx context.Context, entity *E) error
	// Save persists every pending change of the shared session
	Save(ctx context.Context) (int, error)
}

// SessionFactory opens the session for a new unit of work
type SessionFactory[S Session] func(ctx context.Context) (S, error)

// TypeKey identifies an (entity, key) type pair in the factory cache
type TypeKey interface {
	fmt.Stringer
}

type typeKey[E any, K comparable] struct{}

func (typeKey[E, K]) String() string {
	return typeName[E]() + "/" + typeName[K]()
}

func typeName[T any]() string {
	// %T of a nil *T also works for interface types
	return fmt.Sprintf("%T", (*T)(nil))[1:]
}

// KeyOf returns the cache key of entity E with primary key K
func KeyOf[E any, K comparable]() TypeKey {
	return typeKey[E, K]{}
}

// unwrapper is implemented by sessions decorating another session
type unwrapper interface {
	Unwrap() Session
}

// asStore walks the Unwrap chain of s until it finds a Store
func asStore(s Session) (Store, bool) {
	for s != nil {
		if st, ok := s.(Store); ok {
			return st, true
		}
		u, ok := s.(unwrapper)
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}
