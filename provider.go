package uow

// Constructor builds a factory bound to session. A nil result means the
// requested shape can not be built.
type Constructor[S Session] func(session S, autoCommit bool) Handle

// RepositoryProvider resolves the factory constructor of an entity type.
// Resolve returns nil when the default GenericFactory should be used.
type RepositoryProvider[S Session] interface {
	Resolve(key TypeKey) Constructor[S]
}

// Registry is the default RepositoryProvider, a table of constructors keyed by entity and key type
type Registry[S Session] struct {
	ctors map[TypeKey]Constructor[S]
}

var _ RepositoryProvider[Session] = (*Registry[Session])(nil)

func NewRegistry[S Session]() *Registry[S] {
	return &Registry[S]{ctors: map[TypeKey]Constructor[S]{}}
}

func (r *Registry[S]) Resolve(key TypeKey) Constructor[S] {
	if r == nil {
		return nil
	}
	return r.ctors[key]
}

// Register replaces the factory implementation used for entity E with key K
func Register[E any, K comparable, S Session](r *Registry[S], ctor func(session S, autoCommit bool) Factory[E, K]) {
	r.ctors[KeyOf[E, K]()] = func(session S, autoCommit bool) Handle {
		f := ctor(session, autoCommit)
		if f == nil {
			return nil
		}
		return f
	}
}
