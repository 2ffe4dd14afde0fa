package uow

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

type Manager[S Session] interface {
	CreateNew(ctx context.Context) (*UnitOfWork[S], error)
	// WithNew create a new unit of work and execute [fn] with this unit of work.
	// The unit of work is disposed when fn returns.
	WithNew(ctx context.Context, fn func(ctx context.Context) error) error
}

type IdGenerator func(ctx context.Context) string

var (
	DefaultIdGenerator IdGenerator = func(ctx context.Context) string {
		return uuid.New().String()
	}
)

type manager[S Session] struct {
	cfg     *Config[S]
	factory SessionFactory[S]
}

var _ Manager[Session] = (*manager[Session])(nil)

type Config[S Session] struct {
	AutoCommit bool
	provider   RepositoryProvider[S]
	idGen      IdGenerator
	logger     log.Logger
}

type Option[S Session] func(*Config[S])

// WithAutoCommit makes factories save after every mutation
func WithAutoCommit[S Session]() Option[S] {
	return func(config *Config[S]) {
		config.AutoCommit = true
	}
}

func WithProvider[S Session](p RepositoryProvider[S]) Option[S] {
	return func(config *Config[S]) {
		config.provider = p
	}
}

func WithIdGenerator[S Session](idGen IdGenerator) Option[S] {
	return func(config *Config[S]) {
		config.idGen = idGen
	}
}

func WithLogger[S Session](logger log.Logger) Option[S] {
	return func(config *Config[S]) {
		config.logger = logger
	}
}

func NewManager[S Session](factory SessionFactory[S], opts ...Option[S]) Manager[S] {
	cfg := &Config[S]{
		provider: NewRegistry[S](),
		idGen:    DefaultIdGenerator,
		logger:   log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &manager[S]{
		cfg:     cfg,
		factory: factory,
	}
}

func (m *manager[S]) CreateNew(ctx context.Context) (*UnitOfWork[S], error) {
	session, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}
	return New(m.cfg.idGen(ctx), session, m.cfg.provider, m.cfg.AutoCommit, m.cfg.logger), nil
}

func (m *manager[S]) WithNew(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	u, err := m.CreateNew(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if derr := u.Dispose(); derr != nil && err == nil {
			err = derr
		}
	}()
	return WithUnitOfWork(ctx, u, fn)
}
