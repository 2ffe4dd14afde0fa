package kratos

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	uow "github.com/go-saas/uowfactory"
	uhttp "github.com/go-saas/uowfactory/http"
)

func contains(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}

	return false
}

const (
	ReasonCommitFailed = "UOW_COMMIT_FAILED"
	ReasonUnavailable  = "UOW_UNAVAILABLE"
)

// SkipFunc reports whether a request runs without a unit of work
type SkipFunc func(ctx context.Context, req interface{}) bool

type option struct {
	skip    SkipFunc
	skipOps []string
}

type Option func(*option)

// WithSkip replaces DefaultSkip
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithForceSkipOp never opens a unit of work for ops
func WithForceSkipOp(ops ...string) Option {
	return func(o *option) {
		o.skipOps = ops
	}
}

// DefaultSkip skips operations named get* or list* (case-insensitive) and
// http requests with uhttp.SafeMethods
func DefaultSkip() func(ctx context.Context, req interface{}) bool {
	return func(ctx context.Context, req interface{}) bool {
		if t, ok := transport.FromServerContext(ctx); ok {
			//resolve by operation
			if len(t.Operation()) > 0 && skipOperation(t.Operation()) {
				log.Debugf("[uow] safe operation %s. skip uow", t.Operation())
				return true
			}
			// can not identify
			if ht, ok := t.(*http.Transport); ok {
				if contains(uhttp.SafeMethods, ht.Request().Method) {
					//safe method skip unit of work
					log.Debugf("[uow] safe method %s. skip uow", ht.Request().Method)
					return true
				}
			}
			return false
		}
		return false
	}
}

// Uow opens a unit of work for each handled request and commits it when the
// handler succeeds. Errors of the unit of work are converted by Error.
func Uow[S uow.Session](um uow.Manager[S], opts ...Option) middleware.Middleware {
	opt := &option{
		skip: DefaultSkip(),
	}
	for _, o := range opts {
		o(opt)
	}
	return selector.Server(func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if opt.skip(ctx, req) {
				return next(ctx, req)
			}
			var res interface{}
			// wrap into new unit of work
			log.Debugf("[uow] run into unit of work")
			err := um.WithNew(ctx, func(ctx context.Context) error {
				var err error
				res, err = next(ctx, req)
				return err
			})
			return res, Error(err)
		}
	}).Match(func(ctx context.Context, operation string) bool {
		return !contains(opt.skipOps, operation)
	}).Build()
}

// skipOperation return true if operation action start with "get" or "list" (case-insensitive)
func skipOperation(operation string) bool {
	s := strings.Split(operation, "/")
	act := strings.ToLower(s[len(s)-1])
	return strings.HasPrefix(act, "get") || strings.HasPrefix(act, "list")
}

// Error converts a unit of work error to a kratos error keeping it as the
// cause. A failed commit is a conflict, a missing or broken unit of work an
// internal error. Errors already carrying a kratos error and other errors
// are returned unchanged.
func Error(err error) error {
	if err == nil {
		return nil
	}
	var ke *errors.Error
	if stderrors.As(err, &ke) {
		return err
	}
	switch {
	case stderrors.Is(err, uow.ErrCommitFailed):
		return errors.Conflict(ReasonCommitFailed, err.Error()).WithCause(err)
	case stderrors.Is(err, uow.ErrUnitOfWorkNotFound),
		stderrors.Is(err, uow.ErrDisposed),
		stderrors.Is(err, uow.ErrNoConstructor):
		return errors.InternalServer(ReasonUnavailable, err.Error()).WithCause(err)
	}
	return err
}

// Factory resolves the factory of entity E with key K in a handler, as a kratos error on failure
func Factory[E any, K comparable, S uow.Session](ctx context.Context) (uow.Factory[E, K], error) {
	f, err := uow.CurrentFactory[E, K, S](ctx)
	if err != nil {
		return nil, Error(err)
	}
	return f, nil
}
