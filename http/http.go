package http

import (
	"context"
	"errors"
	"net/http"

	uow "github.com/go-saas/uowfactory"
)

var (
	SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
)

func contains(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}

	return false
}

// SkipFunc reports whether a request runs without a unit of work
type SkipFunc func(r *http.Request) bool

// EncodeErrorFunc writes the error returned by the handler or the unit of work
type EncodeErrorFunc func(http.ResponseWriter, *http.Request, error)

type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type option struct {
	skip       SkipFunc
	errEncoder EncodeErrorFunc
	commitOpts []uow.CommitOption
}

type Option func(*option)

// WithSkip replaces the skip function. Requests with SafeMethods are skipped by default.
func WithSkip(f SkipFunc) Option {
	return func(o *option) {
		o.skip = f
	}
}

// WithErrorEncoder replaces DefaultErrorEncoder
func WithErrorEncoder(f EncodeErrorFunc) Option {
	return func(o *option) {
		o.errEncoder = f
	}
}

// WithCommitOptions sets the options of an explicit Commit done through Commit
func WithCommitOptions(opts ...uow.CommitOption) Option {
	return func(o *option) {
		o.commitOpts = opts
	}
}

// StatusCode maps unit of work errors to a status. A failed commit is a
// conflict, a broken unit of work is a server error.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, uow.ErrCommitFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// DefaultErrorEncoder writes StatusCode(err) with the error text. Nil errors write nothing.
func DefaultErrorEncoder(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	http.Error(w, err.Error(), StatusCode(err))
}

type commitOptsKey struct{}

// Uow runs handler inside a new unit of work committed when handler returns
// nil. Skipped requests run without one.
func Uow[S uow.Session](mgr uow.Manager[S], handler HandlerFunc, opts ...Option) http.Handler {
	opt := &option{
		skip: func(r *http.Request) bool {
			return contains(SafeMethods, r.Method)
		},
		errEncoder: DefaultErrorEncoder,
	}
	for _, o := range opts {
		o(opt)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opt.skip(r) {
			opt.errEncoder(w, r, handler(w, r))
			return
		}
		err := mgr.WithNew(r.Context(), func(ctx context.Context) error {
			ctx = context.WithValue(ctx, commitOptsKey{}, opt.commitOpts)
			return handler(w, r.WithContext(ctx))
		})
		opt.errEncoder(w, r, err)
	})
}

// Factory resolves the factory of entity E with key K for the request
func Factory[E any, K comparable, S uow.Session](r *http.Request) (uow.Factory[E, K], error) {
	return uow.CurrentFactory[E, K, S](r.Context())
}

// Commit saves the changes made so far, before the handler writes its
// response, with the options given by WithCommitOptions
func Commit[S uow.Session](r *http.Request) (int, error) {
	u, ok := uow.FromCurrentUow[S](r.Context())
	if !ok {
		return 0, uow.ErrUnitOfWorkNotFound
	}
	opts, _ := r.Context().Value(commitOptsKey{}).([]uow.CommitOption)
	return u.Commit(r.Context(), opts...)
}
