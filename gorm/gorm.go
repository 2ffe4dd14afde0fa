package gorm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	uow "github.com/go-saas/uowfactory"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSessionClosed = errors.New("gorm session closed")
	// ErrPartialWrite reports writes left in a caller owned transaction that must be rolled back by the caller
	ErrPartialWrite = errors.New("gorm session: partial writes in outer transaction, roll it back")
)

type changeKind string

const (
	changeCreate changeKind = "create"
	changeUpdate changeKind = "update"
	changeDelete changeKind = "delete"
)

type change struct {
	kind   changeKind
	entity interface{}
}

type (
	RollbackFunc func() error
	CommitFunc   func() error
	// Session tracks mutations in memory and writes them in one transaction on SaveChanges
	Session struct {
		db *gorm.DB

		mtx     sync.Mutex
		pending []change
		closed  bool
	}
)

var (
	_ uow.Session = (*Session)(nil)
	_ uow.Store   = (*Session)(nil)
)

// NewSession create a session on db. Closing the session does not close db.
func NewSession(db *gorm.DB) *Session {
	return &Session{
		db: db,
	}
}

// DB returns the underlying client for queries the Store does not cover
func (s *Session) DB() *gorm.DB {
	return s.db
}

// Pending returns the number of tracked changes
func (s *Session) Pending() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.pending)
}

func (s *Session) Find(ctx context.Context, dest interface{}, id interface{}) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	// inline string conditions are raw sql in gorm, bind the key to the primary column instead
	return s.db.WithContext(ctx).Where(clause.Eq{Column: clause.PrimaryColumn, Value: id}).First(dest).Error
}

func (s *Session) List(ctx context.Context, dest interface{}, conds ...interface{}) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.db.WithContext(ctx).Find(dest, conds...).Error
}

func (s *Session) Add(ctx context.Context, entity interface{}) error {
	return s.track(changeCreate, entity)
}

func (s *Session) Update(ctx context.Context, entity interface{}) error {
	return s.track(changeUpdate, entity)
}

func (s *Session) Remove(ctx context.Context, entity interface{}) error {
	return s.track(changeDelete, entity)
}

func (s *Session) track(kind changeKind, entity interface{}) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.pending = append(s.pending, change{kind: kind, entity: entity})
	return nil
}

// SaveChanges writes tracked changes in order and returns the affected rows.
// Tracked changes are kept when the write fails.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if len(s.pending) == 0 {
		return 0, nil
	}
	tx, commit, rollback, err := s.begin(s.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	affected := 0
	for _, c := range s.pending {
		res := apply(tx, c)
		if res.Error != nil {
			err = fmt.Errorf("%s %T: %w", c.kind, c.entity, res.Error)
			if rerr := rollback(); rerr != nil {
				return 0, errors.Join(err, rerr)
			}
			return 0, err
		}
		affected += int(res.RowsAffected)
	}
	if err := commit(); err != nil {
		return 0, err
	}
	s.pending = nil
	return affected, nil
}

func apply(tx *gorm.DB, c change) *gorm.DB {
	switch c.kind {
	case changeCreate:
		return tx.Create(c.entity)
	case changeUpdate:
		return tx.Save(c.entity)
	default:
		return tx.Delete(c.entity)
	}
}

// Rollback forgets tracked changes. Nothing has reached the database yet.
func (s *Session) Rollback(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.pending = nil
	return nil
}

func (s *Session) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}

func (s *Session) isClosed() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.closed
}

func (s *Session) begin(db *gorm.DB) (*gorm.DB, CommitFunc, RollbackFunc, error) {
	// see https://github.com/go-gorm/gorm/blob/f3c6fc253356919e8ebbcf7bc50e8c7fe88802aa/finisher_api.go#L615-L655
	if committer, ok := db.Statement.ConnPool.(gorm.TxCommitter); ok && committer != nil {
		// db is already a transaction owned by the caller
		noop := func() error { return nil }
		if db.DisableNestedTransaction {
			// no savepoint, only the owner of db can undo the writes done so far
			return db, noop, func() error {
				return ErrPartialWrite
			}, nil
		}
		sp := fmt.Sprintf("sp%p", s)
		if err := db.SavePoint(sp).Error; err != nil {
			return nil, nil, nil, err
		}
		//nested level do not need to commit
		return db, noop, func() error {
			return db.RollbackTo(sp).Error
		}, nil
	}
	tx := db.Begin()
	if tx.Error != nil {
		return nil, nil, nil, tx.Error
	}
	return tx, func() error {
			return tx.Commit().Error
		}, func() error {
			return tx.Rollback().Error
		}, nil
}
