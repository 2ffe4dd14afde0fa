package mock

import (
	"context"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	uow "github.com/go-saas/uowfactory"
)

// Recorder collects the calls made on test doubles in order
type Recorder struct {
	mtx   sync.Mutex
	calls []string
}

func (r *Recorder) Record(call string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, call)
}

func (r *Recorder) Calls() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]string(nil), r.calls...)
}

// Count returns how many times call was recorded
func (r *Recorder) Count(call string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Session is a uow.Session counting tracked changes in memory
type Session struct {
	Recorder    *Recorder
	SaveErr     error
	RollbackErr error
	CloseErr    error

	mtx     sync.Mutex
	pending int
}

var _ uow.Session = (*Session)(nil)

func NewSession() *Session {
	return &Session{Recorder: &Recorder{}}
}

// Track registers one pending change
func (s *Session) Track() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pending++
}

func (s *Session) Pending() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.pending
}

func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	s.Recorder.Record("session.save")
	if s.SaveErr != nil {
		return 0, s.SaveErr
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := s.pending
	s.pending = 0
	log.Debugf("save %d changes", n)
	return n, nil
}

func (s *Session) Rollback(ctx context.Context) error {
	s.Recorder.Record("session.rollback")
	if s.RollbackErr != nil {
		return s.RollbackErr
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pending = 0
	return nil
}

func (s *Session) Close() error {
	s.Recorder.Record("session.close")
	return s.CloseErr
}
