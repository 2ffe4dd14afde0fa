package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	uow "github.com/go-saas/uowfactory"
	"github.com/go-saas/uowfactory/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type producer struct {
	mtx  sync.Mutex
	sent []string
	err  error
}

func (p *producer) Close() error {
	return nil
}

func (p *producer) Send(ctx context.Context, msg Event) error {
	return p.BatchSend(ctx, []Event{msg})
}

func (p *producer) BatchSend(ctx context.Context, msg []Event) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, event := range msg {
		p.sent = append(p.sent, event.Key())
	}
	return nil
}

func (p *producer) setErr(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.err = err
}

func (p *producer) Sent() []string {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return append([]string(nil), p.sent...)
}

var _ Producer = (*producer)(nil)

// memStore is a session exposing uow.Store, counting tracked changes
type memStore struct {
	*mock.Session
}

func (m *memStore) Find(ctx context.Context, dest interface{}, id interface{}) error {
	return mock.ErrNotFound
}

func (m *memStore) List(ctx context.Context, dest interface{}, conds ...interface{}) error {
	return nil
}

func (m *memStore) Add(ctx context.Context, entity interface{}) error {
	m.Track()
	return nil
}

func (m *memStore) Update(ctx context.Context, entity interface{}) error {
	m.Track()
	return nil
}

func (m *memStore) Remove(ctx context.Context, entity interface{}) error {
	m.Track()
	return nil
}

type order struct {
	ID int
}

func newManager(outbox *Outbox, inner *mock.Session) uow.Manager[*Session[*mock.Session]] {
	return uow.NewManager(func(ctx context.Context) (*Session[*mock.Session], error) {
		return Wrap(inner, outbox), nil
	})
}

func TestUow(t *testing.T) {
	p := &producer{}
	transP := NewTransactionalProducer[*mock.Session](p)
	err := newManager(NewOutbox(p), mock.NewSession()).WithNew(context.Background(), func(ctx context.Context) error {
		if err := transP.Send(ctx, NewMessage("1", nil)); err != nil {
			return err
		}
		if err := transP.Send(ctx, NewMessage("2", nil)); err != nil {
			return err
		}
		if err := transP.BatchSend(ctx, []Event{NewMessage("3", nil)}); err != nil {
			return err
		}
		assert.Empty(t, p.Sent())
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, p.Sent())
}

func TestRollbackDropsEvents(t *testing.T) {
	p := &producer{}
	transP := NewTransactionalProducer[*mock.Session](p)
	fakeErr := errors.New("fake error")
	err := newManager(NewOutbox(p), mock.NewSession()).WithNew(context.Background(), func(ctx context.Context) error {
		if err := transP.Send(ctx, NewMessage("1", nil)); err != nil {
			return err
		}
		return fakeErr
	})
	assert.ErrorIs(t, err, fakeErr)
	assert.Empty(t, p.Sent())
}

func TestSaveFailureKeepsEventsUnsent(t *testing.T) {
	p := &producer{}
	inner := mock.NewSession()
	saveErr := errors.New("save")
	inner.SaveErr = saveErr

	s := Wrap(inner, NewOutbox(p))
	s.Publish(NewMessage("1", nil))
	_, err := s.SaveChanges(context.Background())
	assert.ErrorIs(t, err, saveErr)
	assert.Empty(t, p.Sent())
	assert.Len(t, s.Pending(), 1)

	assert.NoError(t, s.Rollback(context.Background()))
	assert.Empty(t, s.Pending())
}

func TestSendFailure(t *testing.T) {
	ctx := context.Background()
	sendErr := errors.New("broker down")
	p := &producer{err: sendErr}
	outbox := NewOutbox(p)
	inner := mock.NewSession()
	inner.Track()

	s := Wrap(inner, outbox)
	s.Publish(NewMessage("1", nil))
	n, err := s.SaveChanges(ctx)
	assert.ErrorIs(t, err, ErrEventsNotSent)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.Pending())

	//rollback must not lose events of saved data
	assert.NoError(t, s.Rollback(ctx))
	assert.Len(t, outbox.Undelivered(), 1)

	p.setErr(nil)
	s.Publish(NewMessage("2", nil))
	_, err = s.SaveChanges(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, p.Sent())
	assert.Empty(t, outbox.Undelivered())
}

func TestWithNewSendFailureKeepsEvents(t *testing.T) {
	sendErr := errors.New("broker down")
	p := &producer{err: sendErr}
	outbox := NewOutbox(p)
	transP := NewTransactionalProducer[*mock.Session](p)
	inner := mock.NewSession()

	err := newManager(outbox, inner).WithNew(context.Background(), func(ctx context.Context) error {
		inner.Track()
		return transP.Send(ctx, NewMessage("1", nil))
	})
	assert.ErrorIs(t, err, ErrEventsNotSent)
	assert.ErrorIs(t, err, uow.ErrCommitFailed)
	assert.Equal(t, 1, inner.Recorder.Count("session.rollback"))
	assert.Len(t, outbox.Undelivered(), 1)
	assert.Empty(t, p.Sent())

	p.setErr(nil)
	assert.NoError(t, outbox.Flush(context.Background()))
	assert.Equal(t, []string{"1"}, p.Sent())
	assert.Empty(t, outbox.Undelivered())
}

func TestFlushEmptyOutbox(t *testing.T) {
	p := &producer{err: errors.New("unused")}
	assert.NoError(t, NewOutbox(p).Flush(context.Background()))
}

func TestSendOutsideUow(t *testing.T) {
	p := &producer{}
	transP := NewTransactionalProducer[*mock.Session](p)
	assert.NoError(t, transP.Send(context.Background(), NewMessage("direct", nil)))
	assert.Equal(t, []string{"direct"}, p.Sent())
}

func TestGenericFactoryThroughUnwrap(t *testing.T) {
	ctx := context.Background()
	inner := &memStore{Session: mock.NewSession()}
	u := uow.New[*Session[*memStore]]("test", Wrap(inner, NewOutbox(&producer{})), nil, false, nil)
	defer u.Dispose()

	orders, err := uow.CreateFactory[order, int](u)
	require.NoError(t, err)
	require.NoError(t, orders.Insert(ctx, &order{ID: 1}))
	assert.Equal(t, 1, inner.Pending())

	n, err := u.Commit(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, u.Dispose())
	assert.Equal(t, []string{"session.save", "session.close"}, inner.Recorder.Calls())
}
