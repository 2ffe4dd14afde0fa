package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	uow "github.com/go-saas/uowfactory"
)

// ErrEventsNotSent reports a save whose data is persisted but whose events
// wait in the Outbox for the next delivery
var ErrEventsNotSent = errors.New("events not sent")

// Outbox delivers events through a producer and keeps what it failed to
// send. Share one Outbox per producer between units of work.
type Outbox struct {
	producer    Producer
	mtx         sync.Mutex
	undelivered []Event
}

func NewOutbox(producer Producer) *Outbox {
	return &Outbox{producer: producer}
}

// Deliver sends previously undelivered events followed by events
func (o *Outbox) Deliver(ctx context.Context, events []Event) error {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	batch := append(append([]Event(nil), o.undelivered...), events...)
	if len(batch) == 0 {
		return nil
	}
	if err := o.producer.BatchSend(ctx, batch); err != nil {
		o.undelivered = batch
		return fmt.Errorf("%w: %w", ErrEventsNotSent, err)
	}
	o.undelivered = nil
	return nil
}

// Flush retries the undelivered events
func (o *Outbox) Flush(ctx context.Context) error {
	return o.Deliver(ctx, nil)
}

func (o *Outbox) Undelivered() []Event {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return append([]Event(nil), o.undelivered...)
}

// Session decorates a uow.Session with event publishing. Published events
// are handed to the Outbox once the inner session saved successfully.
type Session[S uow.Session] struct {
	inner  S
	outbox *Outbox
	events []Event
	mtx    sync.Mutex
}

var (
	_ uow.Session = (*Session[uow.Session])(nil)
)

func Wrap[S uow.Session](inner S, outbox *Outbox) *Session[S] {
	return &Session[S]{
		inner:  inner,
		outbox: outbox,
	}
}

func (s *Session[S]) Inner() S {
	return s.inner
}

// Unwrap lets uow.GenericFactory reach the store of the inner session
func (s *Session[S]) Unwrap() uow.Session {
	return s.inner
}

// Publish buffers msg until the next successful SaveChanges
func (s *Session[S]) Publish(msg ...Event) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.events = append(s.events, msg...)
}

// Pending returns the events published since the last save
func (s *Session[S]) Pending() []Event {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]Event(nil), s.events...)
}

// SaveChanges saves the inner session then delivers published events. A
// delivery failure returns ErrEventsNotSent with the saved count; the
// events stay in the Outbox, out of reach of Rollback.
func (s *Session[S]) SaveChanges(ctx context.Context) (int, error) {
	n, err := s.inner.SaveChanges(ctx)
	if err != nil {
		return n, err
	}
	s.mtx.Lock()
	events := s.events
	s.events = nil
	s.mtx.Unlock()
	return n, s.outbox.Deliver(ctx, events)
}

// Rollback drops events not yet saved and rolls back the inner session
func (s *Session[S]) Rollback(ctx context.Context) error {
	s.mtx.Lock()
	s.events = nil
	s.mtx.Unlock()
	return s.inner.Rollback(ctx)
}

// Close closes the inner session. The outbox is shared and stays open.
func (s *Session[S]) Close() error {
	s.mtx.Lock()
	s.events = nil
	s.mtx.Unlock()
	return s.inner.Close()
}

// TransactionalProducer publishes into the current unit of work and
// sends directly when there is none
type TransactionalProducer[S uow.Session] struct {
	wrap Producer
}

func NewTransactionalProducer[S uow.Session](wrap Producer) *TransactionalProducer[S] {
	return &TransactionalProducer[S]{wrap: wrap}
}

func (t *TransactionalProducer[S]) Close() error {
	return t.wrap.Close()
}

func (t *TransactionalProducer[S]) Send(ctx context.Context, msg Event) error {
	return t.BatchSend(ctx, []Event{msg})
}

func (t *TransactionalProducer[S]) BatchSend(ctx context.Context, msg []Event) error {
	u, ok := uow.FromCurrentUow[*Session[S]](ctx)
	if !ok {
		return t.wrap.BatchSend(ctx, msg)
	}
	s, err := u.Session()
	if err != nil {
		return err
	}
	s.Publish(msg...)
	return nil
}

var _ Producer = (*TransactionalProducer[uow.Session])(nil)
