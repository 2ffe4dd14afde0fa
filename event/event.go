package event

import (
	"context"
	"io"
	"net/textproto"
)

type Header interface {
	Get(key string) string
	Set(key string, value string)
	Keys() []string
}

// Event is a message published when the changes of a unit of work are saved
type Event interface {
	Header() Header
	Key() string
	Value() []byte
}

type Producer interface {
	io.Closer
	Send(ctx context.Context, msg Event) error
	BatchSend(ctx context.Context, msg []Event) error
}

// MapHeader is a Header with canonical MIME keys
type MapHeader map[string]string

func (h MapHeader) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

func (h MapHeader) Set(key string, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

func (h MapHeader) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Message is the plain Event published by entity changes
type Message struct {
	header MapHeader
	key    string
	value  []byte
}

var _ Event = (*Message)(nil)

func NewMessage(key string, value []byte) *Message {
	return &Message{
		key:    key,
		value:  value,
		header: MapHeader{},
	}
}

func (m *Message) Key() string {
	return m.key
}

func (m *Message) Header() Header {
	return m.header
}

func (m *Message) Value() []byte {
	return m.value
}
