// Package broker is an in-process topic log. Each simulation publishes its
// telemetry on two topics (vehicle_<sim> and phase_<sim>); consumers read a
// topic from the first message onwards and then follow it live.
package broker

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("broker closed")

// Message is one published payload.
type Message struct {
	Topic  string
	Offset int
	Data   []byte
}

type topic struct {
	name string
	log  [][]byte
	// notify is closed and replaced on every publish to wake waiting cursors.
	notify chan struct{}
}

// Broker holds every topic in memory for the life of the process.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	onTopic []func(string)
	closed  bool

	tailMu sync.Mutex
	tails  map[string]chan Message
}

func New() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		tails:  make(map[string]chan Message),
	}
}

// getTopic returns the named topic, creating it if needed. created reports
// whether it was new. Caller holds b.mu.
func (b *Broker) getTopic(name string) (t *topic, created bool) {
	if t, ok := b.topics[name]; ok {
		return t, false
	}
	t = &topic{name: name, notify: make(chan struct{})}
	b.topics[name] = t
	return t, true
}

// Publish appends data to topic and returns its offset. The first publish
// to a topic runs the OnTopic hooks.
func (b *Broker) Publish(name string, data []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	t, _ := b.getTopic(name)
	announce := len(t.log) == 0
	offset := len(t.log)
	t.log = append(t.log, data)
	close(t.notify)
	t.notify = make(chan struct{})
	hooks := slices.Clone(b.onTopic)
	b.mu.Unlock()

	if announce {
		for _, fn := range hooks {
			fn(name)
		}
	}
	b.fanOutTail(Message{Topic: name, Offset: offset, Data: data})
	return offset, nil
}

// OnTopic registers fn to be called with the name of every topic that has
// received at least one message, including those that already exist. fn
// runs on the publishing goroutine and must not block.
func (b *Broker) OnTopic(fn func(topic string)) {
	b.mu.Lock()
	b.onTopic = append(b.onTopic, fn)
	var existing []string
	for name, t := range b.topics {
		if len(t.log) > 0 {
			existing = append(existing, name)
		}
	}
	b.mu.Unlock()

	slices.Sort(existing)
	for _, name := range existing {
		fn(name)
	}
}

// Topics returns the names of all non-empty topics, sorted.
func (b *Broker) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name, t := range b.topics {
		if len(t.log) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Len returns the number of messages in a topic.
func (b *Broker) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return len(t.log)
	}
	return 0
}

// Cursor reads a topic from offset 0.
func (b *Broker) Cursor(name string) *Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, _ := b.getTopic(name)
	return &Cursor{b: b, t: t}
}

// Subscribe streams a topic from offset 0 onto the returned channel until
// ctx is done or the broker is closed, then closes the channel.
func (b *Broker) Subscribe(ctx context.Context, name string) <-chan Message {
	c := b.Cursor(name)
	ch := make(chan Message)
	go func() {
		defer close(ch)
		for {
			msg, err := c.Next(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close wakes every cursor with ErrClosed once it has drained its topic,
// and closes all tails.
func (b *Broker) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, t := range b.topics {
			close(t.notify)
			t.notify = make(chan struct{})
		}
	}
	b.mu.Unlock()

	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	for id, ch := range b.tails {
		close(ch)
		delete(b.tails, id)
	}
}

// Cursor is a read position in one topic. It is not safe for concurrent
// use.
type Cursor struct {
	b    *Broker
	t    *topic
	next int
}

// Offset returns the offset of the next message to be read.
func (c *Cursor) Offset() int { return c.next }

// Next blocks until the next message is available. After Close it returns
// the remaining messages and then ErrClosed.
func (c *Cursor) Next(ctx context.Context) (Message, error) {
	for {
		c.b.mu.Lock()
		if c.next < len(c.t.log) {
			msg := Message{Topic: c.t.name, Offset: c.next, Data: c.t.log[c.next]}
			c.next++
			c.b.mu.Unlock()
			return msg, nil
		}
		if c.b.closed {
			c.b.mu.Unlock()
			return Message{}, ErrClosed
		}
		wait := c.t.notify
		c.b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// randomID generates a random tail ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Tail subscribes to live messages on every topic. Messages are dropped for
// a tail that is not keeping up.
func (b *Broker) Tail() (string, chan Message) {
	id := randomID()
	ch := make(chan Message, 64)
	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	b.tails[id] = ch
	return id, ch
}

// Untail removes a tail and closes its channel.
func (b *Broker) Untail(id string) {
	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	if ch, ok := b.tails[id]; ok {
		close(ch)
		delete(b.tails, id)
	}
}

func (b *Broker) fanOutTail(msg Message) {
	b.tailMu.Lock()
	defer b.tailMu.Unlock()
	for _, ch := range b.tails {
		select {
		case ch <- msg:
		default:
			// slow tail, skip so as not to block publishers
		}
	}
}
