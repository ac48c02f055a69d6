// Package bus is a small in-process pub/sub used for component state
// fan-out (retained "net/state", "usb/state", "bridge/state" documents
// and the diagnostics monitor). Command hand-off does NOT go through the
// bus; that uses the single-slot mailbox.
package bus

import "sync"

// Topic is a path of string tokens, e.g. {"net", "state"}.
type Topic []string

// T is a convenience constructor.
func T(parts ...string) Topic { return Topic(parts) }

func (t Topic) String() string {
	s := ""
	for i, p := range t {
		if i > 0 {
			s += "/"
		}
		s += p
	}
	return s
}

// Tail is the wildcard token: a subscription ending in "#" matches every
// topic below its prefix.
const Tail = "#"

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type node struct {
	children map[string]*node
	subs     []*Subscription // exact-topic subscribers at this node
	tails    []*Subscription // "#" subscribers rooted at this node
	retained *Message
}

type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// drop oldest if queue full
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Publish delivers msg to exact subscribers of its topic and to every
// "#" subscriber whose prefix covers it. Retained messages are stored
// and replayed to later subscribers.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, sub := range n.tails {
		deliver(sub, msg)
	}
	for _, tok := range msg.Topic {
		child, ok := n.children[tok]
		if !ok {
			if !msg.Retained {
				return
			}
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			child = &node{}
			n.children[tok] = child
		}
		n = child
		for _, sub := range n.tails {
			deliver(sub, msg)
		}
	}
	for _, sub := range n.subs {
		deliver(sub, msg)
	}
	if msg.Retained {
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := sub.topic
	tail := len(topic) > 0 && topic[len(topic)-1] == Tail
	if tail {
		topic = topic[:len(topic)-1]
	}

	n := b.root
	for _, tok := range topic {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}

	if tail {
		n.tails = append(n.tails, sub)
		replayRetained(n, sub)
		return
	}
	n.subs = append(n.subs, sub)
	if n.retained != nil {
		deliver(sub, n.retained)
	}
}

// replayRetained walks the subtree under n and replays every retained
// message to a new "#" subscriber.
func replayRetained(n *node, sub *Subscription) {
	if n.retained != nil {
		deliver(sub, n.retained)
	}
	for _, child := range n.children {
		replayRetained(child, sub)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := sub.topic
	tail := len(topic) > 0 && topic[len(topic)-1] == Tail
	if tail {
		topic = topic[:len(topic)-1]
	}

	n := b.root
	for _, tok := range topic {
		child, ok := n.children[tok]
		if !ok {
			return
		}
		n = child
	}
	remove := func(list []*Subscription) []*Subscription {
		for i, s := range list {
			if s == sub {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	}
	if tail {
		n.tails = remove(n.tails)
	} else {
		n.subs = remove(n.subs)
	}
}

// Connection groups subscriptions under one owner so a component can
// disconnect as a unit.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*Subscription
	id   string
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
