package gateway

import (
	"sync"
	"time"
)

const DefaultMessageTTL = 3 * time.Second

type Kind int

const (
	KindNone Kind = iota
	KindSuccess
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Message is the user-facing outcome of a gateway call.
type Message struct {
	Text string
	Kind Kind
}

func (m Message) IsZero() bool {
	return m.Kind == KindNone && m.Text == ""
}

const (
	TextSetOK      = "Item added to cache successfully"
	TextGetOK      = "Item retrieved from cache successfully"
	TextDeleteOK   = "Item deleted from cache successfully"
	TextNotFound   = "Key not found"
	TextGenericErr = "Something went wrong, please try again later."
)

func success(text string) Message { return Message{Text: text, Kind: KindSuccess} }
func failure(text string) Message { return Message{Text: text, Kind: KindError} }

// board holds the current message of one operation. A posted message is
// cleared after ttl unless a newer one replaced it first.
type board struct {
	ttl      time.Duration
	onChange func(Message)

	mu      sync.Mutex
	current Message
	gen     uint64
	timer   *time.Timer
}

func newBoard(ttl time.Duration, onChange func(Message)) *board {
	return &board{ttl: ttl, onChange: onChange}
}

func (b *board) Current() Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *board) Post(m Message) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.current = m
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if !m.IsZero() {
		b.timer = time.AfterFunc(b.ttl, func() { b.expire(gen) })
	}
	b.mu.Unlock()
	b.changed(m)
}

func (b *board) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.current = Message{}
	b.timer = nil
	b.mu.Unlock()
	b.changed(Message{})
}

func (b *board) changed(m Message) {
	if b.onChange != nil {
		b.onChange(m)
	}
}
