package mail

import (
	"context"
	"strings"
	"sync"
)

// Fake is an in-memory Gateway. Failures are scripted per recipient and
// consumed one per attempt; once a recipient's script is empty sends succeed.
type Fake struct {
	mu        sync.Mutex
	failures  map[string][]error
	sent      []Message
	attempts  map[string]int
	VerifyErr error
	// Hook runs before every attempt; tests use it to block or observe.
	Hook func(ctx context.Context, msg Message) error
}

func NewFake() *Fake {
	return &Fake{failures: map[string][]error{}, attempts: map[string]int{}}
}

// FailWith queues errors returned by consecutive attempts to addr.
func (f *Fake) FailWith(addr string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(addr)
	f.failures[key] = append(f.failures[key], errs...)
}

func (f *Fake) Verify(context.Context) error { return f.VerifyErr }

func (f *Fake) Send(ctx context.Context, msg Message) error {
	if f.Hook != nil {
		if err := f.Hook(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(msg.To)
	f.attempts[key]++
	if q := f.failures[key]; len(q) > 0 {
		f.failures[key] = q[1:]
		return q[0]
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

func (f *Fake) Attempts(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[strings.ToLower(addr)]
}
