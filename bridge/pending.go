package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"hard-bridge/pattern"
)

// Pending is a registered receiver waiting for the first matching event of its
// kind. It settles exactly once: with an event, or with ErrTimeout, ErrCanceled
// or ErrClosed.
type Pending struct {
	id        string
	kind      string
	pattern   pattern.Pattern
	createdAt time.Time
	deadline  time.Time
	bridge    *Bridge

	done chan struct{}

	mu      sync.Mutex
	settled bool
	timer   clockwork.Timer
	event   *Event
	err     error
}

// ID returns the correlation id of the receiver.
func (p *Pending) ID() string { return p.id }

// Kind returns the message kind the receiver waits for.
func (p *Pending) Kind() string { return p.kind }

// Deadline returns the time at which the receiver times out.
func (p *Pending) Deadline() time.Time { return p.deadline }

// Done is closed once the receiver has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the settled event or error. It must only be called after Done is closed.
func (p *Pending) Result() (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.event, p.err
}

// Wait blocks until the receiver settles or ctx is done. A cancelled ctx
// unregisters the receiver.
func (p *Pending) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel unregisters the receiver and settles it with ErrCanceled. It is a
// no-op when the receiver already settled.
func (p *Pending) Cancel() {
	if p.bridge != nil && p.bridge.remove(p) {
		p.settle(nil, ErrCanceled, "canceled")
	}
}

func (p *Pending) accepts(ev *Event) bool {
	if ev.Kind != p.kind {
		return false
	}
	if p.pattern == nil {
		return true
	}
	return pattern.Matches(ev.Value(), p.pattern, false)
}

func (p *Pending) setTimer(t clockwork.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		t.Stop()
		return
	}
	p.timer = t
}

func (p *Pending) settle(ev *Event, err error, outcome string) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.event = ev
	p.err = err
	timer := p.timer
	p.timer = nil
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	requestOutcome(outcome)
	close(p.done)
	return true
}
