package locker

import (
	"context"
	"sync"
	"time"
)

// PickupStatus tracks a redemption from the open command to the door closing.
type PickupStatus string

const (
	PickupOpening    PickupStatus = "opening"
	PickupAwaiting   PickupStatus = "awaiting_close"
	PickupCompleted  PickupStatus = "completed"
	PickupCancelled  PickupStatus = "cancelled"
	PickupTimedOut   PickupStatus = "timed_out"
	PickupOpenFailed PickupStatus = "open_failed"
)

// Terminal reports whether no further transition can happen.
func (s PickupStatus) Terminal() bool {
	switch s {
	case PickupCompleted, PickupCancelled, PickupTimedOut, PickupOpenFailed:
		return true
	}
	return false
}

// Pickup is one redemption of a pickup code. The locker stays reserved
// until the door-close poll confirms LOCKED.
type Pickup struct {
	ID        string    `json:"pickupId"`
	LockerID  int       `json:"lockerId"`
	StartedAt time.Time `json:"startedAt"`

	contact string
	code    string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status PickupStatus
	err    error
	once   sync.Once
	done   chan struct{}
}

func newPickup(parent context.Context, id string, lockerID int, contact, code string, now time.Time) *Pickup {
	ctx, cancel := context.WithCancel(parent)
	return &Pickup{
		ID:        id,
		LockerID:  lockerID,
		StartedAt: now,
		contact:   contact,
		code:      code,
		ctx:       ctx,
		cancel:    cancel,
		status:    PickupOpening,
		done:      make(chan struct{}),
	}
}

// Status returns the current status.
func (p *Pickup) Status() PickupStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns why the pickup ended without completing, if it did.
func (p *Pickup) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the pickup reaches a terminal status.
func (p *Pickup) Done() <-chan struct{} {
	return p.done
}

// Cancel stops waiting for the door to close. The reservation is kept.
func (p *Pickup) Cancel() {
	p.cancel()
}

// Wait blocks until the pickup ends or ctx is done.
func (p *Pickup) Wait(ctx context.Context) (PickupStatus, error) {
	select {
	case <-p.done:
		return p.Status(), p.Err()
	case <-ctx.Done():
		return p.Status(), ctx.Err()
	}
}

func (p *Pickup) setStatus(status PickupStatus) {
	p.mu.Lock()
	if !p.status.Terminal() {
		p.status = status
	}
	p.mu.Unlock()
}

// finish moves the pickup to a terminal status. Only the first call counts.
func (p *Pickup) finish(status PickupStatus, err error) bool {
	first := false
	p.once.Do(func() {
		first = true
		p.mu.Lock()
		p.status = status
		p.err = err
		p.mu.Unlock()
		p.cancel()
		close(p.done)
	})
	return first
}
