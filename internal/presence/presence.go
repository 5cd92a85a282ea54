// Package presence tracks which parties are currently connected, using leases refreshed by their activity.
package presence

import (
	"context"
	"sync"
	"time"
)

// Tracker holds a lease per key. A key is live while its lease has not expired.
type Tracker[K comparable] struct {
	mut    sync.Mutex
	lease  time.Duration
	now    func() time.Time
	leases map[K]time.Time
}

// NewTracker returns a Tracker granting leases of the given duration.
// now defaults to time.Now when nil.
// It errors if lease <= 0.
func NewTracker[K comparable](lease time.Duration, now func() time.Time) (*Tracker[K], error) {
	if lease <= 0 {
		return nil, newError("invalid lease %s <= 0", lease)
	}
	if nil == now {
		now = time.Now
	}
	return &Tracker[K]{
		lease:  lease,
		now:    now,
		leases: make(map[K]time.Time),
	}, nil
}

// Touch renews the lease of key.
// It returns true if key was not live before the call.
func (self *Tracker[K]) Touch(key K) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	now := self.now()
	expiry, found := self.leases[key]
	self.leases[key] = now.Add(self.lease)
	return !found || !now.Before(expiry)
}

// Live returns true if the lease of key has not expired.
func (self *Tracker[K]) Live(key K) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	expiry, found := self.leases[key]
	return found && self.now().Before(expiry)
}

// Drop removes the lease of key.
// It returns true if key was live.
func (self *Tracker[K]) Drop(key K) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	expiry, found := self.leases[key]
	delete(self.leases, key)
	return found && self.now().Before(expiry)
}

// Sweep removes the expired leases and returns their keys.
func (self *Tracker[K]) Sweep() []K {
	self.mut.Lock()
	defer self.mut.Unlock()

	now := self.now()
	var expired []K
	for key, expiry := range self.leases {
		if !now.Before(expiry) {
			expired = append(expired, key)
			delete(self.leases, key)
		}
	}
	return expired
}

// Run calls Sweep every period and passes the expired keys to onExpire.
// It returns when ctx is done.
func (self *Tracker[K]) Run(ctx context.Context, period time.Duration, onExpire func(K)) error {
	if period <= 0 {
		return newError("invalid sweep period %s <= 0", period)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, key := range self.Sweep() {
				onExpire(key)
			}
		}
	}
}
