// ABOUTME: Process-wide table of live connections per identity with admission cap
// ABOUTME: Reservations close the check-then-reserve race during concurrent handshakes

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited indicates the identity already holds the maximum number
// of connections (live plus reserved). New connections are rejected;
// existing ones are never evicted to make room.
var ErrRateLimited = errors.New("connection limit reached")

// ErrReservationConsumed indicates a reservation was already registered
// or released.
var ErrReservationConsumed = errors.New("reservation already consumed")

// Options configure admission and eviction policy.
type Options struct {
	// MaxPerIdentity caps concurrent connections per identity.
	MaxPerIdentity int

	// MaxLifetime is the hard connection lifetime, enforced by Sweep
	// independent of activity.
	MaxLifetime time.Duration

	// IdleTimeout evicts handles with no inbound activity for this long.
	// Zero disables idle eviction.
	IdleTimeout time.Duration
}

// DefaultOptions mirror the original deployment: three connections per
// user, two hour hard lifetime, no idle eviction.
func DefaultOptions() Options {
	return Options{
		MaxPerIdentity: 3,
		MaxLifetime:    2 * time.Hour,
	}
}

type entry struct {
	reserved int
	handles  []*Handle
}

func (e *entry) count() int { return e.reserved + len(e.handles) }

func (e *entry) empty() bool { return e.reserved == 0 && len(e.handles) == 0 }

// Registry is the single shared-mutable structure in the gateway. A
// global mutex guards all mutations; contention is one lock acquisition
// per handshake, heartbeat-free, so sharding is not worth the complexity.
type Registry struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	logger  *slog.Logger
}

// New creates a registry. Pass nil logger for the default.
func New(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPerIdentity <= 0 {
		opts.MaxPerIdentity = DefaultOptions().MaxPerIdentity
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = DefaultOptions().MaxLifetime
	}
	return &Registry{
		opts:    opts,
		entries: make(map[string]*entry),
		logger:  logger.With("component", "registry"),
	}
}

// Reservation is a provisional slot held during handshake. It must be
// either registered (converted to a live handle) or released; callers
// defer Release on every setup path so a reservation can never leak.
type Reservation struct {
	registry *Registry
	identity string

	mu       sync.Mutex
	consumed bool
}

// TryAdmit atomically checks the identity's live-plus-reserved count
// against the cap and reserves a slot. Two concurrent handshakes cannot
// both observe "count < cap" and overshoot.
func (r *Registry) TryAdmit(identity string) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[identity]
	if !ok {
		e = &entry{}
		r.entries[identity] = e
	}

	if e.count() >= r.opts.MaxPerIdentity {
		r.logger.Debug("admission rejected",
			"identity", identity,
			"count", e.count(),
			"cap", r.opts.MaxPerIdentity)
		return nil, ErrRateLimited
	}

	e.reserved++
	return &Reservation{registry: r, identity: identity}, nil
}

// Register converts the reservation into a live entry for the handle.
// The handle's identity must match the reservation's.
func (res *Reservation) Register(h *Handle) error {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.consumed {
		return ErrReservationConsumed
	}
	if h.Identity() != res.identity {
		return errors.New("handle identity does not match reservation")
	}
	res.consumed = true

	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[res.identity]
	e.reserved--
	e.handles = append(e.handles, h)
	r.logger.Info("connection registered",
		"identity", res.identity,
		"handle_id", h.ID,
		"active", len(e.handles))
	return nil
}

// Release frees an unconverted reservation. Idempotent: releasing after
// Register or after a previous Release is a no-op, which lets setup code
// defer it unconditionally.
func (res *Reservation) Release() {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.consumed {
		return
	}
	res.consumed = true

	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[res.identity]
	if !ok {
		return
	}
	e.reserved--
	if e.empty() {
		delete(r.entries, res.identity)
	}
}

// Release removes a live handle and begins its teardown. Idempotent:
// double-close never corrupts the count.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.Identity()]
	if ok {
		for i, existing := range e.handles {
			if existing == h {
				e.handles = append(e.handles[:i], e.handles[i+1:]...)
				break
			}
		}
		if e.empty() {
			delete(r.entries, h.Identity())
		}
	}
	r.mu.Unlock()

	h.Close()
}

// Count returns the number of live connections for the identity.
// Reservations are not counted; they are not yet connections.
func (r *Registry) Count(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[identity]; ok {
		return len(e.handles)
	}
	return 0
}

// Total returns the number of live connections across all identities.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, e := range r.entries {
		total += len(e.handles)
	}
	return total
}

// Sweep forcibly releases every handle whose age exceeds the maximum
// lifetime regardless of activity, and every idle handle if an idle
// timeout is configured. It uses the same release path as explicit close
// so bookkeeping stays consistent. Returns the evicted handles for
// diagnostics.
func (r *Registry) Sweep(now time.Time) []*Handle {
	r.mu.Lock()
	var expired []*Handle
	for _, e := range r.entries {
		for _, h := range e.handles {
			if now.Sub(h.CreatedAt()) > r.opts.MaxLifetime {
				expired = append(expired, h)
				continue
			}
			if r.opts.IdleTimeout > 0 && now.Sub(h.LastActive()) > r.opts.IdleTimeout {
				expired = append(expired, h)
			}
		}
	}
	r.mu.Unlock()

	for _, h := range expired {
		r.logger.Info("sweeping expired connection",
			"identity", h.Identity(),
			"handle_id", h.ID,
			"age", now.Sub(h.CreatedAt()).Round(time.Second))
		r.Release(h)
	}
	return expired
}
