// Package admission enforces the per-user request cap of a show.
//
// A caller first reserves a slot for a (show, requester) pair. The reservation is a capability that has to be
// either consumed (the request has been stored and now owns the slot) or released (storing failed). Backends keep
// no counters of stored requests: every decision counts the live non-terminal requests through a Counter and adds
// the reservations that are not settled yet. Terminal transitions therefore free a slot without any bookkeeping.
package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/context"
)

var (
	// ErrDenied is returned by TryReserve when the requester already holds the maximum number of slots
	ErrDenied = fmt.Errorf("admission denied: request cap reached")
	// ErrReservationSettled is returned when a reservation is consumed after it has been released or vice versa
	ErrReservationSettled = fmt.Errorf("reservation has already been settled")
)

// Key identifies the counter of one requester at one show
type Key struct {
	ShowID      string
	RequesterID string
}

func (k Key) String() string {
	return k.ShowID + ":" + k.RequesterID
}

// Counter returns the live number of non-terminal requests for a key from the system of record
type Counter interface {
	CountActive(ctx context.Context, showID, requesterID string) (uint, error)
}

// CounterFunc adapts a plain function to the Counter interface
type CounterFunc func(ctx context.Context, showID, requesterID string) (uint, error)

// CountActive implements Counter
func (f CounterFunc) CountActive(ctx context.Context, showID, requesterID string) (uint, error) {
	return f(ctx, showID, requesterID)
}

// Controller decides atomically whether another request may be admitted
type Controller interface {
	// TryReserve admits the caller if the stored non-terminal requests of the key plus the reservations not yet
	// settled stay below limit. It returns ErrDenied otherwise. A context that is done before the decision has been
	// made results in an error, never in a reservation.
	TryReserve(ctx context.Context, key Key, limit uint) (*Reservation, error)
}

// Timeout for settling a reservation. Settling runs detached from the caller's context so that a cancelled call
// cannot leave a reservation behind.
const settleTimeout = 5 * time.Second

type reservationState int

const (
	stateHeld reservationState = iota
	stateConsumed
	stateReleased
)

// Reservation is a granted admission slot that has not been settled yet
type Reservation struct {
	Key Key
	// Token identifies this reservation
	Token string
	// Held is the number of slots held for the key including this one
	Held uint
	// Limit is the cap the reservation was checked against
	Limit uint

	onConsume func(ctx context.Context) error
	onRelease func(ctx context.Context) error
	mu        sync.Mutex
	state     reservationState
}

func newReservation(key Key, token string, held, limit uint, onConsume, onRelease func(ctx context.Context) error) *Reservation {
	return &Reservation{
		Key:       key,
		Token:     token,
		Held:      held,
		Limit:     limit,
		onConsume: onConsume,
		onRelease: onRelease,
	}
}

func (r *Reservation) finish(target reservationState, settle func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case target:
		return nil
	case stateConsumed, stateReleased:
		return ErrReservationSettled
	}
	// The slot is settled even if the backend call fails; backends bound unsettled reservations on their own
	r.state = target
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	return settle(ctx)
}

// Consume hands the slot over to the stored request. It must be called after the request has been stored: from
// then on, the stored request counts against the cap and the reservation no longer does.
func (r *Reservation) Consume() error {
	return r.finish(stateConsumed, r.onConsume)
}

// Release gives the slot back because the request could not be stored. Releasing twice is a no-op.
func (r *Reservation) Release() error {
	return r.finish(stateReleased, r.onRelease)
}

func newToken() string {
	return uuid.New().String()
}
