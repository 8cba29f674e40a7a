package admission

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// Reservations of one key that have not been settled yet. Counting and reserving happen inside one critical
// section per key.
type slot struct {
	sync.Mutex
	inFlight uint
}

// MemoryController keeps the unsettled reservations inside the process. It is only correct as long as all
// requests of a show are funneled through this process.
type MemoryController struct {
	counter Counter
	mu      sync.Mutex
	slots   map[Key]*slot
}

// NewMemoryController creates a new in-process admission controller counting stored requests through the given
// counter
func NewMemoryController(counter Counter) *MemoryController {
	return &MemoryController{
		counter: counter,
		slots:   make(map[Key]*slot),
	}
}

func (c *MemoryController) slotFor(key Key) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

// TryReserve implements Controller
func (c *MemoryController) TryReserve(ctx context.Context, key Key, limit uint) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "TryReserve: context done before reservation")
	}
	s := c.slotFor(key)
	s.Lock()
	defer s.Unlock()
	stored, err := c.counter.CountActive(ctx, key.ShowID, key.RequesterID)
	if err != nil {
		return nil, errors.Wrap(err, "TryReserve: failed to count active requests")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "TryReserve: context done before reservation")
	}
	if stored+s.inFlight >= limit {
		return nil, ErrDenied
	}
	s.inFlight++
	settle := func(context.Context) error {
		s.Lock()
		defer s.Unlock()
		if s.inFlight > 0 {
			s.inFlight--
		}
		return nil
	}
	return newReservation(key, newToken(), stored+s.inFlight, limit, settle, settle), nil
}

// Returns the number of reservations of the key that have not been settled yet
func (c *MemoryController) pending(key Key) uint {
	s := c.slotFor(key)
	s.Lock()
	defer s.Unlock()
	return s.inFlight
}
