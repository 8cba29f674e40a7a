package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func fixedCounter(n uint, calls *int32) Counter {
	return CounterFunc(func(ctx context.Context, showID, requesterID string) (uint, error) {
		atomic.AddInt32(calls, 1)
		return n, nil
	})
}

// Stands in for the request storage: the number of non-terminal requests of every key
type activeStore struct {
	mu     sync.Mutex
	active map[Key]uint
}

func newActiveStore() *activeStore {
	return &activeStore{active: make(map[Key]uint)}
}

func (s *activeStore) CountActive(ctx context.Context, showID, requesterID string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[Key{ShowID: showID, RequesterID: requesterID}], nil
}

func (s *activeStore) add(key Key, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[key] = uint(int(s.active[key]) + delta)
}

func TestMemoryController_ConcurrentReservationsRespectLimit(t *testing.T) {
	store := newActiveStore()
	ctrl := NewMemoryController(store)
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	const attempts = 64
	const limit = 3

	var mu sync.Mutex
	var held []*Reservation
	var denied int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := ctrl.TryReserve(context.Background(), key, limit)
			switch {
			case err == nil:
				mu.Lock()
				held = append(held, res)
				mu.Unlock()
			case err == ErrDenied:
				atomic.AddInt32(&denied, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, held, limit)
	assert.EqualValues(t, attempts-limit, denied)
	assert.EqualValues(t, limit, ctrl.pending(key))

	// Storing the admitted requests hands their slots over to storage
	for _, res := range held {
		store.add(key, 1)
		require.NoError(t, res.Consume())
	}
	assert.EqualValues(t, 0, ctrl.pending(key))
	_, err := ctrl.TryReserve(context.Background(), key, limit)
	assert.Equal(t, ErrDenied, err)
}

func TestMemoryController_CountsStoredRequestsOnEveryDecision(t *testing.T) {
	var calls int32
	ctrl := NewMemoryController(fixedCounter(2, &calls))
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}

	res, err := ctrl.TryReserve(context.Background(), key, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Held)

	_, err = ctrl.TryReserve(context.Background(), key, 3)
	assert.Equal(t, ErrDenied, err)
	assert.EqualValues(t, 2, calls)
}

func TestMemoryController_TerminalRequestFreesSlot(t *testing.T) {
	store := newActiveStore()
	ctrl := NewMemoryController(store)
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	ctx := context.Background()

	res, err := ctrl.TryReserve(ctx, key, 1)
	require.NoError(t, err)
	store.add(key, 1)
	require.NoError(t, res.Consume())

	_, err = ctrl.TryReserve(ctx, key, 1)
	assert.Equal(t, ErrDenied, err)

	// The stored request reaches a terminal status
	store.add(key, -1)
	_, err = ctrl.TryReserve(ctx, key, 1)
	assert.NoError(t, err)
}

// A controller created after a terminal transition must not free the slot a second time
func TestMemoryController_FreshControllerAfterTerminalTransition(t *testing.T) {
	store := newActiveStore()
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	ctx := context.Background()

	res, err := NewMemoryController(store).TryReserve(ctx, key, 1)
	require.NoError(t, err)
	store.add(key, 1)
	require.NoError(t, res.Consume())
	store.add(key, -1)

	ctrl := NewMemoryController(store)
	res, err = ctrl.TryReserve(ctx, key, 1)
	require.NoError(t, err)
	store.add(key, 1)
	require.NoError(t, res.Consume())

	_, err = ctrl.TryReserve(ctx, key, 1)
	assert.Equal(t, ErrDenied, err)
	active, _ := store.CountActive(ctx, key.ShowID, key.RequesterID)
	assert.EqualValues(t, 1, active)
}

// Between storing a request and consuming its reservation both are visible; the overlap must deny, never admit
func TestMemoryController_StoredButNotConsumed(t *testing.T) {
	store := newActiveStore()
	ctrl := NewMemoryController(store)
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	ctx := context.Background()

	res, err := ctrl.TryReserve(ctx, key, 2)
	require.NoError(t, err)
	store.add(key, 1)

	_, err = ctrl.TryReserve(ctx, key, 2)
	assert.Equal(t, ErrDenied, err)

	require.NoError(t, res.Consume())
	_, err = ctrl.TryReserve(ctx, key, 2)
	assert.NoError(t, err)
}

func TestMemoryController_KeysAreIndependent(t *testing.T) {
	var calls int32
	ctrl := NewMemoryController(fixedCounter(0, &calls))
	ctx := context.Background()

	_, err := ctrl.TryReserve(ctx, Key{ShowID: "show-1", RequesterID: "fan-1"}, 1)
	require.NoError(t, err)
	_, err = ctrl.TryReserve(ctx, Key{ShowID: "show-1", RequesterID: "fan-2"}, 1)
	assert.NoError(t, err)
	_, err = ctrl.TryReserve(ctx, Key{ShowID: "show-2", RequesterID: "fan-1"}, 1)
	assert.NoError(t, err)
}

func TestMemoryController_CancelledContextIsNoAdmission(t *testing.T) {
	var calls int32
	ctrl := NewMemoryController(fixedCounter(0, &calls))
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ctrl.TryReserve(ctx, key, 1)
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.NotEqual(t, ErrDenied, err)
	assert.EqualValues(t, 0, ctrl.pending(key))
}

func TestMemoryController_CounterFailure(t *testing.T) {
	ctrl := NewMemoryController(CounterFunc(func(ctx context.Context, showID, requesterID string) (uint, error) {
		return 0, errors.New("storage down")
	}))
	key := Key{ShowID: "s", RequesterID: "r"}
	_, err := ctrl.TryReserve(context.Background(), key, 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage down")
	assert.EqualValues(t, 0, ctrl.pending(key))
}

func TestReservation_ReleaseIsCompensating(t *testing.T) {
	var calls int32
	ctrl := NewMemoryController(fixedCounter(0, &calls))
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}
	ctx := context.Background()

	res, err := ctrl.TryReserve(ctx, key, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ctrl.pending(key))
	require.NoError(t, res.Release())
	// Releasing twice must not free a second slot
	require.NoError(t, res.Release())
	assert.EqualValues(t, 0, ctrl.pending(key))

	assert.Equal(t, ErrReservationSettled, res.Consume())

	_, err = ctrl.TryReserve(ctx, key, 1)
	assert.NoError(t, err)
}

func TestReservation_ConsumedCannotBeReleased(t *testing.T) {
	var calls int32
	ctrl := NewMemoryController(fixedCounter(0, &calls))
	key := Key{ShowID: "show-1", RequesterID: "fan-1"}

	first, err := ctrl.TryReserve(context.Background(), key, 2)
	require.NoError(t, err)
	second, err := ctrl.TryReserve(context.Background(), key, 2)
	require.NoError(t, err)

	require.NoError(t, first.Consume())
	assert.Equal(t, ErrReservationSettled, first.Release())
	assert.EqualValues(t, 1, ctrl.pending(key), "the second reservation is still unsettled")
	require.NoError(t, second.Release())
	assert.EqualValues(t, 0, ctrl.pending(key))
}
