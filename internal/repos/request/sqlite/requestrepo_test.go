package sqlite

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/database"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

func setupRepo(t *testing.T) *RequestRepo {
	logger := logrus.NewEntry(logrus.New())
	db, err := database.OpenMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger)
}

func makeRequest(id, requester string, at time.Time) *models.Request {
	return &models.Request{
		ID:          id,
		ShowID:      "show-1",
		RequesterID: requester,
		SongID:      "song-1",
		Status:      models.StatusPending,
		RequestedAt: at,
		Payment: models.Payment{
			Amount: decimal.RequireFromString("5.00"),
			Status: models.PaymentPending,
		},
		Notifications: []models.Notification{
			{Type: models.NotificationStatusUpdate, Message: "Your request has been received"},
		},
	}
}

func TestRequestRepo_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC)
	req := makeRequest("req-1", "fan-1", at)
	require.NoError(t, repo.Create(ctx, req, 0))
	assert.NotZero(t, req.Notifications[0].ID)

	loaded, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loaded.Status)
	assert.True(t, at.Equal(loaded.RequestedAt))
	assert.Nil(t, loaded.CompletedAt)
	assert.Nil(t, loaded.ScheduledTime)
	assert.True(t, decimal.NewFromInt(5).Equal(loaded.Payment.Amount))
	require.Len(t, loaded.Notifications, 1)
	assert.Equal(t, models.NotificationStatusUpdate, loaded.Notifications[0].Type)
	assert.Equal(t, models.DeliveryPending, loaded.Notifications[0].Status)

	assert.Equal(t, repos.ErrConflict, repo.Create(ctx, makeRequest("req-1", "fan-1", at), 0))
	_, err = repo.GetByID(ctx, "req-2")
	assert.Equal(t, repos.ErrEntityNotExisting, err)
}

func TestRequestRepo_CreateRespectsCap(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 1))
	assert.Equal(t, repos.ErrCapReached, repo.Create(ctx, makeRequest("req-2", "fan-1", time.Now()), 1))
	// Other requesters are not affected
	require.NoError(t, repo.Create(ctx, makeRequest("req-3", "fan-2", time.Now()), 1))

	_, err := repo.GetByID(ctx, "req-2")
	assert.Equal(t, repos.ErrEntityNotExisting, err)

	// A terminal request frees the slot
	now := time.Now()
	_, err = repo.UpdateStatus(ctx, "req-1", models.StatusPending, models.StatusRejected, repos.RequestPatch{CompletedAt: &now})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, makeRequest("req-2", "fan-1", time.Now()), 1))

	active, err := repo.CountActive(ctx, "show-1", "fan-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, active)
}

func TestRequestRepo_FindAndCount(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, makeRequest("b", "fan-1", base.Add(time.Minute)), 0))
	require.NoError(t, repo.Create(ctx, makeRequest("a", "fan-1", base), 0))
	require.NoError(t, repo.Create(ctx, makeRequest("c", "fan-2", base.Add(2*time.Minute)), 0))

	now := time.Now()
	_, err := repo.UpdateStatus(ctx, "b", models.StatusPending, models.StatusRejected, repos.RequestPatch{CompletedAt: &now})
	require.NoError(t, err)

	n, err := repo.CountActive(ctx, "show-1", "fan-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mine, err := repo.FindByShowAndRequester(ctx, "show-1", "fan-1", nil)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].ID)
	assert.Equal(t, "b", mine[1].ID)

	active, err := repo.FindByShow(ctx, "show-1", models.ActiveStatuses)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
	assert.Len(t, active[1].Notifications, 1)
}

func TestRequestRepo_UpdateStatus(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 0))

	scheduled := time.Date(2026, 3, 6, 22, 15, 0, 0, time.UTC)
	updated, err := repo.UpdateStatus(ctx, "req-1", models.StatusPending, models.StatusApproved, repos.RequestPatch{
		ScheduledTime: &scheduled,
		Notification:  &models.Notification{Type: models.NotificationStatusUpdate, Message: "approved"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	require.NotNil(t, updated.ScheduledTime)
	assert.True(t, scheduled.Equal(*updated.ScheduledTime))
	assert.Len(t, updated.Notifications, 2)

	// A second writer still expecting "pending" loses
	_, err = repo.UpdateStatus(ctx, "req-1", models.StatusPending, models.StatusRejected, repos.RequestPatch{})
	assert.Equal(t, repos.ErrConcurrencyConflict, err)

	_, err = repo.UpdateStatus(ctx, "missing", models.StatusPending, models.StatusApproved, repos.RequestPatch{})
	assert.Equal(t, repos.ErrEntityNotExisting, err)

	reloaded, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, reloaded.Notifications, 2, "a failed update must not leave a notification behind")
}

func TestRequestRepo_UpdateStatusRefund(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 0))

	now := time.Now()
	updated, err := repo.UpdateStatus(ctx, "req-1", models.StatusPending, models.StatusCancelled, repos.RequestPatch{
		CompletedAt: &now,
		Payment: &models.Payment{
			Amount:              decimal.NewFromInt(5),
			Status:              models.PaymentRefunded,
			RefundTransactionID: "refund-1",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)
	assert.Equal(t, models.PaymentRefunded, updated.Payment.Status)
	assert.Equal(t, "refund-1", updated.Payment.RefundTransactionID)
	assert.NotNil(t, updated.CompletedAt)
}

func TestRequestRepo_UpdateStatusRejectsBrokenInvariants(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 0))

	// Terminal without completion date
	_, err := repo.UpdateStatus(ctx, "req-1", models.StatusPending, models.StatusCompleted, repos.RequestPatch{})
	assert.Error(t, err)

	loaded, err := repo.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loaded.Status)
}

func TestRequestRepo_ConcurrentUpdatesHaveOneWinner(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, next := range []models.RequestStatus{models.StatusApproved, models.StatusRejected, models.StatusCancelled} {
		wg.Add(1)
		go func(next models.RequestStatus) {
			defer wg.Done()
			patch := repos.RequestPatch{}
			if next.Terminal() {
				now := time.Now()
				patch.CompletedAt = &now
			}
			if _, err := repo.UpdateStatus(ctx, "req-1", models.StatusPending, next, patch); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.Equal(t, repos.ErrConcurrencyConflict, err)
			}
		}(next)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRequestRepo_Notifications(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, makeRequest("req-1", "fan-1", time.Now()), 0))
	require.NoError(t, repo.Create(ctx, makeRequest("req-2", "fan-2", time.Now()), 0))

	pending, err := repo.PendingNotifications(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "req-1", pending[0].RequestID)
	assert.EqualValues(t, 0, pending[0].Attempts)

	none, err := repo.PendingNotifications(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.MarkNotification(ctx, pending[0].ID, models.DeliverySent))
	require.NoError(t, repo.MarkNotification(ctx, pending[1].ID, models.DeliveryPending))

	pending, err = repo.PendingNotifications(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "req-2", pending[0].RequestID)
	assert.EqualValues(t, 1, pending[0].Attempts)

	assert.Equal(t, repos.ErrEntityNotExisting, repo.MarkNotification(ctx, 9999, models.DeliverySent))
}
