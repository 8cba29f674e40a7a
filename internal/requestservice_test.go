package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/derWhity/tipqueue/internal/models"
)

func TestRequestService_Create(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 2, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)

	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.CompletedAt)
	assert.Equal(t, models.PaymentPending, req.Payment.Status)
	require.Len(t, req.Notifications, 1)
	assert.Equal(t, models.NotificationStatusUpdate, req.Notifications[0].Type)
	assert.Equal(t, 1, f.dispatcher.count())

	assert.Equal(t, 1, f.admission.reserves())
	active, err := f.requestDB.CountActive(f.ctx, show.ID, "fan-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, active)

	stored, err := f.requests.Get(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, song.ID, stored.SongID)
}

func TestRequestService_CreateValidation(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 2, true)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	foreign := f.song(t, "perf-2", "Creep", nil)

	_, err := f.submit("missing", "fan-1", song.ID, "5")
	assert.True(t, IsErrorCode(err, ErrCodeShowNotFound))

	_, err = f.submit(show.ID, "fan-1", "missing", "5")
	assert.True(t, IsErrorCode(err, ErrCodeSongNotFound))

	_, err = f.submit(show.ID, "fan-1", foreign.ID, "5")
	assert.True(t, IsErrorCode(err, ErrCodeSongNotFound), "songs of other performers cannot be requested")

	_, err = f.submit(show.ID, "fan-1", song.ID, "0")
	assert.True(t, IsErrorCode(err, ErrCodeValidation), "the show requires a tip")

	_, err = f.submit(show.ID, "fan-1", song.ID, "-1")
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = f.submit(show.ID, "", song.ID, "5")
	assert.True(t, IsErrorCode(err, ErrCodeNotIdentified))

	assert.Equal(t, 0, f.dispatcher.count())
}

func TestRequestService_CreateUnavailableSongSkipsAdmission(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 1, false)
	// Saturdays only - the show is on a Friday
	song := f.song(t, "perf-1", "Saturday Night", &models.Restrictions{DaysOfWeek: []int{6}})

	_, err := f.submit(show.ID, "fan-1", song.ID, "5")
	assert.True(t, IsErrorCode(err, ErrCodeSongUnavailable))
	assert.Equal(t, 0, f.admission.reserves(), "admission control must not be consulted for unavailable songs")

	friday := f.song(t, "perf-1", "Friday I'm in Love", &models.Restrictions{DaysOfWeek: []int{5}})
	_, err = f.submit(show.ID, "fan-1", friday.ID, "5")
	assert.NoError(t, err)
}

func TestRequestService_CreateClosedShow(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 1, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	_, err := f.shows.SetStatus(f.ctx, show.ID, models.ShowCancelled)
	require.NoError(t, err)

	_, err = f.submit(show.ID, "fan-1", song.ID, "5")
	assert.True(t, IsErrorCode(err, ErrCodeShowNotAccepting))
}

func TestRequestService_AdmissionCap(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 2, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)

	first, err := f.submit(show.ID, "fan-1", song.ID, "1")
	require.NoError(t, err)
	_, err = f.submit(show.ID, "fan-1", song.ID, "1")
	require.NoError(t, err)
	_, err = f.submit(show.ID, "fan-1", song.ID, "1")
	assert.True(t, IsErrorCode(err, ErrCodeAdmissionDenied))

	// Other fans are not affected
	_, err = f.submit(show.ID, "fan-2", song.ID, "1")
	assert.NoError(t, err)

	// A terminal request frees its slot
	_, err = f.requests.UpdateStatus(f.ctx, first.ID, models.StatusRejected, "")
	require.NoError(t, err)
	_, err = f.submit(show.ID, "fan-1", song.ID, "1")
	assert.NoError(t, err)
}

func TestRequestService_ConcurrentCreateAdmitsExactlyOne(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 1, false)
	songA := f.song(t, "perf-1", "Song A", nil)
	songB := f.song(t, "perf-1", "Song B", nil)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			songID := songA.ID
			if i%2 == 1 {
				songID = songB.ID
			}
			_, results[i] = f.submit(show.ID, "fan-1", songID, "5")
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range results {
		if err == nil {
			admitted++
		} else {
			assert.True(t, IsErrorCode(err, ErrCodeAdmissionDenied), err.Error())
		}
	}
	assert.Equal(t, 1, admitted)

	n, err := f.requestDB.CountActive(f.ctx, show.ID, "fan-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRequestService_Lifecycle(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)

	req, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, req.Status)
	assert.Nil(t, req.CompletedAt)

	req, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationComingUp, req.Notifications[len(req.Notifications)-1].Type)

	req, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusCompleted, "Thanks for listening!")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	require.NotNil(t, req.CompletedAt)
	last := req.Notifications[len(req.Notifications)-1]
	assert.Equal(t, models.NotificationCompleted, last.Type)
	assert.Equal(t, "Thanks for listening!", last.Message)
	// One notification per transition plus the initial one
	assert.Len(t, req.Notifications, 4)
	assert.Equal(t, 4, f.dispatcher.count())

	active, err := f.requestDB.CountActive(f.ctx, show.ID, "fan-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, active)
}

func TestRequestService_InvalidTransitions(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)

	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusCompleted, "")
	assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition), "pending cannot skip to completed")

	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.RequestStatus("played"), "")
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = f.requests.UpdateStatus(f.ctx, "missing", models.StatusApproved, "")
	assert.True(t, IsErrorCode(err, ErrCodeRequestNotFound))

	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusRejected, "")
	require.NoError(t, err)
	for _, to := range []models.RequestStatus{
		models.StatusPending,
		models.StatusApproved,
		models.StatusInProgress,
		models.StatusCompleted,
		models.StatusRejected,
		models.StatusCancelled,
	} {
		_, err = f.requests.UpdateStatus(f.ctx, req.ID, to, "")
		assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition), "rejected -> %s", to)
	}
}

func TestRequestService_SameStatusIsNoop(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)
	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusApproved, "")
	require.NoError(t, err)

	again, err := f.requests.UpdateStatus(f.ctx, req.ID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, again.Status)
	assert.Len(t, again.Notifications, 2)
}

func TestRequestService_CancelRefundsCompletedPayment(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)

	req, err = f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-123")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, req.Payment.Status)

	req, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, req.Status)
	assert.Equal(t, models.PaymentRefunded, req.Payment.Status)
	assert.NotNil(t, req.CompletedAt)
}

func TestRequestService_ProcessRefund(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 1, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)
	_, err = f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-123")
	require.NoError(t, err)

	refunded, err := f.requests.ProcessRefund(f.ctx, req.ID, "refund-9")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, refunded.Status)
	assert.Equal(t, models.PaymentRefunded, refunded.Payment.Status)
	assert.Equal(t, "refund-9", refunded.Payment.RefundTransactionID)
	assert.NotNil(t, refunded.CompletedAt)

	_, err = f.requests.ProcessRefund(f.ctx, req.ID, "refund-10")
	assert.True(t, IsErrorCode(err, ErrCodeRefundNotAllowed))

	// The slot is free again
	_, err = f.submit(show.ID, "fan-1", song.ID, "5")
	assert.NoError(t, err)
}

func TestRequestService_RefundInProgressNotAllowed(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 1, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)
	_, err = f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-123")
	require.NoError(t, err)
	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusApproved, "")
	require.NoError(t, err)
	_, err = f.requests.UpdateStatus(f.ctx, req.ID, models.StatusInProgress, "")
	require.NoError(t, err)

	_, err = f.requests.ProcessRefund(f.ctx, req.ID, "refund-1")
	assert.True(t, IsErrorCode(err, ErrCodeRefundNotAllowed))

	stored, err := f.requests.Get(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, models.PaymentCompleted, stored.Payment.Status)
}

func TestRequestService_ConfirmPayment(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	req, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)

	_, err = f.requests.ConfirmPayment(f.ctx, req.ID, " ")
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	confirmed, err := f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, confirmed.Status)
	assert.Equal(t, "venmo-1", confirmed.Payment.VenmoTransactionID)
	assert.Len(t, confirmed.Notifications, 1, "payments do not notify")

	_, err = f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-1")
	assert.NoError(t, err)
	_, err = f.requests.ConfirmPayment(f.ctx, req.ID, "venmo-2")
	assert.True(t, IsErrorCode(err, ErrCodePaymentMismatch))
}

func TestRequestService_ScheduleAndList(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 3, false)
	song := f.song(t, "perf-1", "Wonderwall", nil)
	a, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)
	b, err := f.submit(show.ID, "fan-1", song.ID, "5")
	require.NoError(t, err)

	at := showTime.Add(30 * time.Minute)
	scheduled, err := f.requests.Schedule(f.ctx, b.ID, at)
	require.NoError(t, err)
	require.NotNil(t, scheduled.ScheduledTime)
	assert.True(t, at.Equal(*scheduled.ScheduledTime))

	_, err = f.requests.UpdateStatus(f.ctx, a.ID, models.StatusCancelled, "")
	require.NoError(t, err)
	_, err = f.requests.Schedule(f.ctx, a.ID, at)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition))

	summary, err := f.requests.ListByRequester(f.ctx, show.ID, "fan-1")
	require.NoError(t, err)
	assert.Len(t, summary.Requests, 2)
	assert.EqualValues(t, 1, summary.Active)
	assert.EqualValues(t, 3, summary.MaxRequestsPerUser)
	assert.EqualValues(t, 2, summary.RemainingSlots)

	_, err = f.requests.ListByRequester(f.ctx, "missing", "fan-1")
	assert.True(t, IsErrorCode(err, ErrCodeShowNotFound))
}
