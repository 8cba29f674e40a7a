package internal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/tipqueue/internal/models"
)

func TestShowService_CreateAppliesDefaults(t *testing.T) {
	f := setup(t)
	show, err := f.shows.Create(f.ctx, &models.Show{
		PerformerID: "perf-1",
		Name:        "  Open Mic  ",
		ScheduledAt: showTime,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, show.ID)
	assert.Equal(t, "Open Mic", show.Name)
	assert.Equal(t, models.ShowScheduled, show.Status)
	assert.EqualValues(t, 3, show.Settings.MaxRequestsPerUser)
	assert.True(t, decimal.NewFromInt(5).Equal(show.Settings.SuggestedTip))
}

func TestShowService_CreateValidation(t *testing.T) {
	f := setup(t)
	_, err := f.shows.Create(f.ctx, &models.Show{PerformerID: "perf-1", ScheduledAt: showTime})
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	_, err = f.shows.Create(f.ctx, &models.Show{PerformerID: "perf-1", Name: "Gig"})
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	_, err = f.shows.Create(f.ctx, &models.Show{Name: "Gig", ScheduledAt: showTime})
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	_, err = f.shows.Create(f.ctx, &models.Show{
		PerformerID: "perf-1",
		Name:        "Gig",
		ScheduledAt: showTime,
		Settings:    models.ShowSettings{MaxRequestsPerUser: 1, SuggestedTip: decimal.NewFromInt(-1)},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
}

func TestShowService_StatusTransitions(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 2, false)

	_, err := f.shows.SetStatus(f.ctx, show.ID, models.ShowCompleted)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition), "a show has to be active before it completes")

	updated, err := f.shows.SetStatus(f.ctx, show.ID, models.ShowActive)
	require.NoError(t, err)
	assert.Equal(t, models.ShowActive, updated.Status)

	_, err = f.shows.SetStatus(f.ctx, show.ID, models.ShowActive)
	assert.NoError(t, err)

	_, err = f.shows.SetStatus(f.ctx, show.ID, models.ShowCompleted)
	require.NoError(t, err)

	_, err = f.shows.SetStatus(f.ctx, show.ID, models.ShowStatus("paused"))
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
	_, err = f.shows.SetStatus(f.ctx, "missing", models.ShowActive)
	assert.True(t, IsErrorCode(err, ErrCodeShowNotFound))
}

func TestShowService_UpdateCompletedShowFails(t *testing.T) {
	f := setup(t)
	show := f.show(t, "perf-1", 2, false)

	show.Name = "Renamed"
	show.Settings.MaxRequestsPerUser = 5
	updated, err := f.shows.Update(f.ctx, show)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	show.Settings.MaxRequestsPerUser = 0
	_, err = f.shows.Update(f.ctx, show)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = f.shows.SetStatus(f.ctx, show.ID, models.ShowActive)
	require.NoError(t, err)
	_, err = f.shows.SetStatus(f.ctx, show.ID, models.ShowCompleted)
	require.NoError(t, err)

	show.Settings.MaxRequestsPerUser = 5
	_, err = f.shows.Update(f.ctx, show)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidTransition))
}

func TestShowService_ListByPerformer(t *testing.T) {
	f := setup(t)
	f.show(t, "perf-1", 1, false)
	f.show(t, "perf-1", 1, false)
	f.show(t, "perf-2", 1, false)

	shows, total, err := f.shows.ListByPerformer(f.ctx, "perf-1", Pagination{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, shows, 1)
}
