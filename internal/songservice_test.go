package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/tipqueue/internal/models"
)

func TestSongService_Create(t *testing.T) {
	f := setup(t)
	song, err := f.songs.Create(f.ctx, &models.Song{
		PerformerID:  "perf-1",
		Name:         " Hallelujah ",
		Language:     "EN-us",
		IsActive:     true,
		IsAvailable:  true,
		Restrictions: &models.Restrictions{},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, song.ID)
	assert.Equal(t, "Hallelujah", song.Name)
	assert.Equal(t, "en-US", song.Language)
	assert.Nil(t, song.Restrictions, "empty restrictions are dropped")
}

func TestSongService_CreateValidation(t *testing.T) {
	f := setup(t)
	_, err := f.songs.Create(f.ctx, &models.Song{PerformerID: "perf-1"})
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	_, err = f.songs.Create(f.ctx, &models.Song{Name: "Creep"})
	assert.True(t, IsErrorCode(err, ErrCodeRequiredFieldMissing))

	_, err = f.songs.Create(f.ctx, &models.Song{PerformerID: "perf-1", Name: "Creep", Language: "not a language!"})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = f.songs.Create(f.ctx, &models.Song{
		PerformerID:  "perf-1",
		Name:         "Creep",
		Restrictions: &models.Restrictions{TimeSlots: []models.TimeSlot{{Start: "9:00", End: "10:00"}}},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	_, err = f.songs.Create(f.ctx, &models.Song{
		PerformerID:  "perf-1",
		Name:         "Creep",
		Restrictions: &models.Restrictions{DaysOfWeek: []int{7}},
	})
	assert.True(t, IsErrorCode(err, ErrCodeValidation))
}

func TestSongService_UpdateKeepsOwner(t *testing.T) {
	f := setup(t)
	song := f.song(t, "perf-1", "Zombie", nil)

	updated, err := f.songs.Update(f.ctx, &models.Song{
		ID:          song.ID,
		PerformerID: "perf-2",
		Name:        "Zombie (acoustic)",
		IsActive:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "perf-1", updated.PerformerID)
	assert.False(t, updated.IsAvailable)

	loaded, err := f.songs.Get(f.ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, "Zombie (acoustic)", loaded.Name)

	_, err = f.songs.Update(f.ctx, &models.Song{ID: "missing", Name: "x"})
	assert.True(t, IsErrorCode(err, ErrCodeSongNotFound))
}

func TestSongService_List(t *testing.T) {
	f := setup(t)
	f.song(t, "perf-1", "Zombie", nil)
	f.song(t, "perf-1", "Creep", nil)

	songs, total, err := f.songs.List(f.ctx, "perf-1", &Search{Search: "zom"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, songs, 1)
	assert.Equal(t, "Zombie", songs[0].Name)
}
