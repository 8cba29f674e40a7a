package internal

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"golang.org/x/text/language"

	"github.com/derWhity/tipqueue/internal/availability"
	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

// SongService provides service functions for working with the song catalogs of performers
type SongService interface {
	Create(ctx context.Context, song *models.Song) (*models.Song, error)
	Get(ctx context.Context, id string) (*models.Song, error)
	Update(ctx context.Context, song *models.Song) (*models.Song, error)
	List(ctx context.Context, performerID string, search *Search) ([]models.Song, uint, error)
}

// -- SongService implementation ---------------------------------------------------------------------------------------

type songService struct {
	repo   repos.SongRepo
	logger *logrus.Entry
}

// NewSongService creates a new SongService instance
func NewSongService(repo repos.SongRepo, logger *logrus.Entry) SongService {
	return &songService{repo, logger}
}

// Normalizes and checks the catalog data of a song
func validateSong(song *models.Song) error {
	song.Name = strings.TrimSpace(song.Name)
	song.Artist = strings.TrimSpace(song.Artist)
	if song.Name == "" {
		return MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Song name missing",
			map[string]string{"field": "name"},
		)
	}
	if song.Language != "" {
		tag, err := language.Parse(song.Language)
		if err != nil {
			return validationError("Unknown language", map[string]string{"field": "language"})
		}
		song.Language = tag.String()
	}
	if err := availability.ValidateRestrictions(song.Restrictions); err != nil {
		return validationError(err.Error(), map[string]string{"field": "restrictions"})
	}
	// An empty restriction set behaves like none at all
	if r := song.Restrictions; r != nil && len(r.DaysOfWeek) == 0 && len(r.TimeSlots) == 0 {
		song.Restrictions = nil
	}
	return nil
}

// Create adds a song to a performer's catalog
func (s *songService) Create(ctx context.Context, song *models.Song) (*models.Song, error) {
	if strings.TrimSpace(song.PerformerID) == "" {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Performer missing",
			map[string]string{"field": "performer"},
		)
	}
	if err := validateSong(song); err != nil {
		return nil, err
	}
	song.ID = uuid.New().String()
	if err := s.repo.Create(ctx, song); err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while creating song",
			err,
		)
	}
	s.logger.WithFields(logrus.Fields{
		log.FldSong:      song.ID,
		log.FldPerformer: song.PerformerID,
	}).Debug("Song added to catalog")
	return song, nil
}

// Get returns the song with the given ID
func (s *songService) Get(ctx context.Context, id string) (*models.Song, error) {
	song, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, songNotFound(id)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while retrieving song %s", id),
			err,
		)
	}
	return song, nil
}

// Update changes the catalog data of a song. Owner and creation date stay untouched.
func (s *songService) Update(ctx context.Context, song *models.Song) (*models.Song, error) {
	original, err := s.Get(ctx, song.ID)
	if err != nil {
		return nil, err
	}
	song.PerformerID = original.PerformerID
	song.CreatedAt = original.CreatedAt
	if err := validateSong(song); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, song); err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while updating song %s", song.ID),
			err,
		)
	}
	return song, nil
}

// List searches the catalog of a performer
func (s *songService) List(ctx context.Context, performerID string, search *Search) ([]models.Song, uint, error) {
	songs, numRows, err := s.repo.FindByPerformer(ctx, performerID, search.Search, search.Offset, search.Limit)
	if err != nil {
		return nil, 0, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while searching songs",
			err,
		)
	}
	return songs, numRows, nil
}
