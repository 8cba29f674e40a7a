package internal

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

// ShowService provides service functions for working with shows
type ShowService interface {
	Create(ctx context.Context, show *models.Show) (*models.Show, error)
	Get(ctx context.Context, id string) (*models.Show, error)
	ListByPerformer(ctx context.Context, performerID string, page Pagination) ([]models.Show, uint, error)
	Update(ctx context.Context, show *models.Show) (*models.Show, error)
	SetStatus(ctx context.Context, id string, status models.ShowStatus) (*models.Show, error)
}

// -- ShowService implementation ---------------------------------------------------------------------------------------

type showService struct {
	repo   repos.ShowRepo
	config ConfigService
	logger *logrus.Entry
}

// NewShowService creates a new ShowService instance
func NewShowService(repo repos.ShowRepo, cs ConfigService, logger *logrus.Entry) ShowService {
	return &showService{repo, cs, logger}
}

func validateShowSettings(settings *models.ShowSettings) error {
	if settings.MaxRequestsPerUser < 1 {
		return validationError(
			"maxRequestsPerUser must be at least 1",
			map[string]string{"field": "settings.maxRequestsPerUser"},
		)
	}
	if settings.SuggestedTip.IsNegative() {
		return validationError(
			"The suggested tip must not be negative",
			map[string]string{"field": "settings.suggestedTip"},
		)
	}
	return nil
}

func validateShow(show *models.Show) error {
	show.Name = strings.TrimSpace(show.Name)
	show.Venue = strings.TrimSpace(show.Venue)
	if show.Name == "" {
		return MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Show name missing",
			map[string]string{"field": "name"},
		)
	}
	if show.ScheduledAt.IsZero() {
		return MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Show date missing",
			map[string]string{"field": "dateTime"},
		)
	}
	return validateShowSettings(&show.Settings)
}

// Create creates a new show in "scheduled" state. Missing settings are taken from the configured defaults.
func (s *showService) Create(ctx context.Context, show *models.Show) (*models.Show, error) {
	if strings.TrimSpace(show.PerformerID) == "" {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Performer missing",
			map[string]string{"field": "performer"},
		)
	}
	if show.Settings.MaxRequestsPerUser == 0 {
		defaults := s.config.GetConfig(ctx).DefaultShowSettings
		show.Settings.MaxRequestsPerUser = defaults.MaxRequestsPerUser
		if show.Settings.SuggestedTip.IsZero() {
			show.Settings.SuggestedTip = defaults.SuggestedTip
		}
	}
	if err := validateShow(show); err != nil {
		return nil, err
	}
	show.ID = uuid.New().String()
	show.Status = models.ShowScheduled
	if err := s.repo.Create(ctx, show); err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while creating show",
			err,
		)
	}
	s.logger.WithFields(logrus.Fields{
		log.FldShow:      show.ID,
		log.FldPerformer: show.PerformerID,
	}).Info("Show created")
	return show, nil
}

// Get returns the show with the given ID
func (s *showService) Get(ctx context.Context, id string) (*models.Show, error) {
	show, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, showNotFound(id)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while retrieving show %s", id),
			err,
		)
	}
	return show, nil
}

// ListByPerformer returns the shows of the given performer, latest first
func (s *showService) ListByPerformer(ctx context.Context, performerID string, page Pagination) ([]models.Show, uint, error) {
	shows, numRows, err := s.repo.FindByPerformer(ctx, performerID, page.Offset, page.Limit)
	if err != nil {
		return nil, 0, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while listing shows",
			err,
		)
	}
	return shows, numRows, nil
}

// Update changes the base data and settings of a show. Completed shows cannot be changed any more.
func (s *showService) Update(ctx context.Context, show *models.Show) (*models.Show, error) {
	original, err := s.Get(ctx, show.ID)
	if err != nil {
		return nil, err
	}
	if original.Status == models.ShowCompleted {
		return nil, MakeErrorWithData(
			http.StatusConflict,
			ErrCodeInvalidTransition,
			"Completed shows cannot be changed",
			map[string]string{"id": show.ID},
		)
	}
	original.Name = show.Name
	original.Venue = show.Venue
	original.ScheduledAt = show.ScheduledAt
	original.Settings = show.Settings
	if err := validateShow(original); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, original); err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while updating show %s", show.ID),
			err,
		)
	}
	return original, nil
}

// SetStatus advances the status of a show. Setting the current status again is a no-op.
func (s *showService) SetStatus(ctx context.Context, id string, status models.ShowStatus) (*models.Show, error) {
	if !status.Valid() {
		return nil, validationError("Illegal status value", map[string]string{"field": "status"})
	}
	show, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if show.Status == status {
		return show, nil
	}
	if !models.CanTransitionShow(show.Status, status) {
		return nil, MakeErrorWithData(
			http.StatusConflict,
			ErrCodeInvalidTransition,
			fmt.Sprintf("A show cannot change from '%s' to '%s'", show.Status, status),
			map[string]string{"from": string(show.Status), "to": string(status)},
		)
	}
	from := show.Status
	show.Status = status
	if err := s.repo.Update(ctx, show); err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while updating show %s", id),
			err,
		)
	}
	s.logger.WithFields(logrus.Fields{
		log.FldShow:       id,
		log.FldFromStatus: from,
		log.FldStatus:     status,
	}).Info("Show status changed")
	return show, nil
}
