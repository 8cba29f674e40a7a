package internal

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
	"github.com/derWhity/tipqueue/internal/showqueue"
)

// QueueService provides the performer's view on the requests of a show
type QueueService interface {
	// GetQueue returns the requests of a show in queue order. Without statuses, the active requests are returned.
	GetQueue(ctx context.Context, showID string, statuses []models.RequestStatus) ([]models.Request, error)
	// SortedQueue returns the same requests as GetQueue, re-ordered by the given criteria
	SortedQueue(ctx context.Context, showID string, statuses []models.RequestStatus, criteria showqueue.Criteria) ([]models.Request, error)
}

// -- QueueService implementation --------------------------------------------------------------------------------------

type queueService struct {
	repo   repos.RequestRepo
	shows  repos.ShowRepo
	logger *logrus.Entry
}

// NewQueueService creates a new QueueService instance
func NewQueueService(repo repos.RequestRepo, shows repos.ShowRepo, logger *logrus.Entry) QueueService {
	return &queueService{repo, shows, logger}
}

// GetQueue returns the requests of a show in queue order
func (s *queueService) GetQueue(ctx context.Context, showID string, statuses []models.RequestStatus) ([]models.Request, error) {
	if len(statuses) == 0 {
		statuses = models.ActiveStatuses
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, validationError("Illegal status value", map[string]string{"field": "status", "value": string(st)})
		}
	}
	if _, err := s.shows.GetByID(ctx, showID); err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, showNotFound(showID)
		}
		return nil, MakeErrorWithData(http.StatusInternalServerError, ErrCodeRepoError, "Error while retrieving show", err)
	}
	reqs, err := s.repo.FindByShow(ctx, showID, statuses)
	if err != nil {
		return nil, MakeErrorWithData(http.StatusInternalServerError, ErrCodeRepoError, "Error while loading queue", err)
	}
	return showqueue.Order(showqueue.Filter(reqs, statuses)), nil
}

// SortedQueue returns the same requests as GetQueue, re-ordered by the given criteria
func (s *queueService) SortedQueue(
	ctx context.Context,
	showID string,
	statuses []models.RequestStatus,
	criteria showqueue.Criteria,
) ([]models.Request, error) {
	reqs, err := s.GetQueue(ctx, showID, statuses)
	if err != nil {
		return nil, err
	}
	if criteria == "" {
		return reqs, nil
	}
	sorted, err := showqueue.Sort(reqs, criteria)
	if err != nil {
		return nil, validationError(err.Error(), map[string]string{"field": "sort", "value": string(criteria)})
	}
	return sorted, nil
}
