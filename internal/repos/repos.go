// Package repos contains the repository interfaces needed in tipqueue
// It exists to prevent circular dependencies between tipqueue and the repo implementations
package repos

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/models"
)

var (
	// ErrEntityNotExisting is fired by a repository when an entity that is loaded, updated or deleted does not exist
	ErrEntityNotExisting = fmt.Errorf("entity does not exist")
	// ErrConflict is fired when an entity is created with an ID that is already taken
	ErrConflict = fmt.Errorf("entity already exists")
	// ErrConcurrencyConflict is fired when a conditional update did not match because the entity has been changed
	// in the meantime
	ErrConcurrencyConflict = fmt.Errorf("entity has been modified concurrently")
	// ErrCapReached is fired when a request is stored for a requester that already holds the allowed number of
	// non-terminal requests
	ErrCapReached = fmt.Errorf("request cap reached")
)

// ShowRepo defines a repository that handles storing and querying shows
type ShowRepo interface {
	// Create creates a new show
	Create(ctx context.Context, s *models.Show) error
	// Update updates name, venue, date, settings and status of an existing show
	Update(ctx context.Context, s *models.Show) error
	// GetByID returns the show with the given ID
	GetByID(ctx context.Context, id string) (*models.Show, error)
	// FindByPerformer lists the shows of a performer ordered by date - supports pagination
	FindByPerformer(ctx context.Context, performerID string, offset uint, limit uint) ([]models.Show, uint, error)
}

// SongRepo defines a repository that handles storing and querying a performer's song catalog
type SongRepo interface {
	// Create creates a new song
	Create(ctx context.Context, s *models.Song) error
	// Update updates an existing song
	Update(ctx context.Context, s *models.Song) error
	// GetByID returns the song with the given ID
	GetByID(ctx context.Context, id string) (*models.Song, error)
	// FindByPerformer searches the catalog of a performer by name and artist - supports pagination
	FindByPerformer(ctx context.Context, performerID string, search string, offset uint, limit uint) ([]models.Song, uint, error)
}

// RequestPatch holds the optional changes applied together with a status change
type RequestPatch struct {
	// CompletedAt is set when the request enters a terminal status
	CompletedAt *time.Time
	// Payment replaces the payment data when set
	Payment *models.Payment
	// ScheduledTime replaces the scheduled time when set
	ScheduledTime *time.Time
	// Notification is appended to the request inside the same transaction
	Notification *models.Notification
}

// RequestRepo defines a repository that stores song requests together with their notifications
type RequestRepo interface {
	// Create stores a new request and its initial notifications. A maxActive above zero makes Create fail with
	// ErrCapReached if the requester already holds that many non-terminal requests at the show.
	Create(ctx context.Context, r *models.Request, maxActive uint) error
	// GetByID returns the request with the given ID including its notifications
	GetByID(ctx context.Context, id string) (*models.Request, error)
	// FindByShowAndRequester returns the requests of one requester at a show. No statuses means all statuses.
	FindByShowAndRequester(ctx context.Context, showID, requesterID string, statuses []models.RequestStatus) ([]models.Request, error)
	// FindByShow returns the requests of a show with the given statuses in submission order
	FindByShow(ctx context.Context, showID string, statuses []models.RequestStatus) ([]models.Request, error)
	// CountActive returns the number of non-terminal requests of one requester at a show
	CountActive(ctx context.Context, showID, requesterID string) (uint, error)
	// UpdateStatus moves a request from the expected status to the next one and applies the patch atomically.
	// ErrConcurrencyConflict is returned when the stored status is not the expected one anymore.
	UpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus, patch RequestPatch) (*models.Request, error)
	// PendingNotifications returns undelivered notifications recorded before the given point in time
	PendingNotifications(ctx context.Context, olderThan time.Time, limit uint) ([]models.PendingNotification, error)
	// MarkNotification sets the delivery status of a notification and counts the delivery attempt
	MarkNotification(ctx context.Context, id uint, status models.DeliveryStatus) error
}

// -- Helpers for SQLX repos -------------------------------------------------------------------------------------------

// DoRollback rolls back a transaction and catches any error resulting from it while appending the original error
func DoRollback(tx *sqlx.Tx, originalError error) error {
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("doRollback: Transaction rollback failed: %v; Recent error: %v", err, originalError)
	}
	return originalError
}

// MapInsertError translates a unique constraint violation into ErrConflict
func MapInsertError(err error) error {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return ErrConflict
		}
	}
	return err
}
