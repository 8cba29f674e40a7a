// Package sqlite provides a show repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

const (
	showFields = `performerId, name, venue, scheduledAt, maxRequestsPerUser, requireTip, suggestedTip, status, createdAt, updatedAt`
)

// Flat database representation of a show
type showRow struct {
	ID                 string          `db:"id"`
	PerformerID        string          `db:"performerId"`
	Name               string          `db:"name"`
	Venue              string          `db:"venue"`
	ScheduledAt        time.Time       `db:"scheduledAt"`
	MaxRequestsPerUser uint            `db:"maxRequestsPerUser"`
	RequireTip         bool            `db:"requireTip"`
	SuggestedTip       decimal.Decimal `db:"suggestedTip"`
	Status             string          `db:"status"`
	CreatedAt          time.Time       `db:"createdAt"`
	UpdatedAt          time.Time       `db:"updatedAt"`
}

func (r *showRow) toModel() models.Show {
	return models.Show{
		ID:          r.ID,
		PerformerID: r.PerformerID,
		Name:        r.Name,
		Venue:       r.Venue,
		ScheduledAt: r.ScheduledAt,
		Settings: models.ShowSettings{
			MaxRequestsPerUser: r.MaxRequestsPerUser,
			RequireTip:         r.RequireTip,
			SuggestedTip:       r.SuggestedTip,
		},
		Status:    models.ShowStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ShowRepo is a repository that stores its data inside a SQLite database
type ShowRepo struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// New creates a new show repository instance with the given database and logger
func New(db *sqlx.DB, logger *logrus.Entry) *ShowRepo {
	return &ShowRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new show
func (r *ShowRepo) Create(ctx context.Context, s *models.Show) error {
	r.logger.WithFields(logrus.Fields{log.FldID: s.ID, log.FldPerformer: s.PerformerID}).Debug("Adding new show")
	now := time.Now().UTC()
	query := fmt.Sprintf("INSERT INTO Shows(id, %s) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", showFields)
	_, err := r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.PerformerID,
		s.Name,
		s.Venue,
		s.ScheduledAt.UTC(),
		s.Settings.MaxRequestsPerUser,
		s.Settings.RequireTip,
		s.Settings.SuggestedTip.String(),
		string(s.Status),
		now,
		now,
	)
	if err != nil {
		return repos.MapInsertError(err)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// Update updates name, venue, date, settings and status of an existing show
func (r *ShowRepo) Update(ctx context.Context, s *models.Show) error {
	r.logger.WithField(log.FldID, s.ID).Debug("Updating show")
	now := time.Now().UTC()
	query := `UPDATE Shows SET name = ?, venue = ?, scheduledAt = ?, maxRequestsPerUser = ?, requireTip = ?,
        suggestedTip = ?, status = ?, updatedAt = ? WHERE id = ?`
	res, err := r.db.ExecContext(
		ctx,
		query,
		s.Name,
		s.Venue,
		s.ScheduledAt.UTC(),
		s.Settings.MaxRequestsPerUser,
		s.Settings.RequireTip,
		s.Settings.SuggestedTip.String(),
		string(s.Status),
		now,
		s.ID,
	)
	if err != nil {
		return err
	}
	var num int64
	if num, err = res.RowsAffected(); err == nil {
		if num == 0 {
			return repos.ErrEntityNotExisting
		}
		s.UpdatedAt = now
	}
	return err
}

// GetByID returns the show with the given ID
func (r *ShowRepo) GetByID(ctx context.Context, id string) (*models.Show, error) {
	r.logger.WithField(log.FldID, id).Debug("Loading show")
	query := fmt.Sprintf("SELECT id, %s FROM Shows WHERE id = ?", showFields)
	var row showRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	s := row.toModel()
	return &s, nil
}

// FindByPerformer lists the shows of a performer ordered by date - supports pagination
func (r *ShowRepo) FindByPerformer(
	ctx context.Context,
	performerID string,
	offset uint,
	limit uint,
) ([]models.Show, uint, error) {
	if limit == 0 {
		limit = 50
	}
	r.logger.WithFields(logrus.Fields{
		log.FldPerformer: performerID,
		log.FldOffset:    offset,
		log.FldLimit:     limit,
	}).Debug("Listing shows")
	query := fmt.Sprintf(`SELECT id, %s FROM Shows WHERE performerId = $1
        ORDER BY scheduledAt DESC, id LIMIT $2 OFFSET $3`, showFields)
	var rows []showRow
	if err := r.db.SelectContext(ctx, &rows, query, performerID, limit, offset); err != nil {
		return nil, 0, err
	}
	ret := make([]models.Show, 0, len(rows))
	for i := range rows {
		ret = append(ret, rows[i].toModel())
	}
	// Query the full count
	var numRows uint
	if err := r.db.GetContext(ctx, &numRows, `SELECT COUNT(*) FROM Shows WHERE performerId = $1`, performerID); err != nil {
		return nil, 0, err
	}
	return ret, numRows, nil
}
