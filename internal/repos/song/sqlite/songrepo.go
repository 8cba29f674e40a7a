// Package sqlite provides a song catalog repository that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

const (
	songFields = `performerId, name, artist, songKey, bpm, tags, language, isActive, isAvailable, restrictions,
        createdAt, updatedAt`
)

// Flat database representation of a song. Tags and restrictions are stored as JSON.
type songRow struct {
	ID           string    `db:"id"`
	PerformerID  string    `db:"performerId"`
	Name         string    `db:"name"`
	Artist       string    `db:"artist"`
	Key          string    `db:"songKey"`
	BPM          uint      `db:"bpm"`
	Tags         string    `db:"tags"`
	Language     string    `db:"language"`
	IsActive     bool      `db:"isActive"`
	IsAvailable  bool      `db:"isAvailable"`
	Restrictions string    `db:"restrictions"`
	CreatedAt    time.Time `db:"createdAt"`
	UpdatedAt    time.Time `db:"updatedAt"`
}

func (r *songRow) toModel() (models.Song, error) {
	s := models.Song{
		ID:          r.ID,
		PerformerID: r.PerformerID,
		Name:        r.Name,
		Artist:      r.Artist,
		Key:         r.Key,
		BPM:         r.BPM,
		Language:    r.Language,
		IsActive:    r.IsActive,
		IsAvailable: r.IsAvailable,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &s.Tags); err != nil {
			return s, errors.Wrapf(err, "song %s: malformed tags", r.ID)
		}
	}
	if r.Restrictions != "" {
		s.Restrictions = &models.Restrictions{}
		if err := json.Unmarshal([]byte(r.Restrictions), s.Restrictions); err != nil {
			return s, errors.Wrapf(err, "song %s: malformed restrictions", r.ID)
		}
	}
	return s, nil
}

// Serializes the JSON columns of a song
func encodeSong(s *models.Song) (tags string, restrictions string, err error) {
	tagList := s.Tags
	if tagList == nil {
		tagList = []string{}
	}
	raw, err := json.Marshal(tagList)
	if err != nil {
		return "", "", err
	}
	tags = string(raw)
	if s.Restrictions != nil {
		if raw, err = json.Marshal(s.Restrictions); err != nil {
			return "", "", err
		}
		restrictions = string(raw)
	}
	return tags, restrictions, nil
}

// SongRepo is a repository that stores its data inside a SQLite database
type SongRepo struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// New creates a new song repository instance with the given database and logger
func New(db *sqlx.DB, logger *logrus.Entry) *SongRepo {
	return &SongRepo{
		db:     db,
		logger: logger,
	}
}

// Create creates a new song
func (r *SongRepo) Create(ctx context.Context, s *models.Song) error {
	r.logger.WithFields(logrus.Fields{log.FldID: s.ID, log.FldPerformer: s.PerformerID}).Debug("Adding new song")
	tags, restrictions, err := encodeSong(s)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query := fmt.Sprintf("INSERT INTO Songs(id, %s) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", songFields)
	_, err = r.db.ExecContext(
		ctx,
		query,
		s.ID,
		s.PerformerID,
		s.Name,
		s.Artist,
		s.Key,
		s.BPM,
		tags,
		s.Language,
		s.IsActive,
		s.IsAvailable,
		restrictions,
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

// Update updates an existing song
func (r *SongRepo) Update(ctx context.Context, s *models.Song) error {
	r.logger.WithField(log.FldID, s.ID).Debug("Updating song")
	tags, restrictions, err := encodeSong(s)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query := `UPDATE Songs SET name = ?, artist = ?, songKey = ?, bpm = ?, tags = ?, language = ?, isActive = ?,
        isAvailable = ?, restrictions = ?, updatedAt = ? WHERE id = ?`
	res, err := r.db.ExecContext(
		ctx,
		query,
		s.Name,
		s.Artist,
		s.Key,
		s.BPM,
		tags,
		s.Language,
		s.IsActive,
		s.IsAvailable,
		restrictions,
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

// GetByID returns the song with the given ID
func (r *SongRepo) GetByID(ctx context.Context, id string) (*models.Song, error) {
	r.logger.WithField(log.FldID, id).Debug("Loading song")
	query := fmt.Sprintf("SELECT id, %s FROM Songs WHERE id = ?", songFields)
	var row songRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	s, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByPerformer searches the catalog of a performer by name and artist - supports pagination
func (r *SongRepo) FindByPerformer(
	ctx context.Context,
	performerID string,
	search string,
	offset uint,
	limit uint,
) ([]models.Song, uint, error) {
	if limit == 0 {
		limit = 50
	}
	r.logger.WithFields(logrus.Fields{
		log.FldPerformer: performerID,
		log.FldSearch:    search,
		log.FldOffset:    offset,
		log.FldLimit:     limit,
	}).Debug("Searching for songs")
	// For now, we're using a simple LIKE search
	search = "%" + search + "%"
	query := fmt.Sprintf(`SELECT id, %s FROM Songs WHERE performerId = $1 AND (name LIKE $2 OR artist LIKE $2)
        ORDER BY name, id LIMIT $3 OFFSET $4`, songFields)
	var rows []songRow
	if err := r.db.SelectContext(ctx, &rows, query, performerID, search, limit, offset); err != nil {
		return nil, 0, err
	}
	ret := make([]models.Song, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		ret = append(ret, s)
	}
	// Query the full count
	query = `SELECT COUNT(*) FROM Songs WHERE performerId = $1 AND (name LIKE $2 OR artist LIKE $2)`
	var numRows uint
	if err := r.db.GetContext(ctx, &numRows, query, performerID, search); err != nil {
		return nil, 0, err
	}
	return ret, numRows, nil
}
