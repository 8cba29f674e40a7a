// Package sqlite provides a song request repository that stores requests and their notifications inside a SQLite
// database
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
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
	requestFields = `showId, requesterId, songId, status, requestedAt, scheduledTime, completedAt, paymentAmount,
        paymentStatus, venmoTransactionId, refundTransactionId, updatedAt`
	notificationFields = `requestId, type, message, sentAt, status, attempts`
)

// Flat database representation of a request
type requestRow struct {
	ID                  string          `db:"id"`
	ShowID              string          `db:"showId"`
	RequesterID         string          `db:"requesterId"`
	SongID              string          `db:"songId"`
	Status              string          `db:"status"`
	RequestedAt         time.Time       `db:"requestedAt"`
	ScheduledTime       sql.NullTime    `db:"scheduledTime"`
	CompletedAt         sql.NullTime    `db:"completedAt"`
	PaymentAmount       decimal.Decimal `db:"paymentAmount"`
	PaymentStatus       string          `db:"paymentStatus"`
	VenmoTransactionID  string          `db:"venmoTransactionId"`
	RefundTransactionID string          `db:"refundTransactionId"`
	UpdatedAt           time.Time       `db:"updatedAt"`
}

func (r *requestRow) toModel() models.Request {
	req := models.Request{
		ID:          r.ID,
		ShowID:      r.ShowID,
		RequesterID: r.RequesterID,
		SongID:      r.SongID,
		Status:      models.RequestStatus(r.Status),
		RequestedAt: r.RequestedAt,
		Payment: models.Payment{
			Amount:              r.PaymentAmount,
			Status:              models.PaymentStatus(r.PaymentStatus),
			VenmoTransactionID:  r.VenmoTransactionID,
			RefundTransactionID: r.RefundTransactionID,
		},
		Notifications: []models.Notification{},
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ScheduledTime.Valid {
		t := r.ScheduledTime.Time
		req.ScheduledTime = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		req.CompletedAt = &t
	}
	return req
}

type notificationRow struct {
	ID        uint      `db:"id"`
	RequestID string    `db:"requestId"`
	Type      string    `db:"type"`
	Message   string    `db:"message"`
	SentAt    time.Time `db:"sentAt"`
	Status    string    `db:"status"`
	Attempts  uint      `db:"attempts"`
}

func (n *notificationRow) toModel() models.Notification {
	return models.Notification{
		ID:      n.ID,
		Type:    models.NotificationType(n.Type),
		Message: n.Message,
		SentAt:  n.SentAt,
		Status:  models.DeliveryStatus(n.Status),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// RequestRepo is a repository that stores its data inside a SQLite database
type RequestRepo struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// New creates a new request repository instance with the given database and logger
func New(db *sqlx.DB, logger *logrus.Entry) *RequestRepo {
	return &RequestRepo{
		db:     db,
		logger: logger,
	}
}

// Adds a notification to the given request inside the running transaction
func insertNotification(ctx context.Context, tx *sqlx.Tx, requestID string, n *models.Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = models.DeliveryPending
	}
	query := fmt.Sprintf("INSERT INTO RequestNotifications(%s) VALUES(?, ?, ?, ?, ?, 0)", notificationFields)
	res, err := tx.ExecContext(ctx, query, requestID, string(n.Type), n.Message, n.SentAt.UTC(), string(n.Status))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint(id)
	return nil
}

// Create stores a new request and its initial notifications. With maxActive > 0 the request is only stored if the
// requester holds fewer non-terminal requests at the show than that; the check runs in the inserting transaction.
func (r *RequestRepo) Create(ctx context.Context, req *models.Request, maxActive uint) error {
	r.logger.WithFields(logrus.Fields{
		log.FldID:        req.ID,
		log.FldShow:      req.ShowID,
		log.FldRequester: req.RequesterID,
	}).Debug("Adding new request")
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	req.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if maxActive > 0 {
		active, err := countActive(ctx, tx, req.ShowID, req.RequesterID)
		if err != nil {
			return repos.DoRollback(tx, err)
		}
		if active >= maxActive {
			return repos.DoRollback(tx, repos.ErrCapReached)
		}
	}
	query := fmt.Sprintf("INSERT INTO Requests(id, %s) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", requestFields)
	_, err = tx.ExecContext(
		ctx,
		query,
		req.ID,
		req.ShowID,
		req.RequesterID,
		req.SongID,
		string(req.Status),
		req.RequestedAt.UTC(),
		nullTime(req.ScheduledTime),
		nullTime(req.CompletedAt),
		req.Payment.Amount.String(),
		string(req.Payment.Status),
		req.Payment.VenmoTransactionID,
		req.Payment.RefundTransactionID,
		req.UpdatedAt,
	)
	if err != nil {
		return repos.DoRollback(tx, repos.MapInsertError(err))
	}
	for i := range req.Notifications {
		if err = insertNotification(ctx, tx, req.ID, &req.Notifications[i]); err != nil {
			return repos.DoRollback(tx, err)
		}
	}
	return tx.Commit()
}

// GetByID returns the request with the given ID including its notifications
func (r *RequestRepo) GetByID(ctx context.Context, id string) (*models.Request, error) {
	r.logger.WithField(log.FldID, id).Debug("Loading request")
	query := fmt.Sprintf("SELECT id, %s FROM Requests WHERE id = ?", requestFields)
	var row requestRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, err
	}
	reqs, err := r.withNotifications(ctx, []requestRow{row})
	if err != nil {
		return nil, err
	}
	return &reqs[0], nil
}

// Converts the rows to requests and attaches their notifications in creation order
func (r *RequestRepo) withNotifications(ctx context.Context, rows []requestRow) ([]models.Request, error) {
	ret := make([]models.Request, 0, len(rows))
	if len(rows) == 0 {
		return ret, nil
	}
	ids := make([]string, 0, len(rows))
	idx := make(map[string]int, len(rows))
	for i := range rows {
		ret = append(ret, rows[i].toModel())
		ids = append(ids, rows[i].ID)
		idx[rows[i].ID] = i
	}
	query, args, err := sqlx.In(
		fmt.Sprintf("SELECT id, %s FROM RequestNotifications WHERE requestId IN (?) ORDER BY id", notificationFields),
		ids,
	)
	if err != nil {
		return nil, err
	}
	var notifications []notificationRow
	if err = r.db.SelectContext(ctx, &notifications, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range notifications {
		pos := idx[notifications[i].RequestID]
		ret[pos].Notifications = append(ret[pos].Notifications, notifications[i].toModel())
	}
	return ret, nil
}

// Builds the status filter of a request query
func statusFilter(statuses []models.RequestStatus) (string, []interface{}, error) {
	if len(statuses) == 0 {
		return "", nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	query, args, err := sqlx.In(" AND status IN (?)", values)
	return query, args, err
}

func (r *RequestRepo) find(ctx context.Context, where string, args []interface{}, statuses []models.RequestStatus) ([]models.Request, error) {
	filter, filterArgs, err := statusFilter(statuses)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT id, %s FROM Requests WHERE %s%s ORDER BY requestedAt, rowid",
		requestFields,
		where,
		filter,
	)
	var rows []requestRow
	if err = r.db.SelectContext(ctx, &rows, r.db.Rebind(query), append(args, filterArgs...)...); err != nil {
		return nil, err
	}
	return r.withNotifications(ctx, rows)
}

// FindByShowAndRequester returns the requests of one requester at a show. No statuses means all statuses.
func (r *RequestRepo) FindByShowAndRequester(
	ctx context.Context,
	showID, requesterID string,
	statuses []models.RequestStatus,
) ([]models.Request, error) {
	r.logger.WithFields(logrus.Fields{log.FldShow: showID, log.FldRequester: requesterID}).Debug("Listing requests")
	return r.find(ctx, "showId = ? AND requesterId = ?", []interface{}{showID, requesterID}, statuses)
}

// FindByShow returns the requests of a show with the given statuses in submission order
func (r *RequestRepo) FindByShow(ctx context.Context, showID string, statuses []models.RequestStatus) ([]models.Request, error) {
	r.logger.WithField(log.FldShow, showID).Debug("Listing requests of show")
	return r.find(ctx, "showId = ?", []interface{}{showID}, statuses)
}

// CountActive returns the number of non-terminal requests of one requester at a show
func (r *RequestRepo) CountActive(ctx context.Context, showID, requesterID string) (uint, error) {
	return countActive(ctx, r.db, showID, requesterID)
}

func countActive(ctx context.Context, q sqlx.QueryerContext, showID, requesterID string) (uint, error) {
	filter, args, err := statusFilter(models.ActiveStatuses)
	if err != nil {
		return 0, err
	}
	query := sqlx.Rebind(sqlx.QUESTION, "SELECT COUNT(*) FROM Requests WHERE showId = ? AND requesterId = ?"+filter)
	var num uint
	if err = sqlx.GetContext(ctx, q, &num, query, append([]interface{}{showID, requesterID}, args...)...); err != nil {
		return 0, err
	}
	return num, nil
}

// UpdateStatus moves a request from the expected status to the next one and applies the patch atomically
func (r *RequestRepo) UpdateStatus(
	ctx context.Context,
	id string,
	expected, next models.RequestStatus,
	patch repos.RequestPatch,
) (*models.Request, error) {
	r.logger.WithFields(logrus.Fields{
		log.FldID:         id,
		log.FldFromStatus: expected,
		log.FldStatus:     next,
	}).Debug("Updating request status")
	sets := []string{"status = ?", "updatedAt = ?"}
	args := []interface{}{string(next), time.Now().UTC()}
	if patch.CompletedAt != nil {
		sets = append(sets, "completedAt = ?")
		args = append(args, patch.CompletedAt.UTC())
	}
	if patch.ScheduledTime != nil {
		sets = append(sets, "scheduledTime = ?")
		args = append(args, patch.ScheduledTime.UTC())
	}
	if p := patch.Payment; p != nil {
		sets = append(sets, "paymentAmount = ?", "paymentStatus = ?", "venmoTransactionId = ?", "refundTransactionId = ?")
		args = append(args, p.Amount.String(), string(p.Status), p.VenmoTransactionID, p.RefundTransactionID)
	}
	args = append(args, id, string(expected))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("UPDATE Requests SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, repos.DoRollback(tx, err)
	}
	num, err := res.RowsAffected()
	if err != nil {
		return nil, repos.DoRollback(tx, err)
	}
	if num == 0 {
		// Either the request is gone or somebody else changed its status in the meantime
		var exists int
		if err = tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM Requests WHERE id = ?", id); err != nil {
			return nil, repos.DoRollback(tx, err)
		}
		if exists == 0 {
			return nil, repos.DoRollback(tx, repos.ErrEntityNotExisting)
		}
		return nil, repos.DoRollback(tx, repos.ErrConcurrencyConflict)
	}
	if patch.Notification != nil {
		if err = insertNotification(ctx, tx, id, patch.Notification); err != nil {
			return nil, repos.DoRollback(tx, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// PendingNotifications returns undelivered notifications recorded before the given point in time
func (r *RequestRepo) PendingNotifications(
	ctx context.Context,
	olderThan time.Time,
	limit uint,
) ([]models.PendingNotification, error) {
	if limit == 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, %s FROM RequestNotifications WHERE status = ? AND sentAt <= ?
        ORDER BY id LIMIT ?`, notificationFields)
	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, string(models.DeliveryPending), olderThan.UTC(), limit); err != nil {
		return nil, err
	}
	ret := make([]models.PendingNotification, 0, len(rows))
	for i := range rows {
		ret = append(ret, models.PendingNotification{
			Notification: rows[i].toModel(),
			RequestID:    rows[i].RequestID,
			Attempts:     rows[i].Attempts,
		})
	}
	return ret, nil
}

// MarkNotification sets the delivery status of a notification and counts the delivery attempt
func (r *RequestRepo) MarkNotification(ctx context.Context, id uint, status models.DeliveryStatus) error {
	r.logger.WithFields(logrus.Fields{log.FldNotification: id, log.FldStatus: status}).Debug("Marking notification")
	query := `UPDATE RequestNotifications SET status = ?, attempts = attempts + 1 WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return err
	}
	var num int64
	if num, err = res.RowsAffected(); err == nil && num == 0 {
		return repos.ErrEntityNotExisting
	}
	return err
}
