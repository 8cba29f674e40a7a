package internal

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/admission"
	"github.com/derWhity/tipqueue/internal/availability"
	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/metrics"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
)

// Attempts of a status change that lost against a concurrent writer
const maxUpdateAttempts = 2

// Messages recorded when no explicit message is given
var defaultMessages = map[models.RequestStatus]string{
	models.StatusPending:    "Your request has been received",
	models.StatusApproved:   "Your request has been approved",
	models.StatusInProgress: "Your song is coming up next",
	models.StatusCompleted:  "Your song has been played",
	models.StatusRejected:   "Your request has been declined",
	models.StatusCancelled:  "Your request has been cancelled",
}

// NotificationDispatcher takes over the delivery of recorded notifications
type NotificationDispatcher interface {
	Enqueue(requestID string, n models.Notification)
}

// NewRequest holds the data of a song request to submit
type NewRequest struct {
	ShowID        string          `json:"-"`
	RequesterID   string          `json:"-"`
	SongID        string          `json:"songId"`
	Amount        decimal.Decimal `json:"amount"`
	ScheduledTime *time.Time      `json:"scheduledTime"`
}

// RequestSummary lists the requests of one requester at a show together with the remaining admission slots
type RequestSummary struct {
	Requests           []models.Request `json:"requests"`
	Active             uint             `json:"active"`
	MaxRequestsPerUser uint             `json:"maxRequestsPerUser"`
	RemainingSlots     uint             `json:"remainingSlots"`
}

// RequestService admits song requests and moves them through their lifecycle
type RequestService interface {
	// Create submits a new request after checking the song's availability and the requester's admission slot
	Create(ctx context.Context, nr *NewRequest) (*models.Request, error)
	// Get returns the request with the given ID
	Get(ctx context.Context, id string) (*models.Request, error)
	// UpdateStatus moves a request to another status and records one notification about it
	UpdateStatus(ctx context.Context, id string, to models.RequestStatus, message string) (*models.Request, error)
	// ProcessRefund refunds the tip of a request and cancels it in one step
	ProcessRefund(ctx context.Context, id string, refundTransactionID string) (*models.Request, error)
	// ConfirmPayment records the payment of a request's tip
	ConfirmPayment(ctx context.Context, id string, transactionID string) (*models.Request, error)
	// Schedule sets the time a request is planned to be played at
	Schedule(ctx context.Context, id string, at time.Time) (*models.Request, error)
	// ListByRequester returns the requests of a requester at a show
	ListByRequester(ctx context.Context, showID, requesterID string) (*RequestSummary, error)
}

// -- RequestService implementation ------------------------------------------------------------------------------------

type requestService struct {
	repo       repos.RequestRepo
	shows      repos.ShowRepo
	songs      repos.SongRepo
	admission  admission.Controller
	dispatcher NotificationDispatcher
	config     ConfigService
	logger     *logrus.Entry
}

// NewRequestService creates a new RequestService instance
func NewRequestService(
	repo repos.RequestRepo,
	shows repos.ShowRepo,
	songs repos.SongRepo,
	ctrl admission.Controller,
	dispatcher NotificationDispatcher,
	cs ConfigService,
	logger *logrus.Entry,
) RequestService {
	return &requestService{
		repo:       repo,
		shows:      shows,
		songs:      songs,
		admission:  ctrl,
		dispatcher: dispatcher,
		config:     cs,
		logger:     logger,
	}
}

func invalidTransition(from, to models.RequestStatus) *HTTPError {
	return MakeErrorWithData(
		http.StatusConflict,
		ErrCodeInvalidTransition,
		fmt.Sprintf("A request cannot change from '%s' to '%s'", from, to),
		map[string]string{"from": string(from), "to": string(to)},
	)
}

func messageFor(status models.RequestStatus, message string) string {
	if message = strings.TrimSpace(message); message != "" {
		return message
	}
	return defaultMessages[status]
}

func (s *requestService) loadShow(ctx context.Context, id string) (*models.Show, error) {
	show, err := s.shows.GetByID(ctx, id)
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

// Checks everything about a new request that does not need an admission slot
func (s *requestService) validateNewRequest(ctx context.Context, nr *NewRequest) (*models.Show, error) {
	nr.RequesterID = strings.TrimSpace(nr.RequesterID)
	if nr.RequesterID == "" {
		return nil, ErrNotIdentified
	}
	if strings.TrimSpace(nr.SongID) == "" {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Song missing",
			map[string]string{"field": "songId"},
		)
	}
	if nr.Amount.IsNegative() {
		return nil, validationError("The tip amount must not be negative", map[string]string{"field": "amount"})
	}
	show, err := s.loadShow(ctx, nr.ShowID)
	if err != nil {
		return nil, err
	}
	if !show.AcceptsRequests() {
		return nil, MakeErrorWithData(
			http.StatusConflict,
			ErrCodeShowNotAccepting,
			"The show does not accept requests",
			map[string]string{"status": string(show.Status)},
		)
	}
	if show.Settings.RequireTip && !nr.Amount.IsPositive() {
		return nil, validationError(
			"This show requires a tip with every request",
			map[string]string{"field": "amount", "suggestedTip": show.Settings.SuggestedTip.StringFixed(2)},
		)
	}
	song, err := s.songs.GetByID(ctx, nr.SongID)
	if err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, songNotFound(nr.SongID)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Failed to retrieve song information",
			err,
		)
	}
	// Only the performer's own catalog can be requested
	if song.PerformerID != show.PerformerID {
		return nil, songNotFound(nr.SongID)
	}
	if !availability.IsAvailable(song, show.ScheduledAt.In(s.config.Location(ctx))) {
		return nil, MakeErrorWithData(
			http.StatusConflict,
			ErrCodeSongUnavailable,
			"The song cannot be requested for this show",
			map[string]string{"songId": song.ID},
		)
	}
	return show, nil
}

func admissionDenied(show *models.Show) error {
	return MakeErrorWithData(
		http.StatusTooManyRequests,
		ErrCodeAdmissionDenied,
		"You already have the maximum number of open requests for this show",
		map[string]uint{"maxRequestsPerUser": show.Settings.MaxRequestsPerUser},
	)
}

func (s *requestService) reserve(ctx context.Context, show *models.Show, requesterID string) (*admission.Reservation, error) {
	backend := s.config.GetConfig(ctx).Admission.Backend
	key := admission.Key{ShowID: show.ID, RequesterID: requesterID}
	logger := s.logger.WithFields(logrus.Fields{
		log.FldShow:      show.ID,
		log.FldRequester: requesterID,
		log.FldBackend:   backend,
	})
	start := time.Now()
	res, err := s.admission.TryReserve(ctx, key, show.Settings.MaxRequestsPerUser)
	metrics.ReserveDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	switch {
	case err == admission.ErrDenied:
		metrics.AdmissionDecisions.WithLabelValues(metrics.ResultDenied).Inc()
		logger.Info("Admission denied - request cap reached")
		return nil, admissionDenied(show)
	case err != nil:
		metrics.AdmissionDecisions.WithLabelValues(metrics.ResultError).Inc()
		logger.WithError(err).Error("Admission decision failed")
		return nil, MakeErrorWithData(
			http.StatusServiceUnavailable,
			ErrCodeAdmissionUnavailable,
			"The request could not be admitted right now",
			err.Error(),
		)
	}
	metrics.AdmissionDecisions.WithLabelValues(metrics.ResultAdmitted).Inc()
	logger.WithField("held", res.Held).Debug("Admission slot reserved")
	return res, nil
}

// Create submits a new request after checking the song's availability and the requester's admission slot
func (s *requestService) Create(ctx context.Context, nr *NewRequest) (*models.Request, error) {
	show, err := s.validateNewRequest(ctx, nr)
	if err != nil {
		return nil, err
	}
	res, err := s.reserve(ctx, show, nr.RequesterID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	req := &models.Request{
		ID:            uuid.New().String(),
		ShowID:        show.ID,
		RequesterID:   nr.RequesterID,
		SongID:        nr.SongID,
		Status:        models.StatusPending,
		RequestedAt:   now,
		ScheduledTime: nr.ScheduledTime,
		Payment: models.Payment{
			Amount: nr.Amount,
			Status: models.PaymentPending,
		},
		Notifications: []models.Notification{{
			Type:    models.NotificationStatusUpdate,
			Message: defaultMessages[models.StatusPending],
			SentAt:  now,
			Status:  models.DeliveryPending,
		}},
	}
	logger := s.logger.WithFields(logrus.Fields{
		log.FldRequest:   req.ID,
		log.FldShow:      show.ID,
		log.FldRequester: nr.RequesterID,
		log.FldSong:      nr.SongID,
	})
	if err := s.repo.Create(ctx, req, show.Settings.MaxRequestsPerUser); err != nil {
		// Give the slot back - a request that has not been stored must not count against the cap
		if relErr := res.Release(); relErr != nil {
			logger.WithError(relErr).Error("Failed to release admission slot")
		}
		if err == repos.ErrCapReached {
			metrics.AdmissionDecisions.WithLabelValues(metrics.ResultDenied).Inc()
			logger.Info("Request cap reached while storing")
			return nil, admissionDenied(show)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while storing request",
			err,
		)
	}
	if err := res.Consume(); err != nil {
		logger.WithError(err).Error("Admission slot was settled before the request has been stored")
	}
	logger.Info("Request submitted")
	for _, n := range req.Notifications {
		s.dispatcher.Enqueue(req.ID, n)
	}
	return req, nil
}

// Get returns the request with the given ID
func (s *requestService) Get(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, requestNotFound(id)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while retrieving request %s", id),
			err,
		)
	}
	return req, nil
}

// Writes a status change conditioned on the status the request was read with and performs its side effects
func (s *requestService) apply(
	ctx context.Context,
	req *models.Request,
	next models.RequestStatus,
	patch repos.RequestPatch,
) (*models.Request, error) {
	updated, err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next, patch)
	if err != nil {
		switch err {
		case repos.ErrConcurrencyConflict:
			return nil, err
		case repos.ErrEntityNotExisting:
			return nil, requestNotFound(req.ID)
		}
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			fmt.Sprintf("Error while updating request %s", req.ID),
			err,
		)
	}
	if next != req.Status {
		metrics.StatusTransitions.WithLabelValues(string(req.Status), string(next)).Inc()
		s.logger.WithFields(logrus.Fields{
			log.FldRequest:    req.ID,
			log.FldFromStatus: req.Status,
			log.FldStatus:     next,
		}).Info("Request status changed")
	}
	if patch.Notification != nil {
		s.dispatcher.Enqueue(updated.ID, *patch.Notification)
	}
	return updated, nil
}

// Runs a read-modify-write cycle on a request. A cycle that lost against a concurrent writer is repeated once with
// a fresh read.
func (s *requestService) modify(
	ctx context.Context,
	id string,
	fn func(req *models.Request) (*models.Request, error),
) (*models.Request, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		updated, err := fn(req)
		if err != repos.ErrConcurrencyConflict {
			return updated, err
		}
		s.logger.WithFields(logrus.Fields{
			log.FldRequest: id,
			log.FldAttempt: attempt,
		}).Warn("Request has been modified concurrently")
	}
	return nil, concurrencyConflict(id)
}

// UpdateStatus moves a request to another status and records one notification about it. Setting the current
// status of an active request again changes nothing.
func (s *requestService) UpdateStatus(
	ctx context.Context,
	id string,
	to models.RequestStatus,
	message string,
) (*models.Request, error) {
	if !to.Valid() {
		return nil, validationError("Illegal status value", map[string]string{"field": "status"})
	}
	return s.modify(ctx, id, func(req *models.Request) (*models.Request, error) {
		if req.Status == to && !to.Terminal() {
			return req, nil
		}
		if !models.CanTransition(req.Status, to) {
			return nil, invalidTransition(req.Status, to)
		}
		patch := repos.RequestPatch{
			Notification: &models.Notification{
				Type:    models.NotificationTypeFor(to),
				Message: messageFor(to, message),
				SentAt:  time.Now().UTC(),
				Status:  models.DeliveryPending,
			},
		}
		if to.Terminal() {
			now := time.Now().UTC()
			patch.CompletedAt = &now
		}
		if to == models.StatusCancelled && req.Payment.Status == models.PaymentCompleted {
			payment := req.Payment
			payment.Status = models.PaymentRefunded
			patch.Payment = &payment
		}
		return s.apply(ctx, req, to, patch)
	})
}

// ProcessRefund refunds the tip of a request and cancels it in one step. Only pending and approved requests can be
// refunded.
func (s *requestService) ProcessRefund(ctx context.Context, id string, refundTransactionID string) (*models.Request, error) {
	return s.modify(ctx, id, func(req *models.Request) (*models.Request, error) {
		if !req.Refundable() {
			return nil, MakeErrorWithData(
				http.StatusConflict,
				ErrCodeRefundNotAllowed,
				"The request cannot be refunded",
				map[string]string{"status": string(req.Status), "paymentStatus": string(req.Payment.Status)},
			)
		}
		now := time.Now().UTC()
		payment := req.Payment
		payment.Status = models.PaymentRefunded
		payment.RefundTransactionID = strings.TrimSpace(refundTransactionID)
		patch := repos.RequestPatch{
			CompletedAt: &now,
			Payment:     &payment,
			Notification: &models.Notification{
				Type:    models.NotificationStatusUpdate,
				Message: "Your request has been cancelled and your tip refunded",
				SentAt:  now,
				Status:  models.DeliveryPending,
			},
		}
		return s.apply(ctx, req, models.StatusCancelled, patch)
	})
}

// ConfirmPayment records the payment of a request's tip. Confirming the same transaction again changes nothing.
func (s *requestService) ConfirmPayment(ctx context.Context, id string, transactionID string) (*models.Request, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Transaction ID missing",
			map[string]string{"field": "transactionId"},
		)
	}
	return s.modify(ctx, id, func(req *models.Request) (*models.Request, error) {
		if req.Payment.Status == models.PaymentCompleted {
			if req.Payment.VenmoTransactionID == transactionID {
				return req, nil
			}
			return nil, MakeErrorWithData(
				http.StatusConflict,
				ErrCodePaymentMismatch,
				"The payment has already been confirmed with another transaction",
				map[string]string{"id": id},
			)
		}
		if req.Status.Terminal() || req.Payment.Status != models.PaymentPending {
			return nil, MakeErrorWithData(
				http.StatusConflict,
				ErrCodeInvalidTransition,
				"The payment of this request cannot be confirmed",
				map[string]string{"status": string(req.Status), "paymentStatus": string(req.Payment.Status)},
			)
		}
		payment := req.Payment
		payment.Status = models.PaymentCompleted
		payment.VenmoTransactionID = transactionID
		return s.apply(ctx, req, req.Status, repos.RequestPatch{Payment: &payment})
	})
}

// Schedule sets the time a request is planned to be played at. Only active requests can be scheduled.
func (s *requestService) Schedule(ctx context.Context, id string, at time.Time) (*models.Request, error) {
	if at.IsZero() {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeRequiredFieldMissing,
			"Scheduled time missing",
			map[string]string{"field": "scheduledTime"},
		)
	}
	return s.modify(ctx, id, func(req *models.Request) (*models.Request, error) {
		if req.Status.Terminal() {
			return nil, invalidTransition(req.Status, req.Status)
		}
		return s.apply(ctx, req, req.Status, repos.RequestPatch{ScheduledTime: &at})
	})
}

// ListByRequester returns the requests of a requester at a show together with the slots still available
func (s *requestService) ListByRequester(ctx context.Context, showID, requesterID string) (*RequestSummary, error) {
	show, err := s.loadShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.repo.FindByShowAndRequester(ctx, showID, requesterID, nil)
	if err != nil {
		return nil, MakeErrorWithData(
			http.StatusInternalServerError,
			ErrCodeRepoError,
			"Error while listing requests",
			err,
		)
	}
	summary := &RequestSummary{
		Requests:           reqs,
		MaxRequestsPerUser: show.Settings.MaxRequestsPerUser,
	}
	for _, r := range reqs {
		if !r.Status.Terminal() {
			summary.Active++
		}
	}
	if summary.Active < summary.MaxRequestsPerUser {
		summary.RemainingSlots = summary.MaxRequestsPerUser - summary.Active
	}
	return summary, nil
}
