package internal

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/showqueue"
)

// ShowEndpoints is a collection of endpoints to the show service
type ShowEndpoints struct {
	Create          endpoint.Endpoint
	Get             endpoint.Endpoint
	Update          endpoint.Endpoint
	SetStatus       endpoint.Endpoint
	ListByPerformer endpoint.Endpoint
}

// SongEndpoints is a collection of endpoints to the song catalog
type SongEndpoints struct {
	Create endpoint.Endpoint
	Get    endpoint.Endpoint
	Update endpoint.Endpoint
	List   endpoint.Endpoint
}

// RequestEndpoints is a collection of endpoints for submitting and handling song requests
type RequestEndpoints struct {
	Create          endpoint.Endpoint
	Get             endpoint.Endpoint
	UpdateStatus    endpoint.Endpoint
	ProcessRefund   endpoint.Endpoint
	ConfirmPayment  endpoint.Endpoint
	Schedule        endpoint.Endpoint
	ListByRequester endpoint.Endpoint
}

// QueueEndpoints is a collection of endpoints for reading a show's queue
type QueueEndpoints struct {
	GetQueue endpoint.Endpoint
}

// The base for all responses which always contains an "ok" property to show if the call was successful and a
// data element containing the result of the request
type basicResponse struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data,omitempty"`
}

type pagingResponse struct {
	Rows uint        `json:"rows"`
	List interface{} `json:"list"`
}

// A request for listing the entities of one performer
type performerListRequest struct {
	Search
	PerformerID string
}

// A request changing the status of a show
type showStatusRequest struct {
	ID     string            `json:"-"`
	Status models.ShowStatus `json:"status"`
}

// A request changing the status of a song request
type requestStatusRequest struct {
	ID      string               `json:"-"`
	Status  models.RequestStatus `json:"status"`
	Message string               `json:"message"`
}

// A request recording a refund
type refundRequest struct {
	ID                  string `json:"-"`
	RefundTransactionID string `json:"refundTransactionId"`
}

// A request confirming the payment of a tip
type paymentRequest struct {
	ID            string `json:"-"`
	TransactionID string `json:"transactionId"`
}

// A request setting the planned play time of a song request
type scheduleRequest struct {
	ID            string    `json:"-"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

// A request for the queue of a show
type queueRequest struct {
	ShowID   string
	Statuses []models.RequestStatus
	Sort     showqueue.Criteria
}

// -- Ownership --------------------------------------------------------------------------------------------------------

// Loads the show and checks if it belongs to the calling performer
func ownShow(ctx context.Context, s ShowService, id string) (*models.Show, error) {
	show, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if show.PerformerID != callerPerformer(ctx) {
		return nil, ErrForbidden
	}
	return show, nil
}

// Loads the request and checks if the caller may see it. The requester may act on the request if requesterMayAct is
// set; the performer owning the show always may.
func accessRequest(
	ctx context.Context,
	rs RequestService,
	ss ShowService,
	id string,
	requesterMayAct bool,
) (*models.Request, error) {
	req, err := rs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if requesterMayAct && req.RequesterID != "" && req.RequesterID == callerRequester(ctx) {
		return req, nil
	}
	if callerPerformer(ctx) == "" {
		return nil, ErrForbidden
	}
	if _, err := ownShow(ctx, ss, req.ShowID); err != nil {
		return nil, err
	}
	return req, nil
}

// -- Shows ------------------------------------------------------------------------------------------------------------

// MakeShowEndpoints creates the endpoints needed to use the show service
func MakeShowEndpoints(s ShowService) ShowEndpoints {
	return ShowEndpoints{
		Create:          EnsurePerformer(MakeCreateShowEndpoint(s)),
		Get:             MakeGetShowEndpoint(s),
		Update:          EnsurePerformer(MakeUpdateShowEndpoint(s)),
		SetStatus:       EnsurePerformer(MakeSetShowStatusEndpoint(s)),
		ListByPerformer: MakeListShowsEndpoint(s),
	}
}

// MakeCreateShowEndpoint returns an endpoint creating a show for the calling performer
func MakeCreateShowEndpoint(s ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		show, ok := request.(models.Show)
		if !ok {
			return nil, fmt.Errorf("illegal show parameter")
		}
		show.PerformerID = callerPerformer(ctx)
		created, err := s.Create(ctx, &show)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, created}, nil
	}
}

// MakeGetShowEndpoint returns an endpoint calling the Get method of the ShowService
func MakeGetShowEndpoint(s ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("missing show ID")
		}
		show, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, show}, nil
	}
}

// MakeUpdateShowEndpoint returns an endpoint updating a show of the calling performer
func MakeUpdateShowEndpoint(s ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		show, ok := request.(models.Show)
		if !ok {
			return nil, fmt.Errorf("illegal show parameter")
		}
		if _, err := ownShow(ctx, s, show.ID); err != nil {
			return nil, err
		}
		updated, err := s.Update(ctx, &show)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeSetShowStatusEndpoint returns an endpoint changing the status of a show of the calling performer
func MakeSetShowStatusEndpoint(s ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(showStatusRequest)
		if !ok {
			return nil, fmt.Errorf("illegal status parameter")
		}
		if _, err := ownShow(ctx, s, req.ID); err != nil {
			return nil, err
		}
		show, err := s.SetStatus(ctx, req.ID, req.Status)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, show}, nil
	}
}

// MakeListShowsEndpoint returns an endpoint listing the shows of a performer
func MakeListShowsEndpoint(s ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(performerListRequest)
		if !ok {
			return nil, fmt.Errorf("illegal list parameters")
		}
		lst, count, err := s.ListByPerformer(ctx, req.PerformerID, req.Pagination)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, pagingResponse{count, lst}}, nil
	}
}

// -- Songs ------------------------------------------------------------------------------------------------------------

// MakeSongEndpoints creates the endpoints needed to use the song catalog
func MakeSongEndpoints(s SongService) SongEndpoints {
	return SongEndpoints{
		Create: EnsurePerformer(MakeCreateSongEndpoint(s)),
		Get:    MakeGetSongEndpoint(s),
		Update: EnsurePerformer(MakeUpdateSongEndpoint(s)),
		List:   MakeListSongsEndpoint(s),
	}
}

// MakeCreateSongEndpoint returns an endpoint adding a song to the calling performer's catalog
func MakeCreateSongEndpoint(s SongService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		song, ok := request.(models.Song)
		if !ok {
			return nil, fmt.Errorf("illegal song parameter")
		}
		song.PerformerID = callerPerformer(ctx)
		created, err := s.Create(ctx, &song)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, created}, nil
	}
}

// MakeGetSongEndpoint returns an endpoint calling the Get method of the SongService
func MakeGetSongEndpoint(s SongService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("missing song ID")
		}
		song, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, song}, nil
	}
}

// MakeUpdateSongEndpoint returns an endpoint updating a song of the calling performer's catalog
func MakeUpdateSongEndpoint(s SongService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		song, ok := request.(models.Song)
		if !ok {
			return nil, fmt.Errorf("illegal song parameter")
		}
		existing, err := s.Get(ctx, song.ID)
		if err != nil {
			return nil, err
		}
		if existing.PerformerID != callerPerformer(ctx) {
			return nil, ErrForbidden
		}
		updated, err := s.Update(ctx, &song)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeListSongsEndpoint returns an endpoint searching the catalog of a performer
func MakeListSongsEndpoint(s SongService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(performerListRequest)
		if !ok {
			return nil, fmt.Errorf("illegal search parameters")
		}
		lst, count, err := s.List(ctx, req.PerformerID, &req.Search)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, pagingResponse{count, lst}}, nil
	}
}

// -- Requests ---------------------------------------------------------------------------------------------------------

// MakeRequestEndpoints creates the endpoints needed to submit and handle song requests
func MakeRequestEndpoints(rs RequestService, ss ShowService) RequestEndpoints {
	return RequestEndpoints{
		Create:          EnsureRequester(MakeCreateRequestEndpoint(rs)),
		Get:             EnsureIdentified(MakeGetRequestEndpoint(rs, ss)),
		UpdateStatus:    EnsureIdentified(MakeUpdateRequestStatusEndpoint(rs, ss)),
		ProcessRefund:   EnsurePerformer(MakeProcessRefundEndpoint(rs, ss)),
		ConfirmPayment:  EnsurePerformer(MakeConfirmPaymentEndpoint(rs, ss)),
		Schedule:        EnsurePerformer(MakeScheduleEndpoint(rs, ss)),
		ListByRequester: EnsureRequester(MakeListMyRequestsEndpoint(rs)),
	}
}

// MakeCreateRequestEndpoint returns an endpoint submitting a song request in the name of the calling fan
func MakeCreateRequestEndpoint(s RequestService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		nr, ok := request.(NewRequest)
		if !ok {
			return nil, fmt.Errorf("illegal request parameter")
		}
		nr.RequesterID = callerRequester(ctx)
		created, err := s.Create(ctx, &nr)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, created}, nil
	}
}

// MakeGetRequestEndpoint returns an endpoint returning a request to its requester or the show's performer
func MakeGetRequestEndpoint(rs RequestService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("missing request ID")
		}
		req, err := accessRequest(ctx, rs, ss, id, true)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, req}, nil
	}
}

// MakeUpdateRequestStatusEndpoint returns an endpoint moving a request to another status. Requesters may only
// cancel their own requests.
func MakeUpdateRequestStatusEndpoint(rs RequestService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(requestStatusRequest)
		if !ok {
			return nil, fmt.Errorf("illegal status parameter")
		}
		if _, err := accessRequest(ctx, rs, ss, req.ID, req.Status == models.StatusCancelled); err != nil {
			return nil, err
		}
		updated, err := rs.UpdateStatus(ctx, req.ID, req.Status, req.Message)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeProcessRefundEndpoint returns an endpoint recording the refund of a request's tip
func MakeProcessRefundEndpoint(rs RequestService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(refundRequest)
		if !ok {
			return nil, fmt.Errorf("illegal refund parameter")
		}
		if _, err := accessRequest(ctx, rs, ss, req.ID, false); err != nil {
			return nil, err
		}
		updated, err := rs.ProcessRefund(ctx, req.ID, req.RefundTransactionID)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeConfirmPaymentEndpoint returns an endpoint marking the tip of a request as paid
func MakeConfirmPaymentEndpoint(rs RequestService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(paymentRequest)
		if !ok {
			return nil, fmt.Errorf("illegal payment parameter")
		}
		if _, err := accessRequest(ctx, rs, ss, req.ID, false); err != nil {
			return nil, err
		}
		updated, err := rs.ConfirmPayment(ctx, req.ID, req.TransactionID)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeScheduleEndpoint returns an endpoint setting the planned play time of a request
func MakeScheduleEndpoint(rs RequestService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(scheduleRequest)
		if !ok {
			return nil, fmt.Errorf("illegal schedule parameter")
		}
		if _, err := accessRequest(ctx, rs, ss, req.ID, false); err != nil {
			return nil, err
		}
		updated, err := rs.Schedule(ctx, req.ID, req.ScheduledTime)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, updated}, nil
	}
}

// MakeListMyRequestsEndpoint returns an endpoint listing the calling fan's requests at a show
func MakeListMyRequestsEndpoint(s RequestService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		showID, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("missing show ID")
		}
		summary, err := s.ListByRequester(ctx, showID, callerRequester(ctx))
		if err != nil {
			return nil, err
		}
		return basicResponse{true, summary}, nil
	}
}

// -- Queue ------------------------------------------------------------------------------------------------------------

// MakeQueueEndpoints creates the endpoints needed to read a show's queue
func MakeQueueEndpoints(qs QueueService, ss ShowService) QueueEndpoints {
	return QueueEndpoints{
		GetQueue: EnsurePerformer(MakeGetQueueEndpoint(qs, ss)),
	}
}

// MakeGetQueueEndpoint returns an endpoint returning the queue of one of the calling performer's shows
func MakeGetQueueEndpoint(qs QueueService, ss ShowService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(queueRequest)
		if !ok {
			return nil, fmt.Errorf("illegal queue parameters")
		}
		if _, err := ownShow(ctx, ss, req.ShowID); err != nil {
			return nil, err
		}
		lst, err := qs.SortedQueue(ctx, req.ShowID, req.Statuses, req.Sort)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, pagingResponse{uint(len(lst)), lst}}, nil
	}
}
