package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/ctxhelper"
	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/showqueue"
)

const (
	apiBasePath = "/api"
	// Headers set by the upstream auth proxy
	headerRequesterID = "X-Requester-ID"
	headerPerformerID = "X-Performer-ID"
)

// Defines an error that defines the HTTP status that should be returned
type httpStatuser interface {
	Status() int
}

// Defines an error that returns a machine-readable error code
type errorCoder interface {
	ErrorCode() string
}

// Defines an error that contains a data field with additional information
type dataBearer interface {
	Data() interface{}
}

type errorResponse struct {
	basicResponse
	// The error code
	Error   string      `json:"error"`
	Message string      `json:"errorMessage"`
	Details interface{} `json:"errorDetails,omitempty"`
}

// MakeHTTPHandler creates the main HTTP handler for the song request service
func MakeHTTPHandler(
	shows ShowService,
	songs SongService,
	requests RequestService,
	queue QueueService,
	logger *logrus.Entry,
) http.Handler {
	r := mux.NewRouter()

	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerBefore(makeContextInjector(logger)),
		httptransport.ServerBefore(decodeIdentity),
	}

	// -- Show service ---------------------------------
	{
		showEndpoints := MakeShowEndpoints(shows)

		// Create
		r.Methods(http.MethodPost).Path(apiBasePath + "/shows").Handler(httptransport.NewServer(
			showEndpoints.Create,
			decodeShow,
			encodeJSONResponse,
			options...,
		))

		// Get
		r.Methods(http.MethodGet).Path(apiBasePath + "/shows/{id}").Handler(httptransport.NewServer(
			showEndpoints.Get,
			decodeIDFromPath,
			encodeJSONResponse,
			options...,
		))

		// Update
		r.Methods(http.MethodPut).Path(apiBasePath + "/shows/{id}").Handler(httptransport.NewServer(
			showEndpoints.Update,
			decodeShowUpdate,
			encodeJSONResponse,
			options...,
		))

		// SetStatus
		r.Methods(http.MethodPut).Path(apiBasePath + "/shows/{id}/status").Handler(httptransport.NewServer(
			showEndpoints.SetStatus,
			decodeShowStatusRequest,
			encodeJSONResponse,
			options...,
		))

		// ListByPerformer
		r.Methods(http.MethodGet).Path(apiBasePath + "/performers/{id}/shows").Handler(httptransport.NewServer(
			showEndpoints.ListByPerformer,
			decodePerformerListRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// -- Song catalog ---------------------------------
	{
		songEndpoints := MakeSongEndpoints(songs)

		// Create
		r.Methods(http.MethodPost).Path(apiBasePath + "/songs").Handler(httptransport.NewServer(
			songEndpoints.Create,
			decodeSong,
			encodeJSONResponse,
			options...,
		))

		// Get
		r.Methods(http.MethodGet).Path(apiBasePath + "/songs/{id}").Handler(httptransport.NewServer(
			songEndpoints.Get,
			decodeIDFromPath,
			encodeJSONResponse,
			options...,
		))

		// Update
		r.Methods(http.MethodPut).Path(apiBasePath + "/songs/{id}").Handler(httptransport.NewServer(
			songEndpoints.Update,
			decodeSongUpdate,
			encodeJSONResponse,
			options...,
		))

		// List
		r.Methods(http.MethodGet).Path(apiBasePath + "/performers/{id}/songs").Handler(httptransport.NewServer(
			songEndpoints.List,
			decodePerformerListRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// -- Request service ------------------------------
	{
		requestEndpoints := MakeRequestEndpoints(requests, shows)

		// Create
		r.Methods(http.MethodPost).Path(apiBasePath + "/shows/{id}/requests").Handler(httptransport.NewServer(
			requestEndpoints.Create,
			decodeNewRequest,
			encodeJSONResponse,
			options...,
		))

		// ListByRequester
		r.Methods(http.MethodGet).Path(apiBasePath + "/shows/{id}/requests/mine").Handler(httptransport.NewServer(
			requestEndpoints.ListByRequester,
			decodeIDFromPath,
			encodeJSONResponse,
			options...,
		))

		// Get
		r.Methods(http.MethodGet).Path(apiBasePath + "/requests/{id}").Handler(httptransport.NewServer(
			requestEndpoints.Get,
			decodeIDFromPath,
			encodeJSONResponse,
			options...,
		))

		// UpdateStatus
		r.Methods(http.MethodPut).Path(apiBasePath + "/requests/{id}/status").Handler(httptransport.NewServer(
			requestEndpoints.UpdateStatus,
			decodeRequestStatusRequest,
			encodeJSONResponse,
			options...,
		))

		// Schedule
		r.Methods(http.MethodPut).Path(apiBasePath + "/requests/{id}/schedule").Handler(httptransport.NewServer(
			requestEndpoints.Schedule,
			decodeScheduleRequest,
			encodeJSONResponse,
			options...,
		))

		// ProcessRefund
		r.Methods(http.MethodPost).Path(apiBasePath + "/requests/{id}/refund").Handler(httptransport.NewServer(
			requestEndpoints.ProcessRefund,
			decodeRefundRequest,
			encodeJSONResponse,
			options...,
		))

		// ConfirmPayment
		r.Methods(http.MethodPost).Path(apiBasePath + "/requests/{id}/payment").Handler(httptransport.NewServer(
			requestEndpoints.ConfirmPayment,
			decodePaymentRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// -- Queue service --------------------------------
	{
		queueEndpoints := MakeQueueEndpoints(queue, shows)

		// GetQueue
		r.Methods(http.MethodGet).Path(apiBasePath + "/shows/{id}/queue").Handler(httptransport.NewServer(
			queueEndpoints.GetQueue,
			decodeQueueRequest,
			encodeJSONResponse,
			options...,
		))
	}

	// Alive check handler
	r.Methods(http.MethodGet).Path("/alive").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Yes, I'm alive"))
	})

	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())

	return r
}

// -- Request decoders -------------------------------------------------------------------------------------------------

// decodeJSONBody decodes the request's JSON body into the target
func decodeJSONBody(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return MakeError(
			http.StatusBadRequest,
			ErrCodeIllegalJSON,
			fmt.Sprintf("Failed to decode JSON body: %v", err),
		)
	}
	return nil
}

// getStringFromPath is a helper function that gets a non-empty string from the given path variable
func getStringFromPath(varname string, r *http.Request) (string, error) {
	vars := mux.Vars(r)
	str, ok := vars[varname]
	if !ok || strings.TrimSpace(str) == "" {
		return "", MakeError(http.StatusBadRequest, ErrCodeIllegalPath, fmt.Sprintf("Missing value for '%s'", varname))
	}
	return str, nil
}

// Decodes an ID from the "id" path variable provided by GoRilla
func decodeIDFromPath(_ context.Context, r *http.Request) (interface{}, error) {
	return getStringFromPath("id", r)
}

// decodePerformerListRequest decodes the performer from the path and the search parameters "search", "limit" and
// "offset" from the query
func decodePerformerListRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	return performerListRequest{
		Search: Search{
			Pagination: paginationFromQuery(r.URL.Query()),
			Search:     r.URL.Query().Get("search"),
		},
		PerformerID: id,
	}, nil
}

// decodeShow reads a show from the request's JSON body
func decodeShow(_ context.Context, r *http.Request) (interface{}, error) {
	var show models.Show
	if err := decodeJSONBody(r, &show); err != nil {
		return nil, err
	}
	return show, nil
}

// Decodes a show from an update request where the ID of the show is in the path
func decodeShowUpdate(ctx context.Context, r *http.Request) (interface{}, error) {
	tmp, err := decodeShow(ctx, r)
	if err != nil {
		return nil, err
	}
	show := tmp.(models.Show)
	if show.ID, err = getStringFromPath("id", r); err != nil {
		return nil, err
	}
	return show, nil
}

func decodeShowStatusRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req showStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

// decodeSong reads a catalog entry from the request's JSON body
func decodeSong(_ context.Context, r *http.Request) (interface{}, error) {
	var song models.Song
	if err := decodeJSONBody(r, &song); err != nil {
		return nil, err
	}
	return song, nil
}

// Decodes a song from an update request where the ID of the song is in the path
func decodeSongUpdate(ctx context.Context, r *http.Request) (interface{}, error) {
	tmp, err := decodeSong(ctx, r)
	if err != nil {
		return nil, err
	}
	song := tmp.(models.Song)
	if song.ID, err = getStringFromPath("id", r); err != nil {
		return nil, err
	}
	return song, nil
}

// decodeNewRequest reads a song request from the JSON body and the show it is made for from the path
func decodeNewRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var nr NewRequest
	if err := decodeJSONBody(r, &nr); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	nr.ShowID = id
	return nr, nil
}

func decodeRequestStatusRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req requestStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

func decodeScheduleRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req scheduleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

func decodeRefundRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req refundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

func decodePaymentRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req paymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

// decodeQueueRequest reads the show from the path, the comma separated "status" list and the "sort" criteria from
// the query
func decodeQueueRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getStringFromPath("id", r)
	if err != nil {
		return nil, err
	}
	val := r.URL.Query()
	req := queueRequest{
		ShowID: id,
		Sort:   showqueue.Criteria(val.Get("sort")),
	}
	for _, s := range strings.Split(val.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			req.Statuses = append(req.Statuses, models.RequestStatus(s))
		}
	}
	return req, nil
}

// -- Response encoders ------------------------------------------------------------------------------------------------

// Encodes a typical JSON response
func encodeJSONResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

// Builds an error response based on the incoming error
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		panic("encodeError with nil error")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if st, ok := err.(httpStatuser); ok {
		w.WriteHeader(st.Status())
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	ret := errorResponse{
		basicResponse: basicResponse{false, nil},
		Message:       err.Error(),
		Error:         ErrCodeUnknown,
	}
	if cd, ok := err.(errorCoder); ok {
		ret.Error = cd.ErrorCode()
	}
	if db, ok := err.(dataBearer); ok {
		if data := db.Data(); data != nil {
			if err, ok := data.(error); ok {
				ret.Details = err.Error()
			} else {
				ret.Details = data
			}
		}
	}
	json.NewEncoder(w).Encode(&ret)
}

// -- Context ----------------------------------------------------------------------------------------------------------

// decodeIdentity takes over the caller's IDs resolved by the upstream auth proxy and adds them to the logger
func decodeIdentity(ctx context.Context, r *http.Request) context.Context {
	id := ctxhelper.Identity{
		RequesterID: strings.TrimSpace(r.Header.Get(headerRequesterID)),
		PerformerID: strings.TrimSpace(r.Header.Get(headerPerformerID)),
	}
	if id.RequesterID == "" && id.PerformerID == "" {
		return ctx
	}
	logger := ctxhelper.Logger(ctx)
	fields := logrus.Fields{}
	if id.RequesterID != "" {
		fields[log.FldRequester] = id.RequesterID
	}
	if id.PerformerID != "" {
		fields[log.FldPerformer] = id.PerformerID
	}
	ctx = context.WithValue(ctx, ctxhelper.KeyLogger, logger.WithFields(fields))
	return ctxhelper.WithIdentity(ctx, id)
}

func makeContextInjector(logger *logrus.Entry) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		return context.WithValue(ctx, ctxhelper.KeyLogger, logger)
	}
}
