package internal

import (
	"net/http"

	"github.com/pkg/errors"
)

const (
	// ErrCodeUnknown is the error code for unknown errors
	ErrCodeUnknown = "UNKNOWN_ERROR"
	// ErrCodeRepoError is returned when the request to a repo fails with an error
	ErrCodeRepoError = "STORAGE_QUERY_FAILED"
	// ErrCodeValidation is returned when an input fails validation
	ErrCodeValidation = "VALIDATION_FAILED"
	// ErrCodeRequiredFieldMissing is returned when at least one required field has not been populated on an incoming
	// request
	ErrCodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	// ErrCodeIllegalJSON is returned when the request did not contain a valid JSON body
	ErrCodeIllegalJSON = "ILLEGAL_JSON_REQUEST"
	// ErrCodeIllegalPath is the error that is returned when the client did not send a valid path parameter
	ErrCodeIllegalPath = "ILLEGAL_PATH"
	// ErrCodeShowNotFound is returned when an operation references a show that does not exist
	ErrCodeShowNotFound = "SHOW_NOT_FOUND"
	// ErrCodeSongNotFound is returned when a song does not exist or belongs to another performer
	ErrCodeSongNotFound = "SONG_NOT_FOUND"
	// ErrCodeRequestNotFound is returned when a song request does not exist
	ErrCodeRequestNotFound = "REQUEST_NOT_FOUND"
	// ErrCodeSongUnavailable is returned when a song may not be requested for the show's date and time
	ErrCodeSongUnavailable = "SONG_UNAVAILABLE"
	// ErrCodeAdmissionDenied is returned when the requester already holds the maximum number of active requests
	ErrCodeAdmissionDenied = "ADMISSION_DENIED"
	// ErrCodeAdmissionUnavailable is returned when the admission decision could not be made, e.g. because the counter
	// backend is unreachable
	ErrCodeAdmissionUnavailable = "ADMISSION_UNAVAILABLE"
	// ErrCodeInvalidTransition is returned when a status change is not allowed by the request lifecycle
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	// ErrCodeRefundNotAllowed is returned when a refund is requested for a request that cannot be refunded
	ErrCodeRefundNotAllowed = "REFUND_NOT_ALLOWED"
	// ErrCodeConcurrencyConflict is returned when a request has been changed concurrently and the retry failed as well
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	// ErrCodeShowNotAccepting is returned when requests are submitted for a show that is over or cancelled
	ErrCodeShowNotAccepting = "SHOW_NOT_ACCEPTING"
	// ErrCodePaymentMismatch is returned when a payment is confirmed twice with different transaction IDs
	ErrCodePaymentMismatch = "PAYMENT_MISMATCH"
	// ErrCodeNotIdentified is returned when the caller did not send the identity required for an operation
	ErrCodeNotIdentified = "NOT_IDENTIFIED"
	// ErrCodeForbidden is returned when the caller is not allowed to perform an operation on an entity
	ErrCodeForbidden = "FORBIDDEN"
)

var (
	// ErrNotIdentified is returned by endpoints that need a requester or performer identity
	ErrNotIdentified = MakeError(
		http.StatusUnauthorized,
		ErrCodeNotIdentified,
		"Caller identity is missing",
	)
	// ErrForbidden is returned when the caller does not own the entity it works on
	ErrForbidden = MakeError(
		http.StatusForbidden,
		ErrCodeForbidden,
		"Operation not allowed for this caller",
	)
)

// HTTPError is an error that contains information about the error message to return to the client
type HTTPError struct {
	message string
	code    string
	status  int
	data    interface{}
}

// MakeError creates a new HTTPError with the given contents
func MakeError(status int, code, message string) *HTTPError {
	return MakeErrorWithData(status, code, message, nil)
}

// MakeErrorWithData creates a new HTTPError with the given contents and an additional data element
func MakeErrorWithData(status int, code, message string, data interface{}) *HTTPError {
	return &HTTPError{message, code, status, data}
}

// Error implements the errorer interface
func (e *HTTPError) Error() string {
	return e.message
}

// Status returns the HTTP status that should be returned
func (e *HTTPError) Status() int {
	return e.status
}

// ErrorCode returns the machine-readable error code
func (e *HTTPError) ErrorCode() string {
	return e.code
}

// Data returns additional data about the error
func (e *HTTPError) Data() interface{} {
	return e.data
}

// IsErrorCode checks if the cause of the given error is an HTTPError carrying the given code
func IsErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if e, ok := errors.Cause(err).(*HTTPError); ok {
		return e.code == code
	}
	return false
}

// -- Error constructors -----------------------------------------------------------------------------------------------

func validationError(message string, data interface{}) *HTTPError {
	return MakeErrorWithData(http.StatusBadRequest, ErrCodeValidation, message, data)
}

func repoError(err error) *HTTPError {
	return MakeError(http.StatusInternalServerError, ErrCodeRepoError, err.Error())
}

func showNotFound(id string) *HTTPError {
	return MakeErrorWithData(http.StatusNotFound, ErrCodeShowNotFound, "Show not found", map[string]string{"id": id})
}

func songNotFound(id string) *HTTPError {
	return MakeErrorWithData(http.StatusNotFound, ErrCodeSongNotFound, "Song not found", map[string]string{"id": id})
}

func requestNotFound(id string) *HTTPError {
	return MakeErrorWithData(
		http.StatusNotFound,
		ErrCodeRequestNotFound,
		"Song request not found",
		map[string]string{"id": id},
	)
}

func concurrencyConflict(id string) *HTTPError {
	return MakeErrorWithData(
		http.StatusConflict,
		ErrCodeConcurrencyConflict,
		"The request has been modified concurrently",
		map[string]string{"id": id},
	)
}
