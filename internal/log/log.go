package log

const (
	// FldFile is the name of the log field for storing file name information
	FldFile = "file"
	// FldPath is the name of the log field for storing directory paths
	FldPath = "path"
	// FldTransport is the name of the log field for storing a transport name
	FldTransport = "transport"
	// FldVersion is the version number of the application
	FldVersion = "ver"
	// FldID is the ID of an entity used in the log entry
	FldID = "id"
	// FldShow is the ID of the show a log entry refers to
	FldShow = "show"
	// FldSong is the ID of the catalog song a log entry refers to
	FldSong = "song"
	// FldRequest is the ID of the song request a log entry refers to
	FldRequest = "request"
	// FldRequester is the ID of the fan that submitted a request
	FldRequester = "requester"
	// FldPerformer is the ID of the performer owning a show or song
	FldPerformer = "performer"
	// FldStatus is a request or show status
	FldStatus = "status"
	// FldFromStatus is the status a transition started from
	FldFromStatus = "from"
	// FldNotification is the ID of a notification record
	FldNotification = "notification"
	// FldBackend names the admission backend in use
	FldBackend = "backend"
	// FldAttempt is the attempt number of a retried operation
	FldAttempt = "attempt"
	// FldSearch is a search term used in a search
	FldSearch = "search"
	// FldOffset is the requested offset value in a search
	FldOffset = "offset"
	// FldLimit is the requested result limit in a search
	FldLimit = "limit"
)
