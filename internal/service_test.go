package internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/admission"
	"github.com/derWhity/tipqueue/internal/database"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/repos"
	requestrepo "github.com/derWhity/tipqueue/internal/repos/request/sqlite"
	showrepo "github.com/derWhity/tipqueue/internal/repos/show/sqlite"
	songrepo "github.com/derWhity/tipqueue/internal/repos/song/sqlite"
)

// A Friday evening
var showTime = time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	sync.Mutex
	enqueued []models.Notification
}

func (d *recordingDispatcher) Enqueue(requestID string, n models.Notification) {
	d.Lock()
	defer d.Unlock()
	d.enqueued = append(d.enqueued, n)
}

func (d *recordingDispatcher) count() int {
	d.Lock()
	defer d.Unlock()
	return len(d.enqueued)
}

// Counts the admission decisions asked for
type countingController struct {
	admission.Controller
	calls int32
}

func (c *countingController) TryReserve(ctx context.Context, key admission.Key, limit uint) (*admission.Reservation, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Controller.TryReserve(ctx, key, limit)
}

func (c *countingController) reserves() int {
	return int(atomic.LoadInt32(&c.calls))
}

// Wires all services on top of a fresh in-memory database
type fixture struct {
	ctx        context.Context
	config     ConfigService
	shows      ShowService
	songs      SongService
	requests   RequestService
	queue      QueueService
	showDB     *showrepo.ShowRepo
	songDB     *songrepo.SongRepo
	requestDB  *requestrepo.RequestRepo
	admission  *countingController
	dispatcher *recordingDispatcher
}

func setup(t *testing.T) *fixture {
	return setupWith(t, nil)
}

// Like setup, but the request service stores its requests through the repository returned by wrap
func setupWith(t *testing.T, wrap func(repos.RequestRepo) repos.RequestRepo) *fixture {
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	db, err := database.OpenMemory(entry)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conf, err := models.GetDefaultConfig()
	require.NoError(t, err)
	conf.TimeZone = "UTC"
	cs, err := NewStaticConfigService(*conf)
	require.NoError(t, err)

	shows := showrepo.New(db, entry)
	songs := songrepo.New(db, entry)
	reqs := requestrepo.New(db, entry)
	ctrl := &countingController{Controller: admission.NewMemoryController(reqs)}
	dispatcher := &recordingDispatcher{}
	var serviceRepo repos.RequestRepo = reqs
	if wrap != nil {
		serviceRepo = wrap(reqs)
	}

	return &fixture{
		ctx:        context.Background(),
		config:     cs,
		shows:      NewShowService(shows, cs, entry),
		songs:      NewSongService(songs, entry),
		requests:   NewRequestService(serviceRepo, shows, songs, ctrl, dispatcher, cs, entry),
		queue:      NewQueueService(reqs, shows, entry),
		showDB:     shows,
		songDB:     songs,
		requestDB:  reqs,
		admission:  ctrl,
		dispatcher: dispatcher,
	}
}

func (f *fixture) show(t *testing.T, performer string, maxPerUser uint, requireTip bool) *models.Show {
	s, err := f.shows.Create(f.ctx, &models.Show{
		PerformerID: performer,
		Name:        "Friday Night Covers",
		Venue:       "The Blue Room",
		ScheduledAt: showTime,
		Settings: models.ShowSettings{
			MaxRequestsPerUser: maxPerUser,
			RequireTip:         requireTip,
			SuggestedTip:       decimal.NewFromInt(5),
		},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) song(t *testing.T, performer, name string, restrictions *models.Restrictions) *models.Song {
	s, err := f.songs.Create(f.ctx, &models.Song{
		PerformerID:  performer,
		Name:         name,
		Artist:       "Various",
		IsActive:     true,
		IsAvailable:  true,
		Restrictions: restrictions,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) submit(showID, requester, songID, amount string) (*models.Request, error) {
	return f.requests.Create(f.ctx, &NewRequest{
		ShowID:      showID,
		RequesterID: requester,
		SongID:      songID,
		Amount:      decimal.RequireFromString(amount),
	})
}
