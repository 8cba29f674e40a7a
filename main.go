package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/kardianos/osext"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"

	tipqueue "github.com/derWhity/tipqueue/internal"
	"github.com/derWhity/tipqueue/internal/admission"
	"github.com/derWhity/tipqueue/internal/ctxhelper"
	"github.com/derWhity/tipqueue/internal/database"
	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
	"github.com/derWhity/tipqueue/internal/notify"
	requestrepo "github.com/derWhity/tipqueue/internal/repos/request/sqlite"
	showrepo "github.com/derWhity/tipqueue/internal/repos/show/sqlite"
	songrepo "github.com/derWhity/tipqueue/internal/repos/song/sqlite"
)

const (
	appName    = "TipQueue"
	appVersion = "0.1.0"
	dbFile     = "tipqueue.db"
)

// Checks and tries to create the given directory recursively (or panics if this fails)
func checkAndCreateDir(path string, logger *logrus.Entry) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if e, ok := err.(*os.PathError); ok && e.Err == syscall.ENOENT {
			logger.WithField(log.FldPath, path).Info("Directory does not exist - trying to create...")
			if err = os.MkdirAll(path, os.ModePerm); err != nil {
				logger.WithError(err).Fatal("Failed to create directory")
			}
			logger.Info("Directory created successfully")
		} else {
			logger.WithError(err).Fatal("Stat has failed")
		}
	} else {
		if !fileInfo.IsDir() {
			logger.Fatalf("'%s' is not a directory. Remove the plain file if you want to continue", path)
		}
	}
}

// Creates the admission controller selected in the configuration
func makeAdmissionController(conf models.AdmissionConfig, counter admission.Counter, logger *logrus.Entry) admission.Controller {
	switch conf.Backend {
	case models.AdmissionBackendMemory:
		logger.Info("Using in-process admission counters")
		return admission.NewMemoryController(counter)
	case models.AdmissionBackendRedis:
		opts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid Redis URL")
		}
		logger.WithField("addr", opts.Addr).Info("Using Redis admission counters")
		return admission.NewRedisController(
			redis.NewClient(opts),
			counter,
			conf.KeyPrefix,
			time.Duration(conf.ReservationTimeoutSeconds)*time.Second,
			time.Duration(conf.KeyTTLSeconds)*time.Second,
		)
	}
	logger.Fatalf("Unknown admission backend '%s'", conf.Backend)
	return nil
}

func main() {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		panic(err)
	}

	configFile := flag.String(
		"config",
		filepath.Join(execDir, "config.json"),
		"The configuration file to load the application's configuration from",
	)
	flag.Parse()

	ctx := context.Background()

	// Initialize the logger
	logger := logrus.WithField(log.FldVersion, appVersion)
	logger.Infof("%s version %s is starting up...", appName, appVersion)
	ctx = context.WithValue(ctx, ctxhelper.KeyLogger, logger)

	// Load the main configuration file
	cs := tipqueue.NewConfigService(*configFile)
	if _, err := os.Stat(*configFile); os.IsNotExist(err) {
		// Nothing has been loaded yet, so this writes the plain defaults without any environment overrides
		logger.WithField(log.FldFile, *configFile).Info("No config file found. Writing the defaults")
		if err := cs.Write(ctx); err != nil {
			logger.WithError(err).Error("Cannot write default config")
		}
	}
	if err := cs.Load(ctx); err != nil {
		logger.WithError(err).Error("Cannot load config. Using defaults")
	}
	conf := cs.GetConfig(ctx)

	logger.Infof("Using '%s' as data directory", conf.DataDir)
	checkAndCreateDir(conf.DataDir, logger)

	// Set up the database connection and perform pending migrations
	logger.Info("Opening database and performing migrations...")
	db, err := database.Open(path.Join(conf.DataDir, dbFile), logger)
	if err != nil {
		logger.WithError(err).Fatal("Database setup has failed. Please check database for consistency and try again.")
	}
	defer db.Close()

	showRepo := showrepo.New(db, logger)
	songRepo := songrepo.New(db, logger)
	requestRepo := requestrepo.New(db, logger)

	ctrl := makeAdmissionController(conf.Admission, requestRepo, logger.WithField(log.FldBackend, conf.Admission.Backend))

	notifyLogger := logger.WithField(log.FldTransport, "notify")
	var sender notify.Sender = notify.NewLogSender(notifyLogger)
	if conf.Notifications.AMQPURL != "" {
		amqpSender := notify.NewAMQPSender(conf.Notifications.AMQPURL, conf.Notifications.Queue, notifyLogger)
		defer amqpSender.Close()
		sender = amqpSender
	}
	dispatcher := notify.NewDispatcher(requestRepo, sender, conf.Notifications, notifyLogger)

	showServ := tipqueue.NewShowService(showRepo, cs, logger)
	songServ := tipqueue.NewSongService(songRepo, logger)
	reqServ := tipqueue.NewRequestService(requestRepo, showRepo, songRepo, ctrl, dispatcher, cs, logger)
	queueServ := tipqueue.NewQueueService(requestRepo, showRepo, logger)

	httpLogger := logger.WithField(log.FldTransport, "HTTP")

	h := tipqueue.MakeHTTPHandler(
		showServ,
		songServ,
		reqServ,
		queueServ,
		httpLogger,
	)
	srv := &http.Server{Addr: conf.ListenAddress, Handler: h}

	g, gctx := errgroup.WithContext(ctx)

	// Listen for stop signals that will end the service
	g.Go(func() error {
		c := make(chan os.Signal, 2)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-c:
			logger.Info("Caught signal to stop. Shutting down.")
			return fmt.Errorf("%s", sig)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		httpLogger.WithField("addr", conf.ListenAddress).Info("Starting listening port")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	// Watchdog for systemd
	go func() {
		interval, err := daemon.SdWatchdogEnabled(false)
		if err != nil || interval == 0 {
			return
		}
		logger.Info("Activating systemd watchdog goroutine")
		port := conf.ListenAddress[strings.LastIndex(conf.ListenAddress, ":")+1:]
		url := fmt.Sprintf("http://127.0.0.1:%s/alive", port)
		for {
			if resp, err := http.Get(url); err == nil {
				resp.Body.Close()
				daemon.SdNotify(false, "WATCHDOG=1")
			}
			time.Sleep(interval / 3)
		}
	}()

	// Notify systemd that we are ready to go (if available)
	daemon.SdNotify(false, "READY=1")

	logger.WithError(g.Wait()).Error("Shutdown complete")
}
