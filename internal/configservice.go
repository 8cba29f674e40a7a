package internal

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/ctxhelper"
	"github.com/derWhity/tipqueue/internal/log"
	"github.com/derWhity/tipqueue/internal/models"
)

// Environment variables overriding values of the configuration file
const (
	EnvListenAddress    = "TIPQUEUE_LISTEN_ADDRESS"
	EnvDataDir          = "TIPQUEUE_DATA_DIR"
	EnvTimeZone         = "TIPQUEUE_TIMEZONE"
	EnvAdmissionBackend = "TIPQUEUE_ADMISSION_BACKEND"
	EnvRedisURL         = "REDIS_URL"
	EnvAMQPURL          = "AMQP_URL"
)

// ConfigService gives access to the application's configuration
type ConfigService interface {
	// Load loads the application config from its default file location
	Load(ctx context.Context) error
	// LoadFromFile loads the configuration from the given JSON file and returns it
	LoadFromFile(ctx context.Context, filename string) error
	// Write writes the current application configuration to the default file name
	Write(ctx context.Context) error
	// WriteToFile writes the current application configuration to a JSON file
	WriteToFile(ctx context.Context, filename string) error
	// GetConfig retuns the current application configuration
	GetConfig(ctx context.Context) models.AppConfig
	// Location returns the time zone show times are evaluated in
	Location(ctx context.Context) *time.Location
}

// -- ConfigService implementation -------------------------------------------------------------------------------------

type configService struct {
	sync.RWMutex
	configFilename string
	config         *models.AppConfig
	location       *time.Location
}

// NewConfigService creates a new configuration service instance with the given default file name
func NewConfigService(configFilename string) ConfigService {
	return &configService{
		configFilename: configFilename,
	}
}

// NewStaticConfigService creates a configuration service serving the given configuration without any file
func NewStaticConfigService(conf models.AppConfig) (ConfigService, error) {
	loc, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return nil, errors.Wrapf(err, "NewStaticConfigService: unknown time zone '%s'", conf.TimeZone)
	}
	return &configService{config: &conf, location: loc}, nil
}

// Load loads the application config from its default file location
func (s *configService) Load(ctx context.Context) error {
	return s.LoadFromFile(ctx, s.configFilename)
}

// Overrides configuration values with the ones set in the environment. A .env file in the working directory is
// loaded first; variables already set in the environment win.
func applyEnv(ctx context.Context, conf *models.AppConfig) {
	logger := ctxhelper.Logger(ctx)
	if err := godotenv.Load(); err == nil {
		logger.WithField(log.FldFile, ".env").Info("Loaded environment file")
	}
	overrides := map[string]*string{
		EnvListenAddress:    &conf.ListenAddress,
		EnvDataDir:          &conf.DataDir,
		EnvTimeZone:         &conf.TimeZone,
		EnvAdmissionBackend: &conf.Admission.Backend,
		EnvRedisURL:         &conf.Admission.RedisURL,
		EnvAMQPURL:          &conf.Notifications.AMQPURL,
	}
	for name, target := range overrides {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			logger.WithField("env", name).Debug("Configuration value overridden by environment")
			*target = value
		}
	}
}

// LoadFromFile loads the configuration from the given JSON file and returns it. Environment overrides are applied
// even if the file cannot be read.
func (s *configService) LoadFromFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Loading configuration file")
	conf, err := models.GetDefaultConfig()
	if err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to create default config")
	}
	var fileErr error
	if f, err := os.Open(filename); err != nil {
		fileErr = errors.Wrap(err, "LoadFromFile: cannot load configuration file")
	} else {
		defer f.Close()
		if err = json.NewDecoder(f).Decode(&conf); err != nil {
			return errors.Wrap(err, "LoadFromFile: Failed to decode configuration file")
		}
	}
	applyEnv(ctx, conf)
	loc, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return errors.Wrapf(err, "LoadFromFile: unknown time zone '%s'", conf.TimeZone)
	}
	s.Lock()
	s.config = conf
	s.location = loc
	s.Unlock()
	return fileErr
}

// Write writes the current application configuration to the default file name
func (s *configService) Write(ctx context.Context) error {
	return s.WriteToFile(ctx, s.configFilename)
}

// WriteToFile writes the current application configuration to a JSON file
func (s *configService) WriteToFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Writing configuration file")
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "WriteToFile: Cannot open configuration file '%s' to write to", filename)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	conf := s.GetConfig(ctx)
	if err := enc.Encode(&conf); err != nil {
		return errors.Wrap(err, "WriteToFile: Failed to serialize configuration data")
	}
	return nil
}

// GetConfig retuns the current application configuration
func (s *configService) GetConfig(ctx context.Context) models.AppConfig {
	s.RLock()
	defer s.RUnlock()
	var ret models.AppConfig
	if s.config != nil {
		ret = *s.config
	} else {
		if tmp, err := models.GetDefaultConfig(); err == nil {
			ret = *tmp
		}
	}
	return ret
}

// Location returns the time zone show times are evaluated in
func (s *configService) Location(ctx context.Context) *time.Location {
	s.RLock()
	defer s.RUnlock()
	if s.location != nil {
		return s.location
	}
	return time.Local
}
