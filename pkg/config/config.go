package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Config struct {
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5" validate:"min=1"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5" validate:"min=0"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`

	LibraryPath    string `koanf:"library_path" validate:"required"`
	CacheDir       string `koanf:"cache_dir" default:"./tmp/cache"`
	GenresFilePath string `koanf:"genres_file_path"`
	MaxFileSize    int64  `koanf:"max_file_size" default:"104857600" validate:"min=1"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"8181" validate:"min=1,max=65535"`
	ServerName string `koanf:"server_name" default:"ShelfOPDS"`

	BatchSize       int           `koanf:"batch_size" default:"500" validate:"min=1"`
	WatchBatchSize  int           `koanf:"watch_batch_size" default:"10" validate:"min=1"`
	WatchFlushDelay time.Duration `koanf:"watch_flush_delay" default:"2s"`
	WatchEnabled    bool          `koanf:"watch_enabled" default:"true"`
	ScanOnStartup   bool          `koanf:"scan_on_startup" default:"true"`

	PageSize        int    `koanf:"page_size" default:"50" validate:"min=1,max=1000"`
	NewBooksDays    int    `koanf:"new_books_days" default:"7" validate:"min=1"`
	SortOrder       string `koanf:"sort_order" default:"latin" validate:"oneof=latin cyrillic"`
	DisplayLanguage string `koanf:"display_language" default:"en" validate:"oneof=en ru"`
	SplitThreshold  int    `koanf:"split_threshold" default:"100" validate:"min=0"`
}

const configFileENV = "CONFIG_FILE"

const defaultConfigFile = "/config/shelfopds.yaml"

// New loads the configuration. Values are layered: struct defaults, then the
// YAML file named by CONFIG_FILE (skipped when it does not exist), then
// environment variables named after the upper-cased yaml keys.
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	known := knownKeys()
	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config value")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a valid configuration backed by an in-memory database.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.LibraryPath = os.TempDir()
	cfg.ServerHost = "127.0.0.1"
	cfg.WatchFlushDelay = 50 * time.Millisecond
	return cfg
}

func (cfg *Config) validate() error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithStack(err)
	}

	missing := []string{}
	invalid := []string{}
	for _, fe := range verrs {
		key := toSnakeCase(fe.StructField())
		desc := strings.ToUpper(key) + " (" + key + ")"
		if fe.Tag() == "required" {
			missing = append(missing, desc)
		} else {
			invalid = append(invalid, desc+" must satisfy "+fe.Tag()+"="+fe.Param())
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return errors.Errorf("invalid config: %s", strings.Join(invalid, ", "))
}

func toSnakeCase(field string) string {
	return strcase.ToSnake(field)
}

func knownKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" {
			keys[tag] = struct{}{}
		}
	}
	return keys
}
