package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config lists the tunable parameters of the photo map server and client.
// Each koanf key is the environment variable that overrides it.
type Config struct {
	Addr           string `koanf:"PHOTOMAP_ADDR"`
	PublicURL      string `koanf:"PHOTOMAP_PUBLIC_URL"`
	UploadsDir     string `koanf:"PHOTOMAP_UPLOADS_DIR"`
	TempDir        string `koanf:"PHOTOMAP_TEMP_DIR"`
	MaxUploadBytes int64  `koanf:"PHOTOMAP_MAX_UPLOAD_BYTES"`
	Workers        int    `koanf:"PHOTOMAP_WORKERS"`

	GeocodeURL       string        `koanf:"PHOTOMAP_GEOCODE_URL"`
	GeocodeUserAgent string        `koanf:"PHOTOMAP_GEOCODE_USER_AGENT"`
	GeocodeTimeout   time.Duration `koanf:"PHOTOMAP_GEOCODE_TIMEOUT"`
	GeocodeRate      float64       `koanf:"PHOTOMAP_GEOCODE_RATE"`
	HomeCountry      string        `koanf:"PHOTOMAP_HOME_COUNTRY"`
	JPEGQuality      int           `koanf:"PHOTOMAP_JPEG_QUALITY"`

	MongoURI        string `koanf:"PHOTOMAP_MONGO_URI"`
	MongoDatabase   string `koanf:"PHOTOMAP_MONGO_DATABASE"`
	MongoCollection string `koanf:"PHOTOMAP_MONGO_COLLECTION"`

	ServerURL string `koanf:"PHOTOMAP_SERVER_URL"`
	DBPath    string `koanf:"PHOTOMAP_DB_PATH"`

	LogLevel string `koanf:"LOG_LEVEL"`
}

const (
	envPrefix   = "PHOTOMAP_"
	logLevelKey = "LOG_LEVEL"
)

func defaultConfig() *Config {
	return &Config{
		Addr:             ":3000",
		PublicURL:        "http://localhost:3000",
		UploadsDir:       "./uploads",
		TempDir:          os.TempDir(),
		MaxUploadBytes:   200 * 1024 * 1024, // 200 MB
		Workers:          4,
		GeocodeURL:       "https://nominatim.openstreetmap.org",
		GeocodeUserAgent: "PhotoMapApp/1.0",
		GeocodeTimeout:   10 * time.Second,
		GeocodeRate:      1.0,
		HomeCountry:      "United States",
		JPEGQuality:      90,
		MongoDatabase:    "photo_map",
		MongoCollection:  "photos",
		ServerURL:        "http://localhost:3000",
		DBPath:           "photo-map.db",
		LogLevel:         "info",
	}
}

// Load reads an optional .env file, then layers environment variables
// over the defaults. Empty variables leave the default in place.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envValue keeps the variables Config knows about that carry a value.
func envValue(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	if key != logLevelKey && !strings.HasPrefix(key, envPrefix) {
		return "", nil
	}
	return key, value
}

// Validate rejects values that parse but cannot be used.
func (c Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid PHOTOMAP_MAX_UPLOAD_BYTES %d: must be positive", c.MaxUploadBytes)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid PHOTOMAP_WORKERS %d: must be positive", c.Workers)
	}
	if c.GeocodeTimeout <= 0 {
		return fmt.Errorf("invalid PHOTOMAP_GEOCODE_TIMEOUT %s: must be positive", c.GeocodeTimeout)
	}
	if c.GeocodeRate <= 0 {
		return fmt.Errorf("invalid PHOTOMAP_GEOCODE_RATE %g: must be positive", c.GeocodeRate)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("invalid PHOTOMAP_JPEG_QUALITY %d: must be between 1 and 100", c.JPEGQuality)
	}
	return nil
}
