package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingKey = errors.New("missing required setting")

// DefaultCities is the crawl rotation used when CRAWL_CITIES is unset.
var DefaultCities = []string{
	"New York, NY", "Los Angeles, CA", "Chicago, IL", "Houston, TX", "Phoenix, AZ",
	"Philadelphia, PA", "San Antonio, TX", "San Diego, CA", "Dallas, TX", "San Jose, CA",
	"Austin, TX", "Jacksonville, FL", "Fort Worth, TX", "Columbus, OH", "Charlotte, NC",
	"San Francisco, CA", "Indianapolis, IN", "Seattle, WA", "Denver, CO", "Boston, MA",
}

type Config struct {
	Crawler   CrawlerConfig
	Keys      APIKeys
	Storage   StorageConfig
	Redis     RedisConfig
	S3        S3Config
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Log       LogConfig
	Sources   map[string]*SourceConfig
	WalkScore SourceConfig
}

type CrawlerConfig struct {
	Cities          []string
	PagesPerSource  int
	RecordDelay     time.Duration
	CityDelay       time.Duration
	ErrorDelay      time.Duration
	ProgressBackend string // file or sqlite
	ProgressFile    string
}

type APIKeys struct {
	Attom       string
	Rentcast    string
	OxylabsUser string
	OxylabsPass string
	Datafiniti  string
	WalkScore   string
}

type StorageConfig struct {
	Sink        string // postgres, sqlite or http
	DatabaseURL string
	DBPath      string
	SinkURL     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type HTTPConfig struct {
	Addr     string
	ProxyURL string
}

type SchedulerConfig struct {
	Cron             string
	RunOnStart       bool // with Cron, run one pass right away
	BackfillInterval time.Duration
	BackfillBatch    int
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// SourceConfig describes one provider endpoint and its rate limit channel.
type SourceConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Endpoint  string          `yaml:"endpoint"`
	PageSize  int             `yaml:"page_size"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Capacity int           `yaml:"capacity"`
	Window   time.Duration `yaml:"window"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Crawler: CrawlerConfig{
			Cities:          getEnvList("CRAWL_CITIES", DefaultCities),
			PagesPerSource:  getEnvInt("PAGES_PER_SOURCE", 3),
			RecordDelay:     getEnvDuration("RECORD_DELAY", time.Second),
			CityDelay:       getEnvDuration("CITY_DELAY", 5*time.Second),
			ErrorDelay:      getEnvDuration("ERROR_DELAY", 10*time.Second),
			ProgressBackend: getEnv("PROGRESS_BACKEND", "file"),
			ProgressFile:    getEnv("PROGRESS_FILE", "api_progress.json"),
		},
		Keys: APIKeys{
			Attom:       os.Getenv("ATTOM_API_KEY"),
			Rentcast:    os.Getenv("RENTCAST_API_KEY"),
			OxylabsUser: os.Getenv("OXYLABS_USER"),
			OxylabsPass: os.Getenv("OXYLABS_PASS"),
			Datafiniti:  os.Getenv("DATAFINITI_API_KEY"),
			WalkScore:   os.Getenv("WALK_SCORE_API_KEY"),
		},
		Storage: StorageConfig{
			Sink:        getEnv("SINK", "sqlite"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			DBPath:      getEnv("DB_PATH", "flipr.db"),
			SinkURL:     os.Getenv("SINK_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		HTTP: HTTPConfig{
			Addr:     getEnv("HTTP_ADDR", ":5001"),
			ProxyURL: os.Getenv("HTTP_PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:             os.Getenv("CRAWL_CRON"),
			RunOnStart:       getEnvBool("CRAWL_RUN_ON_START", false),
			BackfillInterval: getEnvDuration("BACKFILL_INTERVAL", 10*time.Minute),
			BackfillBatch:    getEnvInt("BACKFILL_BATCH", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", "flipr.log"),
		},
		Sources: DefaultSources(),
		WalkScore: SourceConfig{
			ID:        "walkscore",
			Name:      "Walk Score",
			Endpoint:  "http://api.walkscore.com/score",
			RateLimit: RateLimitConfig{Capacity: 5, Window: time.Minute},
		},
	}

	if err := cfg.loadSourceConfigs(getEnv("SOURCES_DIR", "config/sources")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultSources returns the built-in provider settings. YAML files override them per ID.
func DefaultSources() map[string]*SourceConfig {
	perMinute := RateLimitConfig{Capacity: 5, Window: time.Minute}
	return map[string]*SourceConfig{
		"attom": {
			ID:        "attom",
			Name:      "ATTOM",
			Endpoint:  "https://api.gateway.attomdata.com/propertyapi/v1.0.0/property/address",
			PageSize:  50,
			RateLimit: perMinute,
		},
		"rentcast": {
			ID:        "rentcast",
			Name:      "Rentcast",
			Endpoint:  "https://api.rentcast.io/v1/properties",
			PageSize:  50,
			RateLimit: perMinute,
		},
		"redfin": {
			ID:        "redfin",
			Name:      "Redfin (Oxylabs)",
			Endpoint:  "https://realtime.oxylabs.io/v1/queries",
			RateLimit: perMinute,
		},
		"datafiniti": {
			ID:        "datafiniti",
			Name:      "Datafiniti",
			Endpoint:  "https://api.datafiniti.co/v4/properties/search",
			PageSize:  25,
			RateLimit: perMinute,
		},
	}
}

func (c *Config) loadSourceConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if src.ID == "" {
			return fmt.Errorf("%s: source id is empty", path)
		}

		if src.ID == c.WalkScore.ID {
			mergeSource(&c.WalkScore, &src)
			continue
		}
		if existing, ok := c.Sources[src.ID]; ok {
			mergeSource(existing, &src)
		} else {
			c.Sources[src.ID] = &src
		}
	}

	return nil
}

func mergeSource(dst, src *SourceConfig) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.PageSize > 0 {
		dst.PageSize = src.PageSize
	}
	if src.RateLimit.Capacity > 0 {
		dst.RateLimit.Capacity = src.RateLimit.Capacity
	}
	if src.RateLimit.Window > 0 {
		dst.RateLimit.Window = src.RateLimit.Window
	}
}

// Validate checks the settings the selected sink needs.
func (c *Config) Validate() error {
	switch c.Storage.Sink {
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL: %w", ErrMissingKey)
		}
	case "http":
		if c.Storage.SinkURL == "" {
			return fmt.Errorf("SINK_URL: %w", ErrMissingKey)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown sink %q", c.Storage.Sink)
	}
	switch c.Crawler.ProgressBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown progress backend %q", c.Crawler.ProgressBackend)
	}
	return nil
}

// MissingKeys lists provider credentials that are unset. Those providers will return errors.
func (c *Config) MissingKeys() []string {
	var missing []string
	check := map[string]string{
		"ATTOM_API_KEY":      c.Keys.Attom,
		"RENTCAST_API_KEY":   c.Keys.Rentcast,
		"OXYLABS_USER":       c.Keys.OxylabsUser,
		"OXYLABS_PASS":       c.Keys.OxylabsPass,
		"DATAFINITI_API_KEY": c.Keys.Datafiniti,
		"WALK_SCORE_API_KEY": c.Keys.WalkScore,
	}
	for _, key := range []string{"ATTOM_API_KEY", "RENTCAST_API_KEY", "OXYLABS_USER", "OXYLABS_PASS", "DATAFINITI_API_KEY", "WALK_SCORE_API_KEY"} {
		if check[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList splits on ";" since city names contain commas.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(val, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
