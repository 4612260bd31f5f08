package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

// Default dataset configuration, written to the config file when absent.
var defaultFileConfig = fileConfig{
	Area: [4]float64{60, -130, 20, -60},
	ERA5Variables: []string{
		"mean_sea_level_pressure",
		"10m_u_component_of_wind",
		"10m_v_component_of_wind",
		"sea_surface_temperature",
		"total_cloud_cover",
		"2m_temperature",
	},
	Datasets: map[string]fileDataset{
		"era5": {
			URL:       "reanalysis-era5-single-levels",
			Client:    "cdsapi",
			Format:    "netcdf",
			Variables: "era5_variables",
			Area:      "area",
		},
		"modis_snow": {
			URL:      "https://e4ftl01.cr.usgs.gov/MOLT/MOD10A1.061/{year}.{month:02d}.01/",
			Format:   "hdf",
			Variable: "NDSI_Snow_Cover",
		},
		"goes16": {
			URL:      "s3://noaa-goes16/ABI-L1b-RadF/{year}/{day_of_year}/00/",
			Format:   "netcdf",
			Variable: "Rad",
		},
		"gpm": {
			URL:      "https://jsimpson.pps.eosdis.nasa.gov/imerg/gis/early/{year}/{month:02d}/",
			Format:   "hdf5",
			Variable: "precipitationCal",
		},
	},
}

// fileConfig is the on-disk JSON configuration shape.
type fileConfig struct {
	Area          [4]float64             `json:"area"` // [N, W, S, E]
	ERA5Variables []string               `json:"era5_variables"`
	Datasets      map[string]fileDataset `json:"datasets"`
}

type fileDataset struct {
	URL      string `json:"url"`
	Client   string `json:"client,omitempty"`
	Format   string `json:"format"`
	Variable string `json:"variable,omitempty"`
	// Variables names another top-level list ("era5_variables") instead of a
	// single variable.
	Variables string `json:"variables,omitempty"`
	Area      string `json:"area,omitempty"`
}

// Config holds all service settings: dataset descriptors from the JSON config
// file and operational settings from environment variables.
type Config struct {
	Area          domain.BoundingBox
	ERA5Variables []string
	Datasets      map[string]domain.DatasetSpec

	DataDir string
	LogDir  string

	LogLevel  string
	LogFormat string
	HTTPAddr  string // empty disables the run-status server

	CDSAPIURL string
	CDSAPIKey string // "<UID>:<APIKEY>"

	EarthdataUser string
	EarthdataPass string

	KafkaBrokers []string // empty disables the Kafka notifier sink
	NotifyTopic  string

	GoesChannel string

	DownloadChunkSize int64
	DownloadThreads   int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	SuccessRateThreshold float64
}

var cdsKeyPattern = regexp.MustCompile(`^\d+:.+$`)

// Load reads the JSON config file (writing defaults first if it does not
// exist) and merges operational settings from environment variables.
func Load(path string) (*Config, error) {
	fc, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Area:          domain.BoundingBox(fc.Area),
		ERA5Variables: fc.ERA5Variables,
		Datasets:      make(map[string]domain.DatasetSpec, len(fc.Datasets)),

		DataDir: envOrDefault("DATA_DIR", "./data"),
		LogDir:  envOrDefault("LOG_DIR", "./logs"),

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:  os.Getenv("HTTP_ADDR"),

		CDSAPIURL: envOrDefault("CDS_API_URL", "https://cds.climate.copernicus.eu/api"),
		CDSAPIKey: os.Getenv("CDS_API_KEY"),

		EarthdataUser: os.Getenv("EARTHDATA_USER"),
		EarthdataPass: os.Getenv("EARTHDATA_PASS"),

		NotifyTopic: envOrDefault("NOTIFY_TOPIC", "acquisition-events"),

		GoesChannel: envOrDefault("GOES_CHANNEL", "C13"),

		DownloadChunkSize: envInt64("DOWNLOAD_CHUNK_SIZE", 8192),
		DownloadThreads:   envInt("DOWNLOAD_THREADS", 4),

		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", 4*time.Second),
		RetryMaxDelay:    envDuration("RETRY_MAX_DELAY", 10*time.Second),

		SuccessRateThreshold: envFloat("SUCCESS_RATE_THRESHOLD", 0.8),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.CDSAPIKey != "" && !cdsKeyPattern.MatchString(cfg.CDSAPIKey) {
		return nil, errors.New("invalid CDS_API_KEY: expected <UID>:<APIKEY> with numeric UID")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DownloadThreads < 1 {
		return nil, errors.New("DOWNLOAD_THREADS must be at least 1")
	}

	for id, fd := range fc.Datasets {
		spec, err := resolveDataset(id, fd, fc)
		if err != nil {
			return nil, err
		}
		cfg.Datasets[id] = spec
	}
	if len(cfg.Datasets) == 0 {
		return nil, errors.New("no datasets configured")
	}

	return cfg, nil
}

// DatasetIDs returns the configured dataset identifiers.
func (c *Config) DatasetIDs() []string {
	ids := make([]string, 0, len(c.Datasets))
	for id := range c.Datasets {
		ids = append(ids, id)
	}
	return ids
}

// MetricsFile is the run-level JSON metrics file path.
func (c *Config) MetricsFile() string {
	return filepath.Join(c.LogDir, "download_metrics.json")
}

// TransactionLogFile is the transaction log file path.
func (c *Config) TransactionLogFile() string {
	return filepath.Join(c.LogDir, "transaction_log.json")
}

// CacheLogFile is the content-addressed cache persistence path.
func (c *Config) CacheLogFile() string {
	return filepath.Join(c.LogDir, "cache_log.json")
}

func loadFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return writeDefaults(path)
	}
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func writeDefaults(path string) (fileConfig, error) {
	data, err := json.MarshalIndent(defaultFileConfig, "", "  ")
	if err != nil {
		return fileConfig{}, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fileConfig{}, fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fileConfig{}, fmt.Errorf("write default config %s: %w", path, err)
	}
	return defaultFileConfig, nil
}

func resolveDataset(id string, fd fileDataset, fc fileConfig) (domain.DatasetSpec, error) {
	spec := domain.DatasetSpec{
		ID:     id,
		URL:    fd.URL,
		Client: fd.Client,
		Format: fd.Format,
	}

	if spec.Client == "" {
		if strings.HasPrefix(fd.URL, "s3://") {
			spec.Client = "s3"
		} else {
			spec.Client = "http"
		}
	}

	switch {
	case fd.Variables != "":
		if fd.Variables != "era5_variables" {
			return domain.DatasetSpec{}, fmt.Errorf("dataset %s: unknown variable list %q", id, fd.Variables)
		}
		spec.Variables = fc.ERA5Variables
	case fd.Variable != "":
		spec.Variables = []string{fd.Variable}
	}

	if spec.URL == "" {
		return domain.DatasetSpec{}, fmt.Errorf("dataset %s: url is required", id)
	}
	if spec.Format == "" {
		return domain.DatasetSpec{}, fmt.Errorf("dataset %s: format is required", id)
	}
	return spec, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
