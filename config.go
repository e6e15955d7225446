package offlinecache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/0ri0nRo/offline-cache/cache"
	"gopkg.in/yaml.v3"
)

// Storage providers selectable in the config file.
const (
	ProviderSQLite  = "sqlite"
	ProviderLevelDB = "leveldb"
	ProviderMemory  = "memory"
	ProviderMinio   = "minio"
)

// Defaults of the config file.
const (
	DefaultPort       = 8080
	DefaultGeneration = "smart-home-v1"
	DefaultDBFile     = "cache.db"
)

// DefaultPrecache are the static resources stored at install time.
var DefaultPrecache = []string{"/", "/static/favicon.ico"}

// FileConfig is the YAML configuration of the offline-cache binary.
type FileConfig struct {
	Server struct {
		Port int `yaml:"port"`
		// Origin is the dashboard backend, i.e. the page's own origin.
		Origin string `yaml:"origin"`
		// Host overrides the Host header and TLS server name sent to the origin.
		Host string `yaml:"host"`
	} `yaml:"server"`

	Cache struct {
		Generation           string   `yaml:"generation"`
		Precache             []string `yaml:"precache"`
		APIMarkers           []string `yaml:"apiMarkers"`
		Bypass               []string `yaml:"bypass"`
		FetchTimeout         string   `yaml:"fetchTimeout"`
		SkipWaitingOnInstall *bool    `yaml:"skipWaitingOnInstall"`
	} `yaml:"cache"`

	Storage StorageConfig `yaml:"storage"`

	// compiled
	originURL    *url.URL
	fetchTimeout time.Duration
}

// StorageConfig selects and configures the cache storage provider.
type StorageConfig struct {
	Provider string            `yaml:"provider"`
	Path     string            `yaml:"path"`
	Minio    cache.MinioConfig `yaml:"minio"`
}

// LoadConfig reads and validates the config file.
func LoadConfig(path string) (FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	return ParseConfig(b)
}

// ParseConfig parses and validates a YAML config, filling in defaults.
func ParseConfig(b []byte) (FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, cfg.Validate()
}

// Validate fills in defaults and checks the values.
// It must be called again after changing the config, e.g. from flags.
func (cfg *FileConfig) Validate() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	origin, err := url.Parse(strings.TrimRight(cfg.Server.Origin, "/"))
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("server.origin: unsupported scheme %q", origin.Scheme)
	}
	if origin.Path != "" {
		return fmt.Errorf("server.origin: origins with paths are not supported")
	}
	cfg.originURL = origin

	if cfg.Cache.Generation == "" {
		cfg.Cache.Generation = DefaultGeneration
	}
	if cfg.Cache.Precache == nil {
		cfg.Cache.Precache = append([]string{}, DefaultPrecache...)
	}
	if cfg.Cache.SkipWaitingOnInstall == nil {
		skip := true
		cfg.Cache.SkipWaitingOnInstall = &skip
	}
	cfg.fetchTimeout = DefaultFetchTimeout
	if cfg.Cache.FetchTimeout != "" {
		d, err := time.ParseDuration(cfg.Cache.FetchTimeout)
		if err != nil {
			return fmt.Errorf("cache.fetchTimeout: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("cache.fetchTimeout: must not be negative")
		}
		cfg.fetchTimeout = d
	}

	switch cfg.Storage.Provider {
	case "":
		cfg.Storage.Provider = ProviderSQLite
		fallthrough
	case ProviderSQLite, ProviderLevelDB:
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = DefaultDBFile
		}
	case ProviderMemory:
	case ProviderMinio:
		if cfg.Storage.Minio.Endpoint == "" || cfg.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio: endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("storage.provider: unknown provider %q", cfg.Storage.Provider)
	}
	return nil
}

// OriginURL returns the parsed origin. Only valid after Validate.
func (cfg FileConfig) OriginURL() *url.URL {
	return cfg.originURL
}

// FetchTimeout returns the parsed fetch timeout. Only valid after Validate.
func (cfg FileConfig) FetchTimeout() time.Duration {
	return cfg.fetchTimeout
}

// ServiceConfig converts the file config into a service config.
func (cfg FileConfig) ServiceConfig(storage *cache.Storage) Config {
	return Config{
		Origin:               *cfg.originURL,
		OriginHost:           cfg.Server.Host,
		Storage:              storage,
		Generation:           cfg.Cache.Generation,
		Precache:             cfg.Cache.Precache,
		APIMarkers:           cfg.Cache.APIMarkers,
		Bypass:               cfg.Cache.Bypass,
		FetchTimeout:         cfg.fetchTimeout,
		DisableFetchTimeout:  cfg.fetchTimeout == 0,
		SkipWaitingOnInstall: *cfg.Cache.SkipWaitingOnInstall,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStorage creates the configured storage provider.
// The returned closer releases the provider's resources.
func OpenStorage(ctx context.Context, cfg StorageConfig) (*cache.Storage, io.Closer, error) {
	switch cfg.Provider {
	case ProviderSQLite:
		p, err := cache.NewSQLiteProvider(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return cache.New(p), p, nil
	case ProviderLevelDB:
		p, err := cache.NewLevelDBProvider(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return cache.New(p), p, nil
	case ProviderMemory:
		return cache.New(cache.NewMemoryProvider()), nopCloser{}, nil
	case ProviderMinio:
		p, err := cache.NewMinioProvider(ctx, cfg.Minio)
		if err != nil {
			return nil, nil, fmt.Errorf("open minio %s: %w", cfg.Minio.Endpoint, err)
		}
		return cache.New(p), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
}
