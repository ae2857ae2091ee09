package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the monitoring service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AppDynamics AppDynamicsConfig `yaml:"appdynamics"`
	OTel        OTelConfig        `yaml:"otel"`
	Mongo       MongoConfig       `yaml:"mongo"`
	Collector   CollectorConfig   `yaml:"collector"`
	Retention   RetentionConfig   `yaml:"retention"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the HTTP API and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// AppDynamicsConfig configures the controller OAuth2 client. The integration
// is considered unconfigured while ClientID or ClientSecret is empty.
type AppDynamicsConfig struct {
	ControllerURL   string        `yaml:"controllerURL"`
	ClientID        string        `yaml:"clientID"`
	ClientSecret    string        `yaml:"clientSecret"`
	AccountName     string        `yaml:"accountName"`
	ApplicationName string        `yaml:"applicationName"`
	Scope           string        `yaml:"scope"`
	TokenPath       string        `yaml:"tokenPath"`
	Timeout         time.Duration `yaml:"timeout"`
	ExpiryBuffer    time.Duration `yaml:"expiryBuffer"`
	RatePerMinute   int           `yaml:"ratePerMinute"`
	MaxRetries      int           `yaml:"maxRetries"`
}

// Configured reports whether the controller credentials are present.
func (c AppDynamicsConfig) Configured() bool {
	return c.ControllerURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// OTelConfig configures the trace collector query endpoint.
type OTelConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MongoConfig configures the document store.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
}

// CollectorConfig controls the scheduled collection cadences and pool size.
type CollectorConfig struct {
	Enabled                     bool          `yaml:"enabled"`
	Workers                     int           `yaml:"workers"`
	BusinessTransactionInterval time.Duration `yaml:"businessTransactionInterval"`
	ErrorSnapshotInterval       time.Duration `yaml:"errorSnapshotInterval"`
	PerformanceMetricInterval   time.Duration `yaml:"performanceMetricInterval"`
	HealthViolationInterval     time.Duration `yaml:"healthViolationInterval"`
	TokenMaintenanceInterval    time.Duration `yaml:"tokenMaintenanceInterval"`
	ComprehensiveInterval       time.Duration `yaml:"comprehensiveInterval"`
	RetentionSweepInterval      time.Duration `yaml:"retentionSweepInterval"`
	TraceCollectionInterval     time.Duration `yaml:"traceCollectionInterval"`
	MinConfidenceForFixProposal float64       `yaml:"minConfidenceForFixProposal"`
}

// RetentionConfig bounds how long stored documents live.
type RetentionConfig struct {
	Events time.Duration `yaml:"events"`
	Fixes  time.Duration `yaml:"fixes"`
	Audit  time.Duration `yaml:"audit"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of hot query results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	StatsTTL     time.Duration `yaml:"statsTTL"`
	PatternsTTL  time.Duration `yaml:"patternsTTL"`
	HealthTTL    time.Duration `yaml:"healthTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MONITORING_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8090",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		AppDynamics: AppDynamicsConfig{
			TokenPath:     "/controller/api/oauth/access_token",
			Scope:         "read",
			Timeout:       30 * time.Second,
			ExpiryBuffer:  5 * time.Minute,
			RatePerMinute: 100,
			MaxRetries:    3,
		},
		OTel: OTelConfig{Timeout: 10 * time.Second},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "monitoring",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   5 * time.Second,
		},
		Collector: CollectorConfig{
			Enabled:                     true,
			Workers:                     5,
			BusinessTransactionInterval: time.Minute,
			ErrorSnapshotInterval:       30 * time.Second,
			PerformanceMetricInterval:   time.Minute,
			HealthViolationInterval:     30 * time.Second,
			TokenMaintenanceInterval:    5 * time.Minute,
			ComprehensiveInterval:       5 * time.Minute,
			RetentionSweepInterval:      time.Hour,
			TraceCollectionInterval:     time.Minute,
			MinConfidenceForFixProposal: 0.8,
		},
		Retention: RetentionConfig{
			Events: 30 * 24 * time.Hour,
			Fixes:  90 * 24 * time.Hour,
			Audit:  90 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			StatsTTL:     30 * time.Second,
			PatternsTTL:  time.Minute,
			HealthTTL:    15 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MONITORING_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MONITORING_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("APPDYNAMICS_CONTROLLER_URL"); v != "" {
		cfg.AppDynamics.ControllerURL = v
	}
	if v := os.Getenv("APPDYNAMICS_CLIENT_ID"); v != "" {
		cfg.AppDynamics.ClientID = v
	}
	if v := os.Getenv("APPDYNAMICS_CLIENT_SECRET"); v != "" {
		cfg.AppDynamics.ClientSecret = v
	}
	if v := os.Getenv("APPDYNAMICS_ACCOUNT_NAME"); v != "" {
		cfg.AppDynamics.AccountName = v
	}
	if v := os.Getenv("APPDYNAMICS_APPLICATION_NAME"); v != "" {
		cfg.AppDynamics.ApplicationName = v
	}
	if v := os.Getenv("OTEL_COLLECTOR_ENDPOINT"); v != "" {
		cfg.OTel.Endpoint = v
	}
	if v := os.Getenv("MONITORING_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONITORING_MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("MONITORING_COLLECTOR_ENABLED"); v != "" {
		cfg.Collector.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MONITORING_COLLECTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Collector.Workers = n
		}
	}
	if v := os.Getenv("MONITORING_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MONITORING_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MONITORING_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MONITORING_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MONITORING_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MONITORING_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MONITORING_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MONITORING_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	for _, ov := range []struct {
		env    string
		target *time.Duration
	}{
		{"MONITORING_BT_INTERVAL", &cfg.Collector.BusinessTransactionInterval},
		{"MONITORING_ERROR_SNAPSHOT_INTERVAL", &cfg.Collector.ErrorSnapshotInterval},
		{"MONITORING_PERF_METRIC_INTERVAL", &cfg.Collector.PerformanceMetricInterval},
		{"MONITORING_HEALTH_VIOLATION_INTERVAL", &cfg.Collector.HealthViolationInterval},
		{"MONITORING_TOKEN_MAINTENANCE_INTERVAL", &cfg.Collector.TokenMaintenanceInterval},
		{"MONITORING_COMPREHENSIVE_INTERVAL", &cfg.Collector.ComprehensiveInterval},
		{"MONITORING_RETENTION_SWEEP_INTERVAL", &cfg.Collector.RetentionSweepInterval},
		{"MONITORING_TRACE_INTERVAL", &cfg.Collector.TraceCollectionInterval},
		{"MONITORING_EVENT_RETENTION", &cfg.Retention.Events},
		{"MONITORING_FIX_RETENTION", &cfg.Retention.Fixes},
		{"MONITORING_AUDIT_RETENTION", &cfg.Retention.Audit},
	} {
		if v := os.Getenv(ov.env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*ov.target = d
			}
		}
	}
}
