package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultServices are the backends the gateway fronts when SERVICES is unset.
var DefaultServices = []string{"auth", "user", "property", "notification", "search"}

const defaultServiceTimeout = 5000 * time.Millisecond

// Config aggregates all runtime settings required by the gateway and the search service.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Services    ServicesConfig
	Health      HealthConfig
	NATS        NATSConfig
	Elastic     ElasticConfig
	Redis       RedisConfig
	Ledger      LedgerConfig
	JWT         JWTConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Context     ContextConfig
	Logger      LoggerConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnableMetrics bool
}

// ServiceConfig describes one upstream service reachable through the gateway.
type ServiceConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
}

type ServicesConfig struct {
	File      string
	Endpoints []ServiceConfig
}

type HealthConfig struct {
	Path     string
	Interval time.Duration
}

type NATSConfig struct {
	URL            string
	ClientName     string
	Stream         string
	Subjects       []string
	FilterSubject  string
	Durable        string
	AckWait        time.Duration
	MaxDeliver     int
	Workers        int
	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
}

type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Refresh   string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type LedgerConfig struct {
	Backend string
	Path    string
	TTL     time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// Enabled reports whether bearer token verification is configured.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

type CORSConfig struct {
	Origins     []string
	Credentials bool
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "realty-gateway"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "3000"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", true),
		},
		Services: ServicesConfig{
			File: os.Getenv("SERVICES_FILE"),
		},
		Health: HealthConfig{
			Path:     getString("HEALTH_CHECK_PATH", "/health"),
			Interval: getDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		NATS: NATSConfig{
			URL:            getString("NATS_URL", "nats://localhost:4222"),
			ClientName:     getString("NATS_CLIENT_NAME", "realty-mesh"),
			Stream:         getString("NATS_STREAM", "REAL_ESTATE_EVENTS"),
			Subjects:       getList("NATS_SUBJECTS", []string{"real-estate.events.>"}),
			FilterSubject:  getString("NATS_FILTER_SUBJECT", "real-estate.events.property.*"),
			Durable:        getString("NATS_DURABLE", "search-service-group"),
			AckWait:        getDuration("NATS_ACK_WAIT", 30*time.Second),
			MaxDeliver:     getInt("NATS_MAX_DELIVER", 10),
			Workers:        getInt("NATS_WORKERS", 8),
			ConnectTimeout: getDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
			DrainTimeout:   getDuration("NATS_DRAIN_TIMEOUT", 10*time.Second),
		},
		Elastic: ElasticConfig{
			Addresses: getList("ELASTICSEARCH_URL", []string{"http://localhost:9200"}),
			Username:  os.Getenv("ELASTICSEARCH_USERNAME"),
			Password:  os.Getenv("ELASTICSEARCH_PASSWORD"),
			Index:     getString("ELASTICSEARCH_INDEX", "properties"),
			Refresh:   getString("ELASTICSEARCH_REFRESH", "false"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			Backend: getString("LEDGER_BACKEND", "bolt"),
			Path:    getString("LEDGER_PATH", "./data/ledger.db"),
			TTL:     getDuration("LEDGER_TTL", 7*24*time.Hour),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: os.Getenv("JWT_ISSUER"),
		},
		RateLimit: RateLimitConfig{
			Window: getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			Max:    getInt("RATE_LIMIT_MAX", 100),
		},
		CORS: CORSConfig{
			Origins:     getList("CORS_ORIGINS", []string{"http://localhost:3000"}),
			Credentials: getBool("CORS_CREDENTIALS", true),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 30*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
	}

	endpoints, err := loadServices(cfg.Services.File)
	if err != nil {
		return nil, err
	}
	cfg.Services.Endpoints = endpoints

	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

type servicesFile struct {
	Services map[string]struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"services"`
}

// loadServices reads endpoints from the YAML file when one is given,
// otherwise from <NAME>_SERVICE_URL / <NAME>_SERVICE_TIMEOUT variables.
func loadServices(path string) ([]ServiceConfig, error) {
	if path != "" {
		return loadServicesFile(path)
	}

	names := getList("SERVICES", DefaultServices)
	endpoints := make([]ServiceConfig, 0, len(names))
	for i, name := range names {
		prefix := strings.ToUpper(name) + "_SERVICE_"
		endpoints = append(endpoints, ServiceConfig{
			Name:    name,
			URL:     getString(prefix+"URL", fmt.Sprintf("http://localhost:%d", 3001+i)),
			Timeout: getMillis(prefix+"TIMEOUT", defaultServiceTimeout),
		})
	}
	return endpoints, nil
}

func loadServicesFile(path string) ([]ServiceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var file servicesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}

	endpoints := make([]ServiceConfig, 0, len(file.Services))
	for name, svc := range file.Services {
		timeout := defaultServiceTimeout
		if svc.Timeout != "" {
			parsed, ok := parseMillis(svc.Timeout)
			if !ok {
				return nil, fmt.Errorf("service %s: invalid timeout %q", name, svc.Timeout)
			}
			timeout = parsed
		}
		endpoints = append(endpoints, ServiceConfig{Name: name, URL: svc.URL, Timeout: timeout})
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints, nil
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getMillis is getDuration for values historically expressed in milliseconds.
func getMillis(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, ok := parseMillis(val); ok {
			return parsed
		}
	}
	return fallback
}

func parseMillis(val string) (time.Duration, bool) {
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed, true
	}
	return 0, false
}

func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
