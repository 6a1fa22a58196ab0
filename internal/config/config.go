package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. APPROVALS_DATABASE_HOST.
const EnvPrefix = "APPROVALS"

// ConfigPathEnv names the variable that points at an optional config file.
const ConfigPathEnv = "APPROVALS_CONFIG"

// Config is the service configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Port       int  `mapstructure:"port"`
	Reflection bool `mapstructure:"reflection"`
}

// DatabaseConfig enables the Postgres repositories. When Enabled is false
// the service keeps state in memory.
type DatabaseConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ConnectWait   time.Duration `mapstructure:"connect_wait"`
}

type RoutingConfig struct {
	EnforceAssignment   bool          `mapstructure:"enforce_assignment"`
	DispatchBuffer      int           `mapstructure:"dispatch_buffer"`
	DispatchWorkers     int           `mapstructure:"dispatch_workers"`
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`
}

// RulesConfig points at a YAML file of rules registered on startup.
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// DirectoryConfig is the static role and department membership used when no
// identity service is configured.
type DirectoryConfig struct {
	Roles       map[string][]string `mapstructure:"roles"`
	Departments map[string][]string `mapstructure:"departments"`
}

type IdentityConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
}

type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputFile string `mapstructure:"output_file"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-approval-routing",
			Version:     "dev",
			Environment: "development",
		},
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{Port: 9086, Reflection: true},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "approvals",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
			AutoMigrate: true,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "notifications.approvals",
			ConnectWait:   5 * time.Second,
		},
		Routing: RoutingConfig{
			DispatchBuffer:      256,
			DispatchWorkers:     4,
			NotificationTimeout: 10 * time.Second,
		},
		Directory: DirectoryConfig{
			Roles:       map[string][]string{},
			Departments: map[string][]string{},
		},
	}
}

// Load reads configuration from defaults, the optional file named by path
// (or by APPROVALS_CONFIG when path is empty) and APPROVALS_* environment
// variables, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf key so environment overrides apply even
// when no config file mentions the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.version", cfg.Service.Version)
	v.SetDefault("service.environment", cfg.Service.Environment)
	v.SetDefault("log.level", cfg.Log.Level)

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("grpc.port", cfg.GRPC.Port)
	v.SetDefault("grpc.reflection", cfg.GRPC.Reflection)

	v.SetDefault("database.enabled", cfg.Database.Enabled)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.database", cfg.Database.Database)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.max_conn_time", cfg.Database.MaxConnTime)
	v.SetDefault("database.max_idle_time", cfg.Database.MaxIdleTime)
	v.SetDefault("database.health_check", cfg.Database.HealthCheck)
	v.SetDefault("database.auto_migrate", cfg.Database.AutoMigrate)

	v.SetDefault("nats.enabled", cfg.NATS.Enabled)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("nats.subject_prefix", cfg.NATS.SubjectPrefix)
	v.SetDefault("nats.connect_wait", cfg.NATS.ConnectWait)

	v.SetDefault("routing.enforce_assignment", cfg.Routing.EnforceAssignment)
	v.SetDefault("routing.dispatch_buffer", cfg.Routing.DispatchBuffer)
	v.SetDefault("routing.dispatch_workers", cfg.Routing.DispatchWorkers)
	v.SetDefault("routing.notification_timeout", cfg.Routing.NotificationTimeout)

	v.SetDefault("rules.file", cfg.Rules.File)
	v.SetDefault("identity.grpc_addr", cfg.Identity.GRPCAddr)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.output_file", cfg.Tracing.OutputFile)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Name == "" {
		errs = append(errs, stderrors.New("service.name is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d is out of range", c.GRPC.Port))
	}
	if c.Server.Port == c.GRPC.Port {
		errs = append(errs, fmt.Errorf("server.port and grpc.port must differ (both %d)", c.Server.Port))
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, stderrors.New("database.host is required when the database is enabled"))
		}
		if c.Database.Database == "" {
			errs = append(errs, stderrors.New("database.database is required when the database is enabled"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, fmt.Errorf("database.min_conns %d exceeds max_conns %d", c.Database.MinConns, c.Database.MaxConns))
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, stderrors.New("nats.url is required when nats is enabled"))
	}
	if c.Routing.DispatchBuffer < 1 {
		errs = append(errs, fmt.Errorf("routing.dispatch_buffer must be positive, got %d", c.Routing.DispatchBuffer))
	}
	if c.Routing.DispatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("routing.dispatch_workers must be positive, got %d", c.Routing.DispatchWorkers))
	}
	return stderrors.Join(errs...)
}
