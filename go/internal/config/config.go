package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcdev12/pokerclock/go/internal/dbconfig"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "POKERCLOCK"

type Config struct {
	Server      Server      `mapstructure:"server"`
	DB          DB          `mapstructure:"db"`
	Timer       Timer       `mapstructure:"timer"`
	Replication Replication `mapstructure:"replication"`
	Failover    Failover    `mapstructure:"failover"`
	Conflict    Conflict    `mapstructure:"conflict"`
	Sync        Sync        `mapstructure:"sync"`
	SyncClient  SyncClient  `mapstructure:"syncclient"`
	NATS        NATS        `mapstructure:"nats"`
	Outbox      Outbox      `mapstructure:"outbox"`
	Schedule    Schedule    `mapstructure:"schedule"`
	Log         Log         `mapstructure:"log"`
}

type Server struct {
	Addr   string `mapstructure:"addr"`
	Role   string `mapstructure:"role"`
	NodeID string `mapstructure:"node_id"`
}

type DB struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	BackupDir     string `mapstructure:"backup_dir"`
}

type Timer struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
}

type Replication struct {
	PrimaryURL         string        `mapstructure:"primary_url"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	BackupRetention    int           `mapstructure:"backup_retention"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	BackupInterval     time.Duration `mapstructure:"backup_interval"`
}

type Failover struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	PromotionTimeout  time.Duration `mapstructure:"promotion_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
}

type Conflict struct {
	Window            time.Duration `mapstructure:"window"`
	MergePreferClient bool          `mapstructure:"merge_prefer_client"`
}

type Sync struct {
	DefaultStrategy string `mapstructure:"default_strategy"`
	PullBatchSize   int    `mapstructure:"pull_batch_size"`
}

type SyncClient struct {
	ServerURL   string        `mapstructure:"server_url"`
	OriginID    string        `mapstructure:"origin_id"`
	Interval    time.Duration `mapstructure:"interval"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type NATS struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type Outbox struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type Schedule struct {
	File string `mapstructure:"file"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadEnv reads a .env file into the process environment when present.
func LoadEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		log.Debug().Err(err).Msg("no .env file found, relying on environment variables")
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and POKERCLOCK_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	db := dbconfig.NewConfigFromEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.role", string(models.RolePrimary))
	v.SetDefault("server.node_id", defaultNodeID())

	v.SetDefault("db.path", db.Path)
	v.SetDefault("db.busy_timeout_ms", db.BusyTimeoutMs)
	v.SetDefault("db.backup_dir", db.BackupDir)

	v.SetDefault("timer.tick_interval", 100*time.Millisecond)
	v.SetDefault("timer.persist_interval", time.Second)

	v.SetDefault("replication.primary_url", "http://localhost:8080")
	v.SetDefault("replication.poll_interval", time.Second)
	v.SetDefault("replication.fetch_timeout", 3*time.Second)
	v.SetDefault("replication.backup_retention", 10)
	v.SetDefault("replication.checkpoint_interval", 5*time.Minute)
	v.SetDefault("replication.backup_interval", 15*time.Minute)

	v.SetDefault("failover.heartbeat_interval", time.Second)
	v.SetDefault("failover.failure_threshold", 5)
	v.SetDefault("failover.promotion_timeout", 5*time.Second)
	v.SetDefault("failover.probe_timeout", 800*time.Millisecond)

	v.SetDefault("conflict.window", 5*time.Second)
	v.SetDefault("conflict.merge_prefer_client", false)
	v.SetDefault("sync.default_strategy", string(models.StrategyServerWins))
	v.SetDefault("sync.pull_batch_size", 500)

	v.SetDefault("syncclient.server_url", "http://localhost:8080")
	v.SetDefault("syncclient.origin_id", "")
	v.SetDefault("syncclient.interval", 30*time.Second)
	v.SetDefault("syncclient.base_backoff", 60*time.Second)
	v.SetDefault("syncclient.max_backoff", time.Hour)
	v.SetDefault("syncclient.timeout", 10*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "TOURNAMENT_EVENTS")
	v.SetDefault("nats.subject_prefix", "tournament.events")

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 3)

	v.SetDefault("schedule.file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return "node-" + uuid.NewString()[:8]
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch models.Role(c.Server.Role) {
	case models.RolePrimary, models.RoleStandby:
	default:
		errs = append(errs, fmt.Errorf("server.role must be primary or standby, got %q", c.Server.Role))
	}
	if !models.ResolutionStrategy(c.Sync.DefaultStrategy).Valid() {
		errs = append(errs, fmt.Errorf("sync.default_strategy %q is not a resolution strategy", c.Sync.DefaultStrategy))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.Timer.TickInterval <= 0 {
		errs = append(errs, errors.New("timer.tick_interval must be positive"))
	}
	if c.Failover.FailureThreshold < 1 {
		errs = append(errs, errors.New("failover.failure_threshold must be at least 1"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Role is the configured starting role.
func (c *Config) Role() models.Role {
	return models.Role(c.Server.Role)
}

// Database converts the db section for the database package.
func (c *Config) Database() dbconfig.Config {
	return dbconfig.Config{
		Path:          c.DB.Path,
		BusyTimeoutMs: c.DB.BusyTimeoutMs,
		BackupDir:     c.DB.BackupDir,
	}
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(l Log) {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if l.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
