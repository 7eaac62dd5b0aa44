// Package config centralizes all environment-driven configuration behind
// typed structs bound through viper: one setDefaults() function,
// automatic environment binding, an optional YAML file for local
// overrides.
package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config aggregates every component's settings.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Store     StoreConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Retry     RetryConfig
	Scheduler SchedulerConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	LogLevel  string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxRequestBytes int64
	RateLimitRPS    int
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig points at the durable SQLite database.
type StoreConfig struct {
	SQLitePath string
}

// QueueConfig names the shared Redis list and the default attempt budget
// newly submitted tasks are created with.
type QueueConfig struct {
	Name               string
	DefaultMaxAttempts int
}

type WorkerConfig struct {
	ID                     string
	Concurrency            int
	PollTimeout            time.Duration
	LockTTL                time.Duration
	HandlerTimeout         time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	ShutdownTimeout        time.Duration
	RecoverySweepInterval  time.Duration
	RecoverySweepThreshold time.Duration
}

// RetryConfig parameterizes the capped exponential backoff with additive
// jitter described by the retry policy.
type RetryConfig struct {
	BaseSeconds   float64
	MaxSeconds    float64
	JitterSeconds float64
}

type SchedulerConfig struct {
	Interval time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	APIKey    string
	JWTSecret string
}

// Load reads configuration from an optional YAML file plus environment
// variables (with typed defaults), returning a fully populated Config.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskqueue")

	setDefaults()
	bindEnv()

	viper.SetEnvPrefix("TASKQUEUE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// secondsDurationHook decodes bare numbers into time.Duration as seconds,
// so SCHEDULER_INTERVAL_SECONDS=5 and friends work the way their names
// promise. Strings that already carry a unit ("30s", "5m") fall through
// to the standard duration hook.
func secondsDurationHook() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// bindEnv wires the deployment's flat environment variable names onto
// their nested viper keys, since they don't follow the
// TASKQUEUE_-prefixed convention used for everything else.
func bindEnv() {
	binds := map[string]string{
		"auth.apikey":                   "API_KEY",
		"store.sqlitepath":              "SQLITE_PATH",
		"redis.url":                     "REDIS_URL",
		"queue.name":                    "QUEUE_NAME",
		"scheduler.interval":            "SCHEDULER_INTERVAL_SECONDS",
		"queue.defaultmaxattempts":      "DEFAULT_MAX_ATTEMPTS",
		"worker.polltimeout":            "WORKER_POLL_TIMEOUT_SECONDS",
		"worker.lockttl":                "TASK_LOCK_TTL_SECONDS",
		"retry.baseseconds":             "RETRY_BASE_SECONDS",
		"retry.maxseconds":              "RETRY_MAX_SECONDS",
		"retry.jitterseconds":           "RETRY_JITTER_SECONDS",
		"server.maxrequestbytes":        "MAX_REQUEST_BYTES",
		"server.ratelimitrps":           "RATE_LIMIT_RPS",
		"logLevel":                      "LOG_LEVEL",
		"worker.concurrency":            "WORKER_CONCURRENCY",
		"server.host":                   "SERVER_HOST",
		"server.port":                   "SERVER_PORT",
		"metrics.path":                  "METRICS_PATH",
		"worker.recoverysweepinterval":  "RECOVERY_SWEEP_INTERVAL_SECONDS",
		"worker.recoverysweepthreshold": "RECOVERY_SWEEP_THRESHOLD_SECONDS",
	}
	for key, env := range binds {
		_ = viper.BindEnv(key, env)
	}
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.maxrequestbytes", int64(1<<20)) // 1 MiB
	viper.SetDefault("server.ratelimitrps", 100)

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	viper.SetDefault("store.sqlitepath", "./orchestrator.sqlite")

	viper.SetDefault("queue.name", "dto:queue")
	viper.SetDefault("queue.defaultmaxattempts", 5)

	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.polltimeout", 2*time.Second)
	viper.SetDefault("worker.lockttl", 30*time.Second)
	viper.SetDefault("worker.handlertimeout", 15*time.Second)
	viper.SetDefault("worker.heartbeatinterval", 5*time.Second)
	viper.SetDefault("worker.heartbeattimeout", 15*time.Second)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)
	viper.SetDefault("worker.recoverysweepinterval", 30*time.Second)
	viper.SetDefault("worker.recoverysweepthreshold", 5*time.Minute)

	viper.SetDefault("retry.baseseconds", 1.0)
	viper.SetDefault("retry.maxseconds", 60.0)
	viper.SetDefault("retry.jitterseconds", 0.25)

	viper.SetDefault("scheduler.interval", time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("auth.apikey", "dev-key")
	viper.SetDefault("auth.jwtsecret", "")

	viper.SetDefault("loglevel", "info")
}
