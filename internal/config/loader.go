package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	envPrefix      = "RISKPULSE_"
	envConfigPath  = "RISKPULSE_CONFIG"
	defaultEnvFile = ".env"
)

// Sources names the optional files Load reads.
type Sources struct {
	// File is a YAML config file. Falls back to $RISKPULSE_CONFIG.
	File string
	// EnvFile is a dotenv file. Defaults to .env; a missing default is ignored.
	EnvFile string
}

// ParseFlags reads --config and --env-file from args.
func ParseFlags(args []string) (Sources, error) {
	var src Sources
	flags := pflag.NewFlagSet("riskpulse", pflag.ContinueOnError)
	flags.StringVarP(&src.File, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&src.EnvFile, "env-file", "", "path to a dotenv file")
	if err := flags.Parse(args); err != nil {
		return Sources{}, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	return src, nil
}

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file
//  3. dotenv file, then the process environment (prefix RISKPULSE_)
func Load(_ context.Context, src Sources) (*Config, error) {
	k := koanf.New(".")

	path := src.File
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	if err := loadDotEnv(src.EnvFile); err != nil {
		return nil, err
	}

	// RISKPULSE_QUEUE_SIZE -> queue_size
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv fills unset environment variables from a dotenv file.
// Variables already present in the environment win.
func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	switch {
	case err == nil:
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.ShutdownTimeout <= 0:
		return invalid("shutdown_timeout must be positive")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return invalid("log_format must be json or text")
	case c.Topic == "":
		return invalid("topic must not be empty")
	case c.WorkerCount <= 0:
		return invalid("worker_count must be positive")
	case c.DedupeEnabled && c.DedupeSize <= 0:
		return invalid("dedupe_size must be positive")
	case c.BroadcastBuffer <= 0:
		return invalid("broadcast_buffer must be positive")
	case c.BroadcastPolicy != "drop_oldest" && c.BroadcastPolicy != "drop_newest":
		return invalid("broadcast_policy must be drop_oldest or drop_newest")
	}

	switch c.Broker {
	case BrokerMemory:
		if c.QueueSize <= 0 {
			return invalid("queue_size must be positive")
		}
	case BrokerRedis:
		if c.RedisAddr == "" {
			return invalid("redis_addr is required for the redis broker")
		}
	default:
		return invalid("unknown broker " + c.Broker)
	}

	switch c.StoreBackend {
	case BackendBadger:
		if c.BadgerPath == "" && !c.BadgerInMemory {
			return invalid("badger_path is required unless badger_in_memory is set")
		}
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return invalid("mongo_uri and mongo_database are required for the mongo backend")
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return invalid("postgres_url is required for the postgres backend")
		}
	default:
		return invalid("unknown store_backend " + c.StoreBackend)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
