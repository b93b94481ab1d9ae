package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jhchabran/tabloid-votes/policy"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LogLevel           string `json:"log_level"`
	LogFormat          string `json:"log_format"`
	Store              string `json:"store"`
	DatabaseName       string `json:"database_name"`
	DatabaseUser       string `json:"database_user"`
	DatabaseHost       string `json:"database_host"`
	DatabasePassword   string `json:"database_password"`
	AuthProvider       string `json:"auth_provider"`
	GithubClientID     string `json:"github_client_id"`
	GithubClientSecret string `json:"github_client_secret"`
	ServerSecret       string `json:"server_secret"`
	Addr               string `json:"addr"`
	OriginSalt         string `json:"origin_salt"`
	TrustProxy         bool   `json:"trust_proxy"`

	LockShards    int           `json:"lock_shards"`
	LockTimeout   time.Duration `json:"lock_timeout"`
	PolicyTimeout time.Duration `json:"policy_timeout"`
	StoreTimeout  time.Duration `json:"store_timeout"`
	RankTimeout   time.Duration `json:"rank_timeout"`

	RankGravity       float64 `json:"rank_gravity"`
	RankTimebaseHours int64   `json:"rank_timebase_hours"`

	OriginRule          bool          `json:"origin_rule"`
	QuotaMax            int           `json:"quota_max"`
	QuotaWindow         time.Duration `json:"quota_window"`
	RatePerMinute       float64       `json:"rate_per_minute"`
	RateBurst           int           `json:"rate_burst"`
	RateCacheSize       int           `json:"rate_cache_size"`
	NoDownvoteSubverses []string      `json:"no_downvote_subverses"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "json",
		Store:             "postgres",
		DatabaseName:      "votes",
		DatabaseUser:      "postgres",
		DatabasePassword:  "postgres",
		DatabaseHost:      "127.0.0.1",
		AuthProvider:      "github",
		Addr:              "localhost:8080",
		LockShards:        64,
		LockTimeout:       5 * time.Second,
		PolicyTimeout:     2 * time.Second,
		StoreTimeout:      5 * time.Second,
		RankTimeout:       2 * time.Second,
		RankGravity:       1.8,
		RankTimebaseHours: 2,
		OriginRule:        true,
		QuotaMax:          20,
		QuotaWindow:       24 * time.Hour,
		RatePerMinute:     30,
		RateBurst:         10,
		RateCacheSize:     10000,
	}
}

// Load reads config.json and .env from the working directory, if present,
// then the environment.
func (c *Config) Load() error {
	return c.LoadFrom("config.json", ".env")
}

// LoadFrom overrides the configuration with, in order, the JSON file at
// jsonPath, then environment variables named after the upper cased json tags.
// envFiles are loaded into the environment first, without overriding
// variables already set.
func (c *Config) LoadFrom(jsonPath string, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	b, err := os.ReadFile(jsonPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		values := map[string]interface{}{}
		if err := json.Unmarshal(b, &values); err != nil {
			return fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		if err := c.decode(values); err != nil {
			return fmt.Errorf("invalid %s: %w", jsonPath, err)
		}
	}

	if err := c.decode(envValues(c)); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	return c.Validate()
}

func (c *Config) decode(values map[string]interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           c,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(values)
}

// envValues collects the environment variables matching the fields of c.
func envValues(c *Config) map[string]interface{} {
	values := map[string]interface{}{}
	t := reflect.TypeOf(c).Elem()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" {
			continue
		}
		if v, ok := os.LookupEnv(strings.ToUpper(tag)); ok && v != "" {
			values[tag] = v
		}
	}
	return values
}

func (c *Config) Validate() error {
	if c.ServerSecret == "" {
		return fmt.Errorf("missing config 'server secret'")
	}

	switch c.AuthProvider {
	case "github":
		if c.GithubClientID == "" {
			return fmt.Errorf("missing config 'github client id'")
		}
		if c.GithubClientSecret == "" {
			return fmt.Errorf("missing config 'github client secret'")
		}
	case "fake":
	default:
		return fmt.Errorf("unknown auth provider %q", c.AuthProvider)
	}

	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	return nil
}

// PostgresDSN returns the connection string of the configured database.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"user=%v dbname=%v sslmode=disable password=%v host=%v",
		c.DatabaseUser,
		c.DatabaseName,
		c.DatabasePassword,
		c.DatabaseHost,
	)
}

func (c *Config) LedgerConfig() votes.LedgerConfig {
	return votes.LedgerConfig{
		LockTimeout:   c.LockTimeout,
		PolicyTimeout: c.PolicyTimeout,
		StoreTimeout:  c.StoreTimeout,
		RankTimeout:   c.RankTimeout,
	}
}

// PolicyEngine builds the rules enabled by the configuration. The rate rule
// comes last so that votes denied by another rule keep their token.
func (c *Config) PolicyEngine(store policy.VoteQuerier, logger zerolog.Logger) (*policy.Engine, error) {
	var rules []policy.Rule

	if len(c.NoDownvoteSubverses) > 0 {
		rules = append(rules, policy.NewDownvoteRule(c.NoDownvoteSubverses...))
	}
	if c.OriginRule {
		rules = append(rules, &policy.OriginRule{Store: store})
	}
	if c.QuotaMax > 0 {
		rules = append(rules, &policy.QuotaRule{Store: store, Max: c.QuotaMax, Window: c.QuotaWindow})
	}
	if c.RatePerMinute > 0 {
		r, err := policy.NewRateRule(c.RatePerMinute, c.RateBurst, c.RateCacheSize)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	return policy.NewEngine(logger, rules...), nil
}

func SetupLogger(cfg *Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("input", cfg.LogLevel).Msg("Cannot parse log level")
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "" || cfg.LogFormat == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
}
