// Package config loads scribe-relay settings from flags, SCRIBE_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood by Load.
const (
	KeyAddress           = "address"
	KeyPublicURL         = "public_url"
	KeyWSPath            = "ws_path"
	KeyHeartbeatInterval = "heartbeat_interval"
	KeyDataDir           = "data_dir"
	KeyLogDir            = "log_dir"
	KeyDebug             = "debug"
	KeyPresignSecret     = "presign_secret"
	KeyPresignTTL        = "presign_ttl"
	KeyTranscriptTTL     = "transcript_ttl"
	KeyChunkDuration     = "chunk_duration"
	KeyMaxUploads        = "max_uploads"
	KeyMaxChunkBytes     = "max_chunk_bytes"
	KeyRedisAddr         = "redis_addr"
	KeyRedisChannel      = "redis_channel"
	KeyWatchIncoming     = "watch_incoming"
)

// Config is the effective service configuration.
type Config struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	PublicURL         string        `mapstructure:"public_url" yaml:"public_url"`
	WSPath            string        `mapstructure:"ws_path" yaml:"ws_path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	DataDir           string        `mapstructure:"data_dir" yaml:"data_dir"`
	LogDir            string        `mapstructure:"log_dir" yaml:"log_dir"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	PresignSecret     string        `mapstructure:"presign_secret" yaml:"presign_secret"`
	PresignTTL        time.Duration `mapstructure:"presign_ttl" yaml:"presign_ttl"`
	TranscriptTTL     time.Duration `mapstructure:"transcript_ttl" yaml:"transcript_ttl"`
	ChunkDuration     time.Duration `mapstructure:"chunk_duration" yaml:"chunk_duration"`
	MaxUploads        int           `mapstructure:"max_uploads" yaml:"max_uploads"`
	MaxChunkBytes     int64         `mapstructure:"max_chunk_bytes" yaml:"max_chunk_bytes"`
	RedisAddr         string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannel      string        `mapstructure:"redis_channel" yaml:"redis_channel"`
	WatchIncoming     bool          `mapstructure:"watch_incoming" yaml:"watch_incoming"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddress, ":3000")
	v.SetDefault(KeyPublicURL, "http://localhost:3000")
	v.SetDefault(KeyWSPath, "/ws")
	v.SetDefault(KeyHeartbeatInterval, 30*time.Second)
	v.SetDefault(KeyDataDir, "~/.scribe-relay")
	v.SetDefault(KeyLogDir, "")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyPresignSecret, "")
	v.SetDefault(KeyPresignTTL, 15*time.Minute)
	v.SetDefault(KeyTranscriptTTL, 10*time.Minute)
	v.SetDefault(KeyChunkDuration, 5*time.Second)
	v.SetDefault(KeyMaxUploads, 4)
	v.SetDefault(KeyMaxChunkBytes, int64(64<<20))
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisChannel, "scribe-relay:events")
	v.SetDefault(KeyWatchIncoming, true)
}

// BindFlags defines the command-line flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("address", ":3000", "HTTP listen address")
	fs.String("public-url", "http://localhost:3000", "base URL used in presigned upload URLs")
	fs.String("ws-path", "/ws", "path of the real-time websocket endpoint")
	fs.Duration("heartbeat-interval", 30*time.Second, "time between websocket liveness sweeps")
	fs.String("data-dir", "~/.scribe-relay", "directory for chunk payloads and the drop directory")
	fs.String("log-dir", "", "write level-split log files here")
	fs.Bool("debug", false, "log at DEBUG level on the console")
	fs.String("redis-addr", "", "Redis address for cross-instance event relay")

	for key, flag := range map[string]string{
		KeyAddress:           "address",
		KeyPublicURL:         "public-url",
		KeyWSPath:            "ws-path",
		KeyHeartbeatInterval: "heartbeat-interval",
		KeyDataDir:           "data-dir",
		KeyLogDir:            "log-dir",
		KeyDebug:             "debug",
		KeyRedisAddr:         "redis-addr",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the config file (explicit, or scribe-relay.yaml in the working
// directory or ~/.scribe-relay) and the environment, then validates.
// A missing default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return Config{}, fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scribe-relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".scribe-relay"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	var err error
	if cfg.DataDir, err = homedir.Expand(cfg.DataDir); err != nil {
		return Config{}, fmt.Errorf("expand data_dir: %w", err)
	}
	if cfg.LogDir, err = homedir.Expand(cfg.LogDir); err != nil {
		return Config{}, fmt.Errorf("expand log_dir: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address must be set"))
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws_path %q must start with /", c.WSPath))
	}
	if c.HeartbeatInterval < time.Second {
		errs = append(errs, fmt.Errorf("heartbeat_interval %s is below 1s", c.HeartbeatInterval))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.MaxUploads < 1 {
		errs = append(errs, fmt.Errorf("max_uploads %d must be at least 1", c.MaxUploads))
	}
	if c.MaxChunkBytes < 1 {
		errs = append(errs, fmt.Errorf("max_chunk_bytes %d must be positive", c.MaxChunkBytes))
	}
	if c.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("chunk_duration %s must be positive", c.ChunkDuration))
	}
	return errors.Join(errs...)
}

// BlobDir holds stored chunk payloads.
func (c Config) BlobDir() string { return filepath.Join(c.DataDir, "blobs") }

// IncomingDir is the drop directory watched for out-of-band chunks.
func (c Config) IncomingDir() string { return filepath.Join(c.DataDir, "incoming") }

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.PresignSecret != "" {
		c.PresignSecret = "********"
	}
	return c
}
