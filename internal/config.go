package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/castmedia/castmedia_server/internal/avatar"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/probe"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	defaultConfigFile = "files/config.yaml"
	envPrefix         = "CASTMEDIA"
)

type ServerConfig struct {
	Addr                 string   `mapstructure:"addr"`
	ExternalURL          string   `mapstructure:"external_url"`
	AllowedOrigins       []string `mapstructure:"allowed_origins"`
	SafeRelativePrefixes []string `mapstructure:"safe_relative_prefixes"`
	MaxRequestBodyMB     int      `mapstructure:"max_request_body_mb"`
	MigrationsPath       string   `mapstructure:"migrations_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Storage  storage.Config     `mapstructure:"storage"`
	Identity identity.Config    `mapstructure:"identity"`
	Pointers pointer.Config     `mapstructure:"pointers"`
	Probe    probe.Config       `mapstructure:"probe"`
	Quota    policy.QuotaConfig `mapstructure:"quota"`
	Avatar   avatar.Config      `mapstructure:"avatar"`
	Log      LogConfig          `mapstructure:"log"`
}

// LoadConfig reads path (files/config.yaml when empty) on top of the
// compiled-in defaults. A missing file is fine; CASTMEDIA_* variables
// override both, e.g. CASTMEDIA_STORAGE_BASE_URL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = defaultConfigFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Str("path", path).Msg("No config file, using defaults and environment")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(config.Avatar.SafePrefixes) == 0 {
		config.Avatar.SafePrefixes = config.Server.SafeRelativePrefixes
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.external_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.safe_relative_prefixes", avatar.DefaultSafePrefixes)
	v.SetDefault("server.max_request_body_mb", 512)
	v.SetDefault("server.migrations_path", "file://files/migrations")

	v.SetDefault("storage.type", string(storage.TypeHTTP))
	v.SetDefault("storage.base_url", "http://localhost:9000")
	v.SetDefault("storage.public_bucket", "media-public")
	v.SetDefault("storage.media_bucket", "media-public")
	v.SetDefault("storage.private_bucket", "media-private")
	v.SetDefault("storage.timeout", "2s")
	v.SetDefault("storage.list_timeout", "1500ms")
	v.SetDefault("storage.stream_timeout", "60s")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_access_key", "")
	v.SetDefault("storage.s3_secret_key", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_use_ssl", false)

	v.SetDefault("identity.base_url", "http://localhost:9001")
	v.SetDefault("identity.client_id", "")
	v.SetDefault("identity.client_secret", "")
	v.SetDefault("identity.jwt_public_key", "")
	v.SetDefault("identity.jwt_secret", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.timeout", "5s")
	v.SetDefault("identity.refresh_leeway", "30s")

	v.SetDefault("pointers.driver", string(pointer.DriverMemory))
	v.SetDefault("pointers.dsn", "")
	v.SetDefault("pointers.redis_addr", "localhost:6379")
	v.SetDefault("pointers.redis_password", "")
	v.SetDefault("pointers.redis_db", 0)
	v.SetDefault("pointers.redis_ttl", "720h")

	v.SetDefault("probe.positive_ttl", "6h")
	v.SetDefault("probe.negative_ttl", "3m")
	v.SetDefault("probe.timeout", "800ms")
	v.SetDefault("probe.max_entries", 4096)

	v.SetDefault("avatar.step_timeout", "1500ms")
	v.SetDefault("avatar.write_back_timeout", "2s")
	v.SetDefault("avatar.signed_url_ttl", "10m")
	v.SetDefault("avatar.placeholder_base", avatar.DefaultPlaceholderBase)
	v.SetDefault("avatar.placeholder_size", 128)

	v.SetDefault("quota.disable_image_count_check", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// SetupLogging applies the configured level and output format to the
// global logger.
func SetupLogging(config LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if config.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
