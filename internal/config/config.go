package config

import (
	"fmt"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/env"
)

// Config holds all configuration for the hub service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Call     CallConfig
	Presence PresenceConfig
	Speech   SpeechConfig
	Log      LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
	MaxConnections int
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CallConfig holds call signaling configuration
type CallConfig struct {
	DeliveryTimeout     time.Duration
	GroupRingingTimeout time.Duration
	ReaperInterval      time.Duration
}

// PresenceConfig holds presence registry configuration
type PresenceConfig struct {
	OfflineGrace  time.Duration
	SweepInterval time.Duration
}

// SpeechConfig holds speech pipeline configuration
type SpeechConfig struct {
	ProviderTimeout    time.Duration
	ProviderRetries    int
	MinAudioBytes      int
	MaxAudioBytes      int
	PlaybackQueueDepth int
	CacheSize          int
	CacheTTL           time.Duration
	PartialResults     bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8080),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "hub-service"),
			AllowedOrigins: splitCSV(env.GetString("ALLOWED_ORIGINS", "*")),
			MaxConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "vaani"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:      env.GetStringFromFile("MONGO_URI", "mongodb://localhost:27017"),
			Database: env.GetString("MONGO_DB", "vaani"),
			Timeout:  env.GetDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Call: CallConfig{
			DeliveryTimeout:     env.GetDuration("CALL_DELIVERY_TIMEOUT", constants.CallDeliveryTimeout),
			GroupRingingTimeout: env.GetDuration("GROUP_CALL_RINGING_TIMEOUT", constants.GroupCallRingingTimeout),
			ReaperInterval:      env.GetDuration("GROUP_CALL_REAPER_INTERVAL", time.Minute),
		},
		Presence: PresenceConfig{
			OfflineGrace:  env.GetDuration("PRESENCE_OFFLINE_GRACE", constants.PresenceOfflineGrace),
			SweepInterval: env.GetDuration("PRESENCE_SWEEP_INTERVAL", constants.PresenceSweepInterval),
		},
		Speech: SpeechConfig{
			ProviderTimeout:    env.GetDuration("SPEECH_PROVIDER_TIMEOUT", constants.ProviderRoundTripTimeout),
			ProviderRetries:    env.GetInt("SPEECH_PROVIDER_RETRIES", constants.ProviderRetries),
			MinAudioBytes:      env.GetInt("SPEECH_MIN_AUDIO_BYTES", constants.MinAudioBytes),
			MaxAudioBytes:      env.GetInt("SPEECH_MAX_AUDIO_BYTES", constants.MaxAudioBytes),
			PlaybackQueueDepth: env.GetInt("SPEECH_PLAYBACK_QUEUE_DEPTH", constants.PlaybackQueueDepth),
			CacheSize:          env.GetInt("TRANSLATION_CACHE_SIZE", constants.TranslationCacheSize),
			CacheTTL:           env.GetDuration("TRANSLATION_CACHE_TTL", constants.TranslationCacheTTL),
			PartialResults:     env.GetBool("SPEECH_PARTIAL_RESULTS", true),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Speech.MinAudioBytes < 1 {
		return fmt.Errorf("SPEECH_MIN_AUDIO_BYTES must be positive")
	}
	if c.Speech.MaxAudioBytes <= c.Speech.MinAudioBytes {
		return fmt.Errorf("SPEECH_MAX_AUDIO_BYTES must exceed SPEECH_MIN_AUDIO_BYTES")
	}
	if c.Speech.PlaybackQueueDepth < 1 {
		return fmt.Errorf("SPEECH_PLAYBACK_QUEUE_DEPTH must be positive")
	}

	return nil
}

// DSN returns the CockroachDB connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns the Redis address in host:port form
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitCSV(value string) []string {
	var result []string
	for i := 0; i < len(value); {
		j := i
		for j < len(value) && value[j] != ',' {
			j++
		}
		if i < j {
			result = append(result, value[i:j])
		}
		i = j + 1
	}
	return result
}
