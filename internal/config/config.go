package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Coord      CoordConfig      `mapstructure:"coord"`
	OIDC       OIDCConfig       `mapstructure:"oidc"`
	Session    SessionConfig    `mapstructure:"session"`
	Log        LogConfig        `mapstructure:"log"`
	Locks      LockConfig       `mapstructure:"locks"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Discussion DiscussionConfig `mapstructure:"discussion"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port string    `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS-specific configuration.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// DBConfig holds configuration for the relational database that backs the
// page records and the version ledger.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CoordConfig holds configuration for the shared coordination store that
// backs locks, drafts, presence, and discussion messages.
type CoordConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// OIDCConfig holds OIDC client configuration.
type OIDCConfig struct {
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// SessionConfig holds session management configuration.
type SessionConfig struct {
	SecretKey string `mapstructure:"secretkey"`
	Lifetime  int    `mapstructure:"lifetime"` // hours
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// LockConfig holds the advisory lock TTLs, in minutes.
type LockConfig struct {
	PageTTL    int `mapstructure:"page_ttl"`
	SectionTTL int `mapstructure:"section_ttl"`
}

// PageLockTTL returns the page lock TTL as a duration.
func (c LockConfig) PageLockTTL() time.Duration {
	return time.Duration(c.PageTTL) * time.Minute
}

// SectionLockTTL returns the default section lock TTL as a duration.
func (c LockConfig) SectionLockTTL() time.Duration {
	return time.Duration(c.SectionTTL) * time.Minute
}

// PresenceConfig holds the editor presence windows, in seconds.
type PresenceConfig struct {
	ActiveWindow int `mapstructure:"active_window"`
	MaxAge       int `mapstructure:"max_age"`
}

// Window returns the "considered active" window as a duration.
func (c PresenceConfig) Window() time.Duration {
	return time.Duration(c.ActiveWindow) * time.Second
}

// Expiry returns the hard sweep bound for presence rows as a duration.
func (c PresenceConfig) Expiry() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// DiscussionConfig holds the ephemeral discussion channel limits.
type DiscussionConfig struct {
	RetentionHours int `mapstructure:"retention_hours"`
	ListCap        int `mapstructure:"list_cap"`
}

// Retention returns the message retention as a duration.
func (c DiscussionConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// EventsConfig selects the transport used to notify connected viewers.
// Valid transports: "none", "websocket", "redis".
type EventsConfig struct {
	Transport     string `mapstructure:"transport"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisChannel  string `mapstructure:"redis_channel"`
	RedisPassword string `mapstructure:"redis_password"`
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("db.dsn", "wiki:wiki@tcp(localhost:3306)/wiki?parseTime=true")
	viper.SetDefault("coord.file_path", "coord.db")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("session.lifetime", 24)
	viper.SetDefault("locks.page_ttl", 120)
	viper.SetDefault("locks.section_ttl", 30)
	viper.SetDefault("presence.active_window", 60)
	viper.SetDefault("presence.max_age", 1800)
	viper.SetDefault("discussion.retention_hours", 24)
	viper.SetDefault("discussion.list_cap", 50)
	viper.SetDefault("events.transport", "websocket")
	viper.SetDefault("events.redis_addr", "localhost:6379")
	viper.SetDefault("events.redis_channel", "wiki:events")

	// Set up viper to read from config file
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/go-wiki-collab/")
	viper.AddConfigPath("$HOME/.go-wiki-collab")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	viper.SetEnvPrefix("WIKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal the config into the Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
