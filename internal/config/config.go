package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultJWTExpiresIn     = "24h"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "smartbill"
	DefaultPGSSLMode        = "disable"
	DefaultUploadsDir       = "uploads"
	DefaultTokenEndpoint    = "https://oapi.dingtalk.com/gettoken"
	DefaultDownloadEndpoint = "https://oapi.dingtalk.com/robot/message/file/download"
	DefaultHTTPTimeoutSecs  = 10
	DefaultMaxRedirects     = 5
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	DingTalk DingTalkConfig `toml:"dingtalk"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// URL renders the pool connection string.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type DingTalkConfig struct {
	UploadsDir         string `toml:"uploads_dir"`
	TokenEndpoint      string `toml:"token_endpoint"`
	DownloadEndpoint   string `toml:"download_endpoint"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	MaxRedirects       int    `toml:"max_redirects"`
}

func (c DingTalkConfig) HTTPTimeout() time.Duration {
	secs := c.HTTPTimeoutSeconds
	if secs <= 0 {
		secs = DefaultHTTPTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		DingTalk: DingTalkConfig{
			UploadsDir:         DefaultUploadsDir,
			TokenEndpoint:      DefaultTokenEndpoint,
			DownloadEndpoint:   DefaultDownloadEndpoint,
			HTTPTimeoutSeconds: DefaultHTTPTimeoutSecs,
			MaxRedirects:       DefaultMaxRedirects,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
