package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	AWS        AWSConfig        `yaml:"aws"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Moderation ModerationConfig `yaml:"moderation"`
	Admin      AdminConfig      `yaml:"admin"`
	APNS       APNSConfig       `yaml:"apns"`
	Files      FilesConfig      `yaml:"files"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP
	TrustProxy     bool     `yaml:"trust_proxy"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// AWSConfig holds S3 configuration for file uploads
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// JWTConfig holds the admin token signing configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// GatewayConfig holds messaging gateway limits
type GatewayConfig struct {
	MaxMessageLength int           `yaml:"max_message_length"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SessionSweep     time.Duration `yaml:"session_sweep"`
	SendBuffer       int           `yaml:"send_buffer"`
	HistoryLimit     int           `yaml:"history_limit"`
	TrialPeriod      time.Duration `yaml:"trial_period"`
}

// ModerationConfig holds critical word filter settings
type ModerationConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SeedWords       []string      `yaml:"seed_words"`
}

// AdminConfig holds admin panel access rules
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"`
}

// APNSConfig holds push notification settings. Push is disabled without a key file.
type APNSConfig struct {
	KeyFile    string `yaml:"key_file"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// FilesConfig holds temporary file settings
type FilesConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxSize     int64         `yaml:"max_size"`
	SweepPeriod time.Duration `yaml:"sweep_period"`
	URLExpiry   time.Duration `yaml:"url_expiry"`
}

// RateLimitConfig holds per-client request limits. Auth limits cover
// registration and both login routes. A zero request count disables a limit.
type RateLimitConfig struct {
	AuthRequests int           `yaml:"auth_requests"`
	AuthWindow   time.Duration `yaml:"auth_window"`
	APIRequests  int           `yaml:"api_requests"`
	APIWindow    time.Duration `yaml:"api_window"`
}

// Load reads configuration from a YAML file, applies .env and environment
// overrides, then fills defaults
func Load(path string) (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.Host, "DATABASE_HOST")
	setInt(&c.Database.Port, "DATABASE_PORT")
	setString(&c.Database.User, "DATABASE_USER")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Database.DBName, "DATABASE_NAME")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.AWS.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.AWS.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.APNS.KeyFile, "APNS_KEY_FILE")
	setInt(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")

	if ips := os.Getenv("ADMIN_ALLOWED_IPS"); ips != "" {
		c.Admin.AllowedIPs = nil
		for _, ip := range strings.Split(ips, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				c.Admin.AllowedIPs = append(c.Admin.AllowedIPs, ip)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 12 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Gateway.MaxMessageLength == 0 {
		c.Gateway.MaxMessageLength = 5000
	}
	if c.Gateway.SessionTTL == 0 {
		c.Gateway.SessionTTL = 30 * 24 * time.Hour
	}
	if c.Gateway.SessionSweep == 0 {
		c.Gateway.SessionSweep = time.Hour
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = 256
	}
	if c.Gateway.HistoryLimit == 0 {
		c.Gateway.HistoryLimit = 50
	}
	if c.Gateway.TrialPeriod == 0 {
		c.Gateway.TrialPeriod = 30 * 24 * time.Hour
	}
	if c.Moderation.RefreshInterval == 0 {
		c.Moderation.RefreshInterval = 30 * time.Second
	}
	if len(c.Admin.AllowedIPs) == 0 {
		c.Admin.AllowedIPs = []string{"127.0.0.1", "::1"}
	}
	if c.Files.TTL == 0 {
		c.Files.TTL = 24 * time.Hour
	}
	if c.Files.MaxSize == 0 {
		c.Files.MaxSize = 100 << 20
	}
	if c.Files.SweepPeriod == 0 {
		c.Files.SweepPeriod = time.Hour
	}
	if c.Files.URLExpiry == 0 {
		c.Files.URLExpiry = 5 * time.Minute
	}
	if c.RateLimit.AuthRequests == 0 {
		c.RateLimit.AuthRequests = 5
	}
	if c.RateLimit.AuthWindow == 0 {
		c.RateLimit.AuthWindow = 15 * time.Minute
	}
	if c.RateLimit.APIRequests == 0 {
		c.RateLimit.APIRequests = 100
	}
	if c.RateLimit.APIWindow == 0 {
		c.RateLimit.APIWindow = 15 * time.Minute
	}
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Gateway.MaxMessageLength < 0 {
		return fmt.Errorf("gateway.max_message_length must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PushEnabled reports whether APNs credentials are configured
func (c *APNSConfig) PushEnabled() bool {
	return c.KeyFile != "" && c.KeyID != "" && c.TeamID != ""
}

// FilesEnabled reports whether an S3 bucket is configured
func (c *AWSConfig) FilesEnabled() bool {
	return c.S3Bucket != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
