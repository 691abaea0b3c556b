package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL            time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MessagesPerMinute limits how many chat messages one connection may
	// send per minute. Zero disables the limit.
	MessagesPerMinute int `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DatabasePath:      "nestmate.db",
		JWTIssuer:         "nestmate",
		JWTAudience:       "nestmate-clients",
		JWTTTL:            24 * time.Hour,
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MessagesPerMinute: 60,
	}
}
