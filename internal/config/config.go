package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultSweepInterval     = 20 * time.Second
	DefaultPresenceTTL       = 60 * time.Second
	DefaultTypingTimeout     = 5 * time.Second
	DefaultRedisPrefix       = "presence"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string

	// RedisAddr selects the shared store and bus. Empty runs a single
	// process on the in-memory store.
	RedisAddr   string
	RedisPrefix string
	InstanceId  string

	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	SweepInterval     time.Duration
	TypingTimeout     time.Duration
}

// Params holds the raw values read from flags and the environment.
type Params struct {
	ServerAddr        string
	DatabaseDSN       string
	SigningSecret     string
	AllowedOrigins    []string
	RedisAddr         string
	RedisPrefix       string
	InstanceId        string
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	SweepInterval     time.Duration
	TypingTimeout     time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty key")
	}
	return key, nil
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:        p.ServerAddr,
		DatabaseDSN:       p.DatabaseDSN,
		SigningKey:        signingKey,
		AllowedOrigins:    p.AllowedOrigins,
		RedisAddr:         p.RedisAddr,
		RedisPrefix:       p.RedisPrefix,
		InstanceId:        p.InstanceId,
		HeartbeatInterval: p.HeartbeatInterval,
		PresenceTTL:       p.PresenceTTL,
		SweepInterval:     p.SweepInterval,
		TypingTimeout:     p.TypingTimeout,
	}
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.RedisPrefix == "" {
		c.RedisPrefix = DefaultRedisPrefix
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = DefaultPresenceTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.TypingTimeout == 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
}

func (c *Config) validate() error {
	if c.HeartbeatInterval < 0 || c.PresenceTTL < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("intervals cannot be negative")
	}
	// heartbeat < sweep < ttl
	if c.HeartbeatInterval >= c.SweepInterval {
		return fmt.Errorf("heartbeat interval %s must be shorter than sweep interval %s",
			c.HeartbeatInterval, c.SweepInterval)
	}
	if c.SweepInterval >= c.PresenceTTL {
		return fmt.Errorf("sweep interval %s must be shorter than presence ttl %s",
			c.SweepInterval, c.PresenceTTL)
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("typing timeout must be positive")
	}
	return nil
}
