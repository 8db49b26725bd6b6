package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Room and session tunables default to these values; NewConfig fills
// any field left at zero so callers can override selectively.
const (
	DefaultIdleRoomTimeout   = 30 * time.Second
	DefaultReconnectWindow   = 45 * time.Second
	DefaultBufferingTimeout  = 10 * time.Second
	DefaultPollDuration      = 60 * time.Second
	DefaultSendQueueSize     = 256
	DefaultRoomQueueSize     = 256
	DefaultMaxMessageSize    = 4096
	DefaultChatBurst         = 5.0
	DefaultChatPerSecond     = 5.0
	DefaultReactionBurst     = 5.0
	DefaultReactionPerSecond = 5.0
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisAddr      string
	SigningKey     []byte
	AllowedOrigins []string

	IdleRoomTimeout   time.Duration
	ReconnectWindow   time.Duration
	BufferingTimeout  time.Duration
	PollDuration      time.Duration
	SendQueueSize     int
	RoomQueueSize     int
	MaxMessageSize    int64
	ChatBurst         float64
	ChatPerSecond     float64
	ReactionBurst     float64
	ReactionPerSecond float64
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, redisAddr, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		RedisAddr:      redisAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IdleRoomTimeout == 0 {
		c.IdleRoomTimeout = DefaultIdleRoomTimeout
	}
	if c.ReconnectWindow == 0 {
		c.ReconnectWindow = DefaultReconnectWindow
	}
	if c.BufferingTimeout == 0 {
		c.BufferingTimeout = DefaultBufferingTimeout
	}
	if c.PollDuration == 0 {
		c.PollDuration = DefaultPollDuration
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.RoomQueueSize == 0 {
		c.RoomQueueSize = DefaultRoomQueueSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ChatBurst == 0 {
		c.ChatBurst = DefaultChatBurst
	}
	if c.ChatPerSecond == 0 {
		c.ChatPerSecond = DefaultChatPerSecond
	}
	if c.ReactionBurst == 0 {
		c.ReactionBurst = DefaultReactionBurst
	}
	if c.ReactionPerSecond == 0 {
		c.ReactionPerSecond = DefaultReactionPerSecond
	}
}
