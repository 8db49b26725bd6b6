package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr  = "localhost:8080"
		dsn   = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		redis = "localhost:6379"
		key   = "c29tZV9zZWNyZXQ="
		orig  = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name  string
		addr  string
		dsn   string
		redis string
		key   string
		orig  []string
		err   bool
	}{
		{
			name:  "valid config",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   key,
			orig:  orig,
			err:   false,
		},
		{
			name:  "empty address",
			addr:  "",
			dsn:   dsn,
			redis: redis,
			key:   key,
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty DSN",
			addr:  addr,
			dsn:   "",
			redis: redis,
			key:   key,
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty signing key",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   "",
			orig:  orig,
			err:   true,
		},
		{
			name:  "invalid signing key",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   "not base64!!",
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty redis address is allowed",
			addr:  addr,
			dsn:   dsn,
			redis: "",
			key:   key,
			orig:  orig,
			err:   false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.redis, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)
			assert.Equal(t, tc.addr, config.ServerAddr)
			assert.Equal(t, tc.dsn, config.DatabaseDSN)
			assert.Equal(t, tc.redis, config.RedisAddr)
			assert.NotEmpty(t, config.SigningKey)
			assert.Equal(t, tc.orig, config.AllowedOrigins)
		})
	}
}

func TestNewConfig_defaults(t *testing.T) {
	cfg, err := NewConfig("localhost:8080", "dsn", "", "c29tZV9zZWNyZXQ=", nil)
	assert.NoError(t, err)

	assert.Equal(t, DefaultIdleRoomTimeout, cfg.IdleRoomTimeout)
	assert.Equal(t, DefaultReconnectWindow, cfg.ReconnectWindow)
	assert.Equal(t, DefaultBufferingTimeout, cfg.BufferingTimeout)
	assert.Equal(t, DefaultPollDuration, cfg.PollDuration)
	assert.Equal(t, DefaultSendQueueSize, cfg.SendQueueSize)
	assert.Equal(t, DefaultRoomQueueSize, cfg.RoomQueueSize)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, float64(DefaultChatBurst), cfg.ChatBurst)
	assert.Equal(t, float64(DefaultChatPerSecond), cfg.ChatPerSecond)
	assert.Equal(t, float64(DefaultReactionBurst), cfg.ReactionBurst)
	assert.Equal(t, float64(DefaultReactionPerSecond), cfg.ReactionPerSecond)
}
