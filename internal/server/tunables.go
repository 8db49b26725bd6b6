package server

import (
	"time"

	"github.com/npezzotti/go-watchparty/internal/config"
)

// tunables are the room and session knobs, resolved once at server
// construction. A nil config means the package defaults.
type tunables struct {
	idleRoomTimeout   time.Duration
	reconnectWindow   time.Duration
	bufferingTimeout  time.Duration
	pollDuration      time.Duration
	sendQueueSize     int
	roomQueueSize     int
	maxMessageSize    int64
	chatBurst         float64
	chatPerSecond     float64
	reactionBurst     float64
	reactionPerSecond float64
}

func defaultTunables() tunables {
	return tunables{
		idleRoomTimeout:   config.DefaultIdleRoomTimeout,
		reconnectWindow:   config.DefaultReconnectWindow,
		bufferingTimeout:  config.DefaultBufferingTimeout,
		pollDuration:      config.DefaultPollDuration,
		sendQueueSize:     config.DefaultSendQueueSize,
		roomQueueSize:     config.DefaultRoomQueueSize,
		maxMessageSize:    config.DefaultMaxMessageSize,
		chatBurst:         config.DefaultChatBurst,
		chatPerSecond:     config.DefaultChatPerSecond,
		reactionBurst:     config.DefaultReactionBurst,
		reactionPerSecond: config.DefaultReactionPerSecond,
	}
}

func tunablesFrom(cfg *config.Config) tunables {
	tun := defaultTunables()
	if cfg == nil {
		return tun
	}

	if cfg.IdleRoomTimeout > 0 {
		tun.idleRoomTimeout = cfg.IdleRoomTimeout
	}
	if cfg.ReconnectWindow > 0 {
		tun.reconnectWindow = cfg.ReconnectWindow
	}
	if cfg.BufferingTimeout > 0 {
		tun.bufferingTimeout = cfg.BufferingTimeout
	}
	if cfg.PollDuration > 0 {
		tun.pollDuration = cfg.PollDuration
	}
	if cfg.SendQueueSize > 0 {
		tun.sendQueueSize = cfg.SendQueueSize
	}
	if cfg.RoomQueueSize > 0 {
		tun.roomQueueSize = cfg.RoomQueueSize
	}
	if cfg.MaxMessageSize > 0 {
		tun.maxMessageSize = cfg.MaxMessageSize
	}
	if cfg.ChatBurst > 0 {
		tun.chatBurst = cfg.ChatBurst
	}
	if cfg.ChatPerSecond > 0 {
		tun.chatPerSecond = cfg.ChatPerSecond
	}
	if cfg.ReactionBurst > 0 {
		tun.reactionBurst = cfg.ReactionBurst
	}
	if cfg.ReactionPerSecond > 0 {
		tun.reactionPerSecond = cfg.ReactionPerSecond
	}

	return tun
}
