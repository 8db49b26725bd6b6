package server

import (
	"fmt"
	"math"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

type PlaybackStatus string

const (
	StatusIdle      PlaybackStatus = "idle"
	StatusPlaying   PlaybackStatus = "playing"
	StatusPaused    PlaybackStatus = "paused"
	StatusBuffering PlaybackStatus = "buffering"
	StatusEnded     PlaybackStatus = "ended"
)

const (
	minRate = 0.25
	maxRate = 4.0
)

// PlaybackState is the authoritative transport state for one room.
// Position is the logical position at UpdatedAt; while playing, the
// current position is Position + Rate * (now - UpdatedAt).
type PlaybackState struct {
	Position  float64        `json:"position"`
	Rate      float64        `json:"rate"`
	Status    PlaybackStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
	Revision  int64          `json:"revision"`
}

func newPlaybackState() PlaybackState {
	return PlaybackState{
		Rate:   1.0,
		Status: StatusIdle,
	}
}

// PositionAt extrapolates the logical position at the given instant.
func (p PlaybackState) PositionAt(now time.Time) float64 {
	if p.Status != StatusPlaying {
		return p.Position
	}

	return p.Position + p.Rate*now.Sub(p.UpdatedAt).Seconds()
}

// intentError is a rejected intent. It carries the reason code the
// submitting session receives; other participants never see it.
type intentError struct {
	reason ReasonCode
	msg    string
}

func (e *intentError) Error() string {
	return fmt.Sprintf("%s: %s", e.reason, e.msg)
}

func validPosition(pos float64) bool {
	return !math.IsNaN(pos) && !math.IsInf(pos, 0) && pos >= 0
}

func validRate(rate float64) bool {
	return !math.IsNaN(rate) && rate >= minRate && rate <= maxRate
}

// apply validates and applies one control action. On success the
// revision is incremented; on rejection the state is untouched.
func (p *PlaybackState) apply(action string, position, rate *float64, now time.Time) *intentError {
	if p.Status == StatusEnded {
		return &intentError{ReasonConflict, "playback has ended"}
	}

	switch action {
	case ActionPlay:
		if position != nil {
			if !validPosition(*position) {
				return &intentError{ReasonValidation, "position must be a non-negative number"}
			}
			p.Position = *position
		} else {
			p.Position = p.PositionAt(now)
		}
		p.Status = StatusPlaying
	case ActionPause:
		if position != nil {
			if !validPosition(*position) {
				return &intentError{ReasonValidation, "position must be a non-negative number"}
			}
			p.Position = *position
		} else {
			// freeze the extrapolated position
			p.Position = p.PositionAt(now)
		}
		p.Status = StatusPaused
	case ActionSeek:
		if position == nil {
			return &intentError{ReasonValidation, "seek requires a position"}
		}
		if !validPosition(*position) {
			return &intentError{ReasonValidation, "position must be a non-negative number"}
		}
		p.Position = *position
		if p.Status == StatusIdle {
			p.Status = StatusPaused
		}
	case ActionSetRate:
		if rate == nil {
			return &intentError{ReasonValidation, "set_rate requires a rate"}
		}
		if !validRate(*rate) {
			return &intentError{ReasonValidation, fmt.Sprintf("rate must be between %g and %g", minRate, maxRate)}
		}
		p.Position = p.PositionAt(now)
		p.Rate = *rate
	case ActionBuffering:
		p.Position = p.PositionAt(now)
		p.Status = StatusBuffering
	case ActionEnd:
		p.Position = p.PositionAt(now)
		p.Status = StatusEnded
	default:
		return &intentError{ReasonValidation, fmt.Sprintf("unknown control action %q", action)}
	}

	p.UpdatedAt = now
	p.Revision++

	return nil
}

// allowControl is the authority check for transport-mutating intents.
// Drift reports are informational and allowed from any role; everything
// else requires the host, or a moderator when the party allows
// co-hosting.
func allowControl(role types.Role, action string, party types.Party) bool {
	if action == ActionPosition {
		return true
	}

	switch role {
	case types.RoleHost:
		return true
	case types.RoleModerator:
		return party.CoHostAllowed
	default:
		return false
	}
}
