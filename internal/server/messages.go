package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

// ReasonCode is a stable, machine-readable rejection reason. Clients key
// UI off these, not off the numeric code.
type ReasonCode string

const (
	ReasonValidation  ReasonCode = "validation"
	ReasonForbidden   ReasonCode = "forbidden"
	ReasonConflict    ReasonCode = "conflict"
	ReasonCapacity    ReasonCode = "capacity"
	ReasonRateLimited ReasonCode = "rate_limited"
	ReasonNotFound    ReasonCode = "not_found"
	ReasonInternal    ReasonCode = "internal"
	ReasonUnavailable ReasonCode = "unavailable"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Exactly one request field is
// expected to be non-nil.
type ClientMessage struct {
	BaseMessage
	Join       *Join       `json:"join,omitempty"`
	Resume     *Resume     `json:"resume,omitempty"`
	Leave      *Leave      `json:"leave,omitempty"`
	Control    *Control    `json:"control,omitempty"`
	Chat       *Chat       `json:"chat,omitempty"`
	Reaction   *Reaction   `json:"reaction,omitempty"`
	PollCreate *PollCreate `json:"poll_create,omitempty"`
	PollVote   *PollVote   `json:"poll_vote,omitempty"`
	UserId     int         `json:"-"`
	client     *Client     `json:"-"`
}

type Join struct {
	PartyId string `json:"party_id"`
}

type Resume struct {
	PartyId string `json:"party_id"`
	LastSeq int64  `json:"last_seq,omitempty"`
}

type Leave struct {
	PartyId string `json:"party_id"`
}

// Control playback actions.
const (
	ActionPlay      = "play"
	ActionPause     = "pause"
	ActionSeek      = "seek"
	ActionSetRate   = "set_rate"
	ActionBuffering = "buffering"
	ActionEnd       = "end"
	// ActionPosition is a viewer drift report. It never mutates
	// authoritative state and is accepted from any role.
	ActionPosition = "position"
)

type Control struct {
	PartyId  string   `json:"party_id"`
	Action   string   `json:"action"`
	Position *float64 `json:"position,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
}

type Chat struct {
	PartyId string `json:"party_id"`
	Content string `json:"content"`
}

type Reaction struct {
	PartyId string `json:"party_id"`
	Emoji   string `json:"emoji"`
}

type PollCreate struct {
	PartyId     string   `json:"party_id"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	DurationSec int      `json:"duration_sec,omitempty"`
}

type PollVote struct {
	PartyId  string `json:"party_id"`
	PollId   string `json:"poll_id"`
	OptionId int    `json:"option_id"`
}

// ServerMessage is the outbound envelope. Seq is set only on ordered
// room events, never on responses to the submitting session.
type ServerMessage struct {
	BaseMessage
	PartyId    string         `json:"party_id,omitempty"`
	Seq        int64          `json:"seq,omitempty"`
	Response   *Response      `json:"response,omitempty"`
	Snapshot   *Snapshot      `json:"snapshot,omitempty"`
	Delta      *PlaybackDelta `json:"delta,omitempty"`
	Roster     *RosterEvent   `json:"roster,omitempty"`
	Chat       *ChatEvent     `json:"chat,omitempty"`
	Reaction   *ReactionEvent `json:"reaction,omitempty"`
	Poll       *PollEvent     `json:"poll,omitempty"`
	RoomClosed *RoomClosed    `json:"room_closed,omitempty"`
	SkipClient *Client        `json:"-"`
}

type Response struct {
	ResponseCode int        `json:"response_code"`
	Reason       ReasonCode `json:"reason,omitempty"`
	Error        string     `json:"error,omitempty"`
	Data         any        `json:"data,omitempty"`
}

// Snapshot carries the complete current room state. It is delivered to
// a session on join and on resume instead of replaying missed events.
type Snapshot struct {
	Party    types.Party   `json:"party"`
	Playback PlaybackState `json:"playback"`
	Roster   []Participant `json:"roster"`
	Poll     *PollInfo     `json:"poll,omitempty"`
}

// PlaybackDelta describes one accepted control change.
type PlaybackDelta struct {
	Action   string        `json:"action"`
	Playback PlaybackState `json:"playback"`
	ActorId  int           `json:"actor_id,omitempty"`
}

const (
	RosterJoined      = "joined"
	RosterLeft        = "left"
	RosterHostChanged = "host_changed"
)

type RosterEvent struct {
	Action      string      `json:"action"`
	Participant Participant `json:"participant"`
	Reason      string      `json:"reason,omitempty"`
}

type ChatEvent struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

type ReactionEvent struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

const (
	PollOpened = "opened"
	PollTally  = "tally"
	PollClosed = "closed"
)

type PollEvent struct {
	Action string   `json:"action"`
	Poll   PollInfo `json:"poll"`
}

type RoomClosed struct {
	PartyId string `json:"party_id"`
	Reason  string `json:"reason,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func rejection(id, code int, reason ReasonCode, errMsg string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Reason:       reason,
			Error:        errMsg,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrValidation(id int, errMsg string) *ServerMessage {
	return rejection(id, http.StatusBadRequest, ReasonValidation, errMsg)
}

func ErrForbidden(id int, errMsg string) *ServerMessage {
	return rejection(id, http.StatusForbidden, ReasonForbidden, errMsg)
}

func ErrConflict(id int, errMsg string) *ServerMessage {
	return rejection(id, http.StatusConflict, ReasonConflict, errMsg)
}

func ErrRoomFull(id int) *ServerMessage {
	return rejection(id, http.StatusConflict, ReasonCapacity, "party is full")
}

func ErrRateLimited(id int) *ServerMessage {
	return rejection(id, http.StatusTooManyRequests, ReasonRateLimited, "rate limit exceeded")
}

func ErrRoomNotFound(id int) *ServerMessage {
	return rejection(id, http.StatusNotFound, ReasonNotFound, "party not found")
}

func ErrInternalError(id int) *ServerMessage {
	return rejection(id, http.StatusInternalServerError, ReasonInternal, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return rejection(id, http.StatusServiceUnavailable, ReasonUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	return rejection(id, http.StatusBadRequest, ReasonValidation, "invalid message format")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
