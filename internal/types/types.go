package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleViewer    Role = "viewer"
)

// Party is the immutable configuration for a watch party. The realtime
// core reads it once when a room is created and never writes it back.
type Party struct {
	Id                  int       `json:"id"`
	ExternalId          string    `json:"external_id"`
	Title               string    `json:"title"`
	HostId              int       `json:"host_id"`
	VideoRef            string    `json:"video_ref"`
	Visibility          string    `json:"visibility"`
	MaxParticipants     int       `json:"max_participants"`
	CoHostAllowed       bool      `json:"co_host_allowed"`
	HostReclaimOnResume bool      `json:"host_reclaim_on_resume"`
	ScheduledStart      time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd        time.Time `json:"scheduled_end,omitempty"`
	Ended               bool      `json:"ended"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}
