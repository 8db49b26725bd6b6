package server

import (
	"sort"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

type ConnectionStatus string

const (
	ConnActive       ConnectionStatus = "active"
	ConnReconnecting ConnectionStatus = "reconnecting"
)

type Participant struct {
	UserId    int              `json:"user_id"`
	Username  string           `json:"username"`
	SessionId string           `json:"session_id"`
	Role      types.Role       `json:"role"`
	JoinedAt  time.Time        `json:"joined_at"`
	Status    ConnectionStatus `json:"status"`
	// reportedPosition is the participant's last drift report. Purely
	// informational; never folded into authoritative state.
	reportedPosition float64
	// deadline is the instant a reconnecting participant is finalized
	// as left. Zero while active.
	deadline time.Time
}

// roster tracks one room's participants keyed by user id, so the same
// user can never hold two entries. The session id is a secondary
// pointer updated when a newer session supersedes an older one.
type roster struct {
	byUser map[int]*Participant
	max    int
}

func newRoster(max int) *roster {
	return &roster{
		byUser: make(map[int]*Participant),
		max:    max,
	}
}

func (ro *roster) get(userId int) *Participant {
	return ro.byUser[userId]
}

func (ro *roster) bySession(sessionId string) *Participant {
	for _, p := range ro.byUser {
		if p.SessionId == sessionId {
			return p
		}
	}

	return nil
}

func (ro *roster) size() int {
	return len(ro.byUser)
}

// full reports whether admitting a new user would exceed the party's
// participant cap. Reconnecting participants still hold their seat.
func (ro *roster) full() bool {
	return ro.max > 0 && len(ro.byUser) >= ro.max
}

func (ro *roster) add(p *Participant) {
	ro.byUser[p.UserId] = p
}

func (ro *roster) remove(userId int) *Participant {
	p := ro.byUser[userId]
	delete(ro.byUser, userId)
	return p
}

func (ro *roster) host() *Participant {
	for _, p := range ro.byUser {
		if p.Role == types.RoleHost {
			return p
		}
	}

	return nil
}

// participants returns a point-in-time copy ordered by join time, so
// snapshots are deterministic.
func (ro *roster) participants() []Participant {
	list := make([]Participant, 0, len(ro.byUser))
	for _, p := range ro.byUser {
		list = append(list, *p)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].UserId < list[j].UserId
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})

	return list
}

// hostCandidate picks the participant to promote when the host seat is
// vacant: the longest-tenured moderator, else the longest-tenured
// viewer. Only active participants are eligible.
func (ro *roster) hostCandidate() *Participant {
	var best *Participant
	better := func(p *Participant) bool {
		if best == nil {
			return true
		}
		if p.Role != best.Role {
			return p.Role == types.RoleModerator
		}
		if !p.JoinedAt.Equal(best.JoinedAt) {
			return p.JoinedAt.Before(best.JoinedAt)
		}
		return p.UserId < best.UserId
	}

	for _, p := range ro.byUser {
		if p.Status != ConnActive || p.Role == types.RoleHost {
			continue
		}
		if better(p) {
			best = p
		}
	}

	return best
}

// expired returns reconnecting participants whose grace window has
// elapsed at now.
func (ro *roster) expired(now time.Time) []*Participant {
	var out []*Participant
	for _, p := range ro.byUser {
		if p.Status == ConnReconnecting && !p.deadline.After(now) {
			out = append(out, p)
		}
	}

	return out
}

// nextDeadline reports the earliest pending reconnect deadline.
func (ro *roster) nextDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, p := range ro.byUser {
		if p.Status != ConnReconnecting {
			continue
		}
		if !found || p.deadline.Before(earliest) {
			earliest = p.deadline
			found = true
		}
	}

	return earliest, found
}
