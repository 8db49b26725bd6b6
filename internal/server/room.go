package server

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/history"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
)

const (
	maxPollDuration = time.Hour
	maxChatLen      = 512

	chatBurst = config.DefaultChatBurst
)

type exitReq struct {
	// deleted indicates the party was ended by its host rather than
	// unloaded for being idle
	deleted bool
	reason  string
	done    chan string
}

type leaveReq struct {
	client   *Client
	id       int
	graceful bool
}

type sessionLimits struct {
	chat     *tokenBucket
	reaction *tokenBucket
}

// Room is the serialization point for one party. Every mutation runs on
// the room's own goroutine, so state needs no locking and all timers
// fire in the same select loop as intents.
type Room struct {
	party types.Party
	ps    *PartyServer
	log   *log.Logger
	stats stats.StatsProvider
	sink  history.Sink
	tun   tunables

	joinChan   chan *ClientMessage
	leaveChan  chan *leaveReq
	intentChan chan *ClientMessage
	exit       chan exitReq

	seq       int64
	playback  PlaybackState
	roster    *roster
	poll      *poll
	pollCount int

	clients    map[*Client]struct{}
	sessions   map[string]*Client
	limits     map[string]*sessionLimits
	clientLock sync.RWMutex

	killTimer      *time.Timer
	bufferTimer    *time.Timer
	pollTimer      *time.Timer
	reconnectTimer *time.Timer
}

func newRoom(party types.Party, ps *PartyServer, logger *log.Logger, su stats.StatsProvider, sink history.Sink) *Room {
	return &Room{
		party:      party,
		ps:         ps,
		log:        logger,
		stats:      su,
		sink:       sink,
		tun:        ps.tun,
		joinChan:   make(chan *ClientMessage, ps.tun.roomQueueSize),
		leaveChan:  make(chan *leaveReq, ps.tun.roomQueueSize),
		intentChan: make(chan *ClientMessage, ps.tun.roomQueueSize),
		exit:       make(chan exitReq),
		playback:   newPlaybackState(),
		roster:     newRoster(party.MaxParticipants),
		clients:    make(map[*Client]struct{}),
		sessions:   make(map[string]*Client),
		limits:     make(map[string]*sessionLimits),
	}
}

func (r *Room) run() {
	r.log.Printf("starting room %q", r.party.ExternalId)

	r.killTimer = newStoppedTimer()
	r.bufferTimer = newStoppedTimer()
	r.pollTimer = newStoppedTimer()
	r.reconnectTimer = newStoppedTimer()

	defer func() {
		if p := recover(); p != nil {
			// a fault escaped the per-intent boundary: fail the room
			// visibly instead of freezing it for everyone
			r.log.Printf("room %q: fatal: %v", r.party.ExternalId, p)
			r.handleRoomExit(exitReq{reason: "internal error"})
			r.ps.dropCrashedRoom(r.party.ExternalId)
		}
	}()

	for {
		select {
		case msg := <-r.joinChan:
			if msg.Resume != nil {
				r.safely(msg.client, msg.Id, func() { r.handleResume(msg) })
			} else {
				r.safely(msg.client, msg.Id, func() { r.handleJoin(msg) })
			}
		case req := <-r.leaveChan:
			r.safely(req.client, req.id, func() { r.handleLeave(req) })
		case msg := <-r.intentChan:
			r.safely(msg.client, msg.Id, func() { r.handleIntent(msg) })
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.bufferTimer.C:
			r.safely(nil, 0, r.handleBufferingTimeout)
		case <-r.pollTimer.C:
			r.safely(nil, 0, r.closePoll)
		case <-r.reconnectTimer.C:
			r.safely(nil, 0, r.finalizeReconnects)
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

// safely runs one handler with a recovery boundary. A panicking intent
// is converted into an internal rejection for the submitting session
// and never takes the room loop down.
func (r *Room) safely(c *Client, id int, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("room %q: panic in handler: %v", r.party.ExternalId, p)
			if c != nil {
				r.reject(c, ErrInternalError(id))
			}
		}
	}()

	fn()
}

func (r *Room) handleJoin(msg *ClientMessage) {
	c := msg.client
	now := Now()

	if existing := r.roster.get(msg.UserId); existing != nil {
		r.supersede(existing, c)
		r.killTimer.Stop()

		c.queueMessage(r.snapshotMessage(msg.Id))
		r.emit(&ServerMessage{
			Roster: &RosterEvent{Action: RosterJoined, Participant: *existing, Reason: "rejoined"},
		})
		r.maybeReclaimHost(existing)
		r.resetReconnectTimer()
		return
	}

	if r.roster.full() {
		r.reject(c, ErrRoomFull(msg.Id))
		return
	}

	role := types.RoleViewer
	if msg.UserId == r.party.HostId && r.roster.host() == nil {
		role = types.RoleHost
	}

	p := &Participant{
		UserId:    msg.UserId,
		Username:  c.user.Username,
		SessionId: c.sessionId,
		Role:      role,
		JoinedAt:  now,
		Status:    ConnActive,
	}
	r.roster.add(p)
	r.addClient(c)
	r.killTimer.Stop()

	c.queueMessage(r.snapshotMessage(msg.Id))
	r.emit(&ServerMessage{
		Roster: &RosterEvent{Action: RosterJoined, Participant: *p},
	})
	r.maybeReclaimHost(p)
}

// supersede attaches a new session to an existing roster entry, evicting
// the entry's prior session if it is still connected. The roster never
// holds two entries for one user.
func (r *Room) supersede(p *Participant, c *Client) {
	if old, ok := r.getSession(p.SessionId); ok && old != c {
		r.log.Printf("room %q: superseding session %q for user %d", r.party.ExternalId, p.SessionId, p.UserId)
		r.removeClient(old)
		old.queueMessage(rejection(0, 409, ReasonConflict, "session superseded by a newer connection"))
		old.stopClient()
	}

	p.SessionId = c.sessionId
	p.Status = ConnActive
	p.deadline = time.Time{}
	r.addClient(c)
}

// maybeReclaimHost hands the host seat back to the party's original
// host when the configured policy allows it. Runs after a join or
// rejoin by any participant; only acts for the original host.
func (r *Room) maybeReclaimHost(p *Participant) {
	if p.UserId != r.party.HostId || p.Role == types.RoleHost || !r.party.HostReclaimOnResume {
		return
	}

	if cur := r.roster.host(); cur != nil {
		cur.Role = types.RoleViewer
	}
	p.Role = types.RoleHost

	r.emit(&ServerMessage{
		Roster: &RosterEvent{Action: RosterHostChanged, Participant: *p, Reason: "host_reclaimed"},
	})
}

func (r *Room) handleResume(msg *ClientMessage) {
	c := msg.client

	p := r.roster.get(msg.UserId)
	if p == nil {
		// the reconnect window elapsed (or the user never joined); the
		// session must join fresh
		r.reject(c, ErrRoomNotFound(msg.Id))
		return
	}
	if p.Status == ConnActive {
		r.reject(c, ErrConflict(msg.Id, "an active session exists for this user; join to supersede it"))
		return
	}

	p.SessionId = c.sessionId
	p.Status = ConnActive
	p.deadline = time.Time{}
	r.addClient(c)
	r.killTimer.Stop()

	// catch-up is a state snapshot, not an event replay: missed chat and
	// reactions are gone, only current authoritative state matters
	c.queueMessage(r.snapshotMessage(msg.Id))
	r.emit(&ServerMessage{
		Roster: &RosterEvent{Action: RosterJoined, Participant: *p, Reason: "resumed"},
	})
	r.resetReconnectTimer()
}

func (r *Room) handleLeave(req *leaveReq) {
	c := req.client

	p := r.roster.bySession(c.sessionId)
	if p == nil {
		// already superseded or finalized
		r.removeClient(c)
		if req.graceful {
			c.queueMessage(ErrRoomNotFound(req.id))
		}
		return
	}

	if req.graceful {
		r.roster.remove(p.UserId)
		r.removeClient(c)
		c.queueMessage(NoErrOK(req.id, nil))

		r.emit(&ServerMessage{
			Roster: &RosterEvent{Action: RosterLeft, Participant: *p},
		})

		if p.Role == types.RoleHost {
			r.promoteHost()
		}
	} else {
		p.Status = ConnReconnecting
		p.deadline = Now().Add(r.tun.reconnectWindow)
		r.removeClient(c)

		r.emit(&ServerMessage{
			Roster: &RosterEvent{Action: RosterLeft, Participant: *p, Reason: "disconnected"},
		})
		r.resetReconnectTimer()
	}

	if r.roster.size() == 0 {
		r.log.Printf("room %q is empty, starting kill timer", r.party.ExternalId)
		r.killTimer.Reset(r.tun.idleRoomTimeout)
	}
}

// promoteHost fills a vacant host seat from the longest-tenured
// moderator, else viewer. No-op when the roster has no candidates.
func (r *Room) promoteHost() {
	cand := r.roster.hostCandidate()
	if cand == nil {
		return
	}

	cand.Role = types.RoleHost
	r.log.Printf("room %q: promoted user %d to host", r.party.ExternalId, cand.UserId)
	r.emit(&ServerMessage{
		Roster: &RosterEvent{Action: RosterHostChanged, Participant: *cand, Reason: "host_left"},
	})
}

// finalizeReconnects removes participants whose reconnect window has
// elapsed and re-fills the host seat if the host was among them.
func (r *Room) finalizeReconnects() {
	now := Now()

	hostLost := false
	for _, p := range r.roster.expired(now) {
		r.log.Printf("room %q: reconnect window elapsed for user %d", r.party.ExternalId, p.UserId)
		r.roster.remove(p.UserId)
		if p.Role == types.RoleHost {
			hostLost = true
		}
	}

	if hostLost {
		r.promoteHost()
	}
	r.resetReconnectTimer()

	if r.roster.size() == 0 {
		r.log.Printf("room %q is empty, starting kill timer", r.party.ExternalId)
		r.killTimer.Reset(r.tun.idleRoomTimeout)
	}
}

func (r *Room) resetReconnectTimer() {
	if deadline, ok := r.roster.nextDeadline(); ok {
		r.reconnectTimer.Reset(time.Until(deadline))
	} else {
		r.reconnectTimer.Stop()
	}
}

func (r *Room) handleIntent(msg *ClientMessage) {
	c := msg.client

	p := r.roster.bySession(c.sessionId)
	if p == nil {
		r.reject(c, ErrRoomNotFound(msg.Id))
		return
	}

	switch {
	case msg.Control != nil:
		r.handleControl(p, c, msg)
	case msg.Chat != nil:
		r.handleChat(p, c, msg)
	case msg.Reaction != nil:
		r.handleReaction(p, c, msg)
	case msg.PollCreate != nil:
		r.handlePollCreate(p, c, msg)
	case msg.PollVote != nil:
		r.handlePollVote(p, c, msg)
	default:
		r.reject(c, ErrInvalidMessage(msg.Id))
	}
}

func (r *Room) handleControl(p *Participant, c *Client, msg *ClientMessage) {
	ctl := msg.Control
	now := Now()

	if !allowControl(p.Role, ctl.Action, r.party) {
		r.reject(c, ErrForbidden(msg.Id, "only the host can control playback"))
		return
	}

	if ctl.Action == ActionPosition {
		if ctl.Position == nil || !validPosition(*ctl.Position) {
			r.reject(c, ErrValidation(msg.Id, "position must be a non-negative number"))
			return
		}

		// drift reports are informational only
		p.reportedPosition = *ctl.Position
		c.queueMessage(NoErrAccepted(msg.Id))
		return
	}

	if err := r.playback.apply(ctl.Action, ctl.Position, ctl.Rate, now); err != nil {
		r.rejectIntent(c, msg.Id, err)
		return
	}

	switch ctl.Action {
	case ActionBuffering:
		r.bufferTimer.Reset(r.tun.bufferingTimeout)
	case ActionPlay, ActionPause, ActionEnd:
		r.bufferTimer.Stop()
	}

	c.queueMessage(NoErrAccepted(msg.Id))
	r.emit(&ServerMessage{
		Delta: &PlaybackDelta{Action: ctl.Action, Playback: r.playback, ActorId: p.UserId},
	})
}

// handleBufferingTimeout reverts a room stuck in buffering to paused so
// a host that never recovers can't freeze everyone indefinitely.
func (r *Room) handleBufferingTimeout() {
	if r.playback.Status != StatusBuffering {
		return
	}

	r.log.Printf("room %q: buffering timed out, reverting to paused", r.party.ExternalId)
	r.playback.apply(ActionPause, nil, nil, Now())
	r.emit(&ServerMessage{
		Delta: &PlaybackDelta{Action: ActionPause, Playback: r.playback},
	})
}

func (r *Room) handleChat(p *Participant, c *Client, msg *ClientMessage) {
	content := strings.TrimSpace(msg.Chat.Content)
	if content == "" || len(content) > maxChatLen {
		r.reject(c, ErrValidation(msg.Id, "chat content must be between 1 and 512 characters"))
		return
	}

	if !r.sessionLimits(c.sessionId).chat.allow(Now()) {
		r.reject(c, ErrRateLimited(msg.Id))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id))
	r.emit(&ServerMessage{
		Chat: &ChatEvent{UserId: p.UserId, Username: p.Username, Content: content},
	})
}

func (r *Room) handleReaction(p *Participant, c *Client, msg *ClientMessage) {
	emoji := msg.Reaction.Emoji
	if emoji == "" || len(emoji) > 16 {
		r.reject(c, ErrValidation(msg.Id, "invalid reaction"))
		return
	}

	if !r.sessionLimits(c.sessionId).reaction.allow(Now()) {
		r.reject(c, ErrRateLimited(msg.Id))
		return
	}

	// reactions are ephemeral: broadcast, never retained
	c.queueMessage(NoErrAccepted(msg.Id))
	r.emit(&ServerMessage{
		Reaction: &ReactionEvent{UserId: p.UserId, Username: p.Username, Emoji: emoji},
	})
}

func (r *Room) handlePollCreate(p *Participant, c *Client, msg *ClientMessage) {
	pc := msg.PollCreate

	if !allowPollCreate(p.Role, r.party) {
		r.reject(c, ErrForbidden(msg.Id, "only the host can create polls"))
		return
	}

	duration := r.tun.pollDuration
	if pc.DurationSec > 0 {
		duration = time.Duration(pc.DurationSec) * time.Second
		if duration > maxPollDuration {
			duration = maxPollDuration
		}
	}

	id := fmt.Sprintf("%s-poll-%d", r.party.ExternalId, r.pollCount+1)
	newP, err := newPoll(id, pc.Question, pc.Options, Now().Add(duration))
	if err != nil {
		r.rejectIntent(c, msg.Id, err)
		return
	}

	// a new poll implicitly closes the previous one
	r.closePoll()

	r.pollCount++
	r.poll = newP
	r.pollTimer.Reset(duration)

	info := newP.info()
	c.queueMessage(NoErrOK(msg.Id, info))
	r.emit(&ServerMessage{
		Poll: &PollEvent{Action: PollOpened, Poll: info},
	})
}

func (r *Room) handlePollVote(p *Participant, c *Client, msg *ClientMessage) {
	pv := msg.PollVote

	if r.poll == nil || (pv.PollId != "" && pv.PollId != r.poll.id) {
		r.reject(c, ErrConflict(msg.Id, "poll is closed"))
		return
	}

	if err := r.poll.vote(p.UserId, pv.OptionId); err != nil {
		r.rejectIntent(c, msg.Id, err)
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id))
	r.emit(&ServerMessage{
		Poll: &PollEvent{Action: PollTally, Poll: r.poll.info()},
	})
}

// closePoll emits the final tally and discards the poll. No-op when no
// poll is active.
func (r *Room) closePoll() {
	if r.poll == nil {
		return
	}

	info := r.poll.info()
	r.poll = nil
	r.pollTimer.Stop()

	r.emit(&ServerMessage{
		Poll: &PollEvent{Action: PollClosed, Poll: info},
	})
}

func allowPollCreate(role types.Role, party types.Party) bool {
	switch role {
	case types.RoleHost:
		return true
	case types.RoleModerator:
		return party.CoHostAllowed
	default:
		return false
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.party.ExternalId)
	select {
	case r.ps.unloadRoomChan <- unloadRoomRequest{partyId: r.party.ExternalId, reason: "idle"}:
	default:
		// registry busy; try again on the next timeout
		r.killTimer.Reset(r.tun.idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.party.ExternalId)

	reason := e.reason
	if e.deleted && reason == "" {
		reason = "party ended"
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		PartyId:     r.party.ExternalId,
		RoomClosed:  &RoomClosed{PartyId: r.party.ExternalId, Reason: reason},
	})

	// answer anything still queued when the exit won the select race, so
	// no session waits on a room that no longer runs
drain:
	for {
		select {
		case msg := <-r.joinChan:
			r.reject(msg.client, ErrRoomNotFound(msg.Id))
		case req := <-r.leaveChan:
			if req.graceful {
				req.client.queueMessage(NoErrOK(req.id, nil))
			}
		case msg := <-r.intentChan:
			r.reject(msg.client, ErrRoomNotFound(msg.Id))
		default:
			break drain
		}
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.clearRoom()
	}
	r.clients = make(map[*Client]struct{})
	r.sessions = make(map[string]*Client)
	r.limits = make(map[string]*sessionLimits)
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.party.ExternalId
	}
}

func (r *Room) snapshotMessage(ackId int) *ServerMessage {
	snap := &Snapshot{
		Party:    r.party,
		Playback: r.playback,
		Roster:   r.roster.participants(),
	}
	if r.poll != nil {
		info := r.poll.info()
		snap.Poll = &info
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Id: ackId, Timestamp: Now()},
		PartyId:     r.party.ExternalId,
		Seq:         r.seq,
		Snapshot:    snap,
	}
}

// emit assigns the next sequence number to an accepted event, fans it
// out to every connected session, and offers it to the history sink.
// Rejections never pass through here, so they can never consume a
// sequence number.
func (r *Room) emit(msg *ServerMessage) {
	r.seq++
	msg.PartyId = r.party.ExternalId
	msg.Seq = r.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	r.broadcast(msg)
	r.offerHistory(msg)
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	n := 0
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
		n++
	}

	if n > 0 {
		r.stats.Add("NumEventsBroadcast", n)
	}
}

func (r *Room) offerHistory(msg *ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Println("marshal history event:", err)
		return
	}

	r.sink.Offer(history.Event{
		PartyId:   r.party.ExternalId,
		Seq:       msg.Seq,
		Type:      eventType(msg),
		Payload:   payload,
		EmittedAt: msg.Timestamp,
	})
}

func eventType(msg *ServerMessage) string {
	switch {
	case msg.Delta != nil:
		return "delta"
	case msg.Roster != nil:
		return "roster." + msg.Roster.Action
	case msg.Chat != nil:
		return "chat"
	case msg.Reaction != nil:
		return "reaction"
	case msg.Poll != nil:
		return "poll." + msg.Poll.Action
	case msg.RoomClosed != nil:
		return "room_closed"
	default:
		return "unknown"
	}
}

func (r *Room) reject(c *Client, msg *ServerMessage) {
	r.stats.Incr("NumRejections")
	c.queueMessage(msg)
}

func (r *Room) rejectIntent(c *Client, id int, err *intentError) {
	switch err.reason {
	case ReasonConflict:
		r.reject(c, ErrConflict(id, err.msg))
	case ReasonForbidden:
		r.reject(c, ErrForbidden(id, err.msg))
	default:
		r.reject(c, ErrValidation(id, err.msg))
	}
}

func (r *Room) sessionLimits(sessionId string) *sessionLimits {
	if l, ok := r.limits[sessionId]; ok {
		return l
	}

	l := &sessionLimits{
		chat:     newTokenBucket(r.tun.chatBurst, r.tun.chatPerSecond),
		reaction: newTokenBucket(r.tun.reactionBurst, r.tun.reactionPerSecond),
	}
	r.limits[sessionId] = l
	return l
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	r.sessions[c.sessionId] = c
	c.setRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delete(r.clients, c)
	delete(r.sessions, c.sessionId)
	delete(r.limits, c.sessionId)
	c.clearRoom()
}

func (r *Room) getSession(sessionId string) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	c, ok := r.sessions[sessionId]
	return c, ok
}
