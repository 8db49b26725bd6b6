package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/history"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/types"
)

type stopReq struct {
	done chan struct{}
}

type unloadRoomRequest struct {
	partyId string
	deleted bool
	reason  string
	// crashed means the room goroutine is already gone; no exit
	// handshake is possible
	crashed bool
	done    chan error
}

// PartyServer is the registry of live rooms. Room creation, lookup and
// teardown are serialized on its Run loop; message traffic never passes
// through here.
type PartyServer struct {
	log            *log.Logger
	db             database.PartyRepository
	stats          stats.StatsProvider
	sink           history.Sink
	tun            tunables
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	stop           chan stopReq
}

func NewPartyServer(logger *log.Logger, db database.PartyRepository, su stats.StatsProvider, sink history.Sink, cfg *config.Config) (*PartyServer, error) {
	tun := tunablesFrom(cfg)
	ps := &PartyServer{
		log:            logger,
		db:             db,
		stats:          su,
		sink:           sink,
		tun:            tun,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, tun.roomQueueSize),
		unloadRoomChan: make(chan unloadRoomRequest, 16),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopReq),
	}

	for _, metric := range []string{"NumActiveParties", "NumSessions", "NumEventsBroadcast", "NumRejections"} {
		su.RegisterMetric(metric)
	}

	return ps, nil
}

func (ps *PartyServer) Run() {
	for {
		select {
		case msg := <-ps.joinChan:
			ps.handleJoin(msg)
		case req := <-ps.unloadRoomChan:
			ps.handleUnload(req)
		case req := <-ps.stop:
			ps.log.Println("shutting down rooms")
			for _, r := range ps.rooms {
				ps.log.Printf("shutting down room %q", r.party.ExternalId)
				done := make(chan string)
				r.exit <- exitReq{reason: "server shutting down", done: done}
				<-done
			}
			ps.rooms = make(map[string]*Room)

			close(req.done)
			return
		}
	}
}

func (ps *PartyServer) handleJoin(msg *ClientMessage) {
	partyId := msg.partyId()
	if partyId == "" {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if room, ok := ps.rooms[partyId]; ok {
		select {
		case room.joinChan <- msg:
		default:
			ps.log.Printf("join channel full on room %q", partyId)
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	if msg.Resume != nil {
		// a resume cannot recreate a torn-down room; the client must
		// join fresh
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	dbParty, err := ps.db.GetPartyByExternalId(partyId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			ps.log.Println("GetPartyByExternalId:", err)
		}
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}
	if dbParty.Ended {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	room := newRoom(types.Party{
		Id:                  dbParty.Id,
		ExternalId:          dbParty.ExternalId,
		Title:               dbParty.Title,
		HostId:              dbParty.HostId,
		VideoRef:            dbParty.VideoRef,
		Visibility:          dbParty.Visibility,
		MaxParticipants:     dbParty.MaxParticipants,
		CoHostAllowed:       dbParty.CoHostAllowed,
		HostReclaimOnResume: dbParty.HostReclaimOnResume,
		CreatedAt:           dbParty.CreatedAt,
	}, ps, ps.log, ps.stats, ps.sink)

	ps.rooms[partyId] = room
	ps.stats.Incr("NumActiveParties")
	room.joinChan <- msg

	go room.run()
}

func (ps *PartyServer) handleUnload(req unloadRoomRequest) {
	r, ok := ps.rooms[req.partyId]
	if !ok {
		if req.done != nil {
			req.done <- fmt.Errorf("no loaded room %q", req.partyId)
		}
		return
	}

	delete(ps.rooms, req.partyId)
	ps.stats.Decr("NumActiveParties")

	if !req.crashed {
		done := make(chan string)
		r.exit <- exitReq{deleted: req.deleted, reason: req.reason, done: done}
		<-done
	}

	if req.done != nil {
		req.done <- nil
	}
}

// partyId extracts the target party from whichever request field is
// set.
func (msg *ClientMessage) partyId() string {
	switch {
	case msg.Join != nil:
		return msg.Join.PartyId
	case msg.Resume != nil:
		return msg.Resume.PartyId
	case msg.Leave != nil:
		return msg.Leave.PartyId
	}

	return ""
}

// UnloadParty tears down a live room, notifying its sessions. Used by
// the API layer when a host ends a party. Returns nil if no room was
// loaded.
func (ps *PartyServer) UnloadParty(ctx context.Context, partyId string) error {
	done := make(chan error, 1)
	select {
	case ps.unloadRoomChan <- unloadRoomRequest{partyId: partyId, deleted: true, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		if err != nil {
			ps.log.Println("unload party:", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dropCrashedRoom is called from a dying room goroutine so the registry
// forgets it; the next join recreates the room from the party record.
func (ps *PartyServer) dropCrashedRoom(partyId string) {
	select {
	case ps.unloadRoomChan <- unloadRoomRequest{partyId: partyId, crashed: true}:
	default:
		ps.log.Printf("unload channel full, room %q left to idle teardown", partyId)
	}
}

func (ps *PartyServer) RegisterClient(c *Client) {
	ps.clientsLock.Lock()
	defer ps.clientsLock.Unlock()

	ps.clients[c] = struct{}{}
	ps.stats.Incr("NumSessions")
}

func (ps *PartyServer) DeregisterClient(c *Client) {
	ps.clientsLock.Lock()
	defer ps.clientsLock.Unlock()

	if _, ok := ps.clients[c]; ok {
		delete(ps.clients, c)
		ps.stats.Decr("NumSessions")
	}
}

func (ps *PartyServer) Shutdown(ctx context.Context) error {
	ps.clientsLock.Lock()
	for c := range ps.clients {
		c.stopClient()
	}
	ps.clientsLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case ps.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
