package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/history"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/npezzotti/go-watchparty/internal/testutil"
	"github.com/npezzotti/go-watchparty/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestPartyServer creates a PartyServer instance for testing purposes
func newTestPartyServer(t *testing.T, db database.PartyRepository, su *stats.MockStatsUpdater) *PartyServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	ps, err := NewPartyServer(logger, db, su, history.NopSink{}, nil)
	if err != nil {
		t.Fatalf("failed to create test PartyServer: %v", err)
	}
	return ps
}

func TestNewPartyServer(t *testing.T) {
	db := &database.MockPartyRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	ps, err := NewPartyServer(logger, db, su, history.NopSink{}, nil)
	assert.NoError(t, err, "expected no error creating PartyServer")
	assert.NotNil(t, ps, "expected PartyServer to be non-nil")
	assert.Equal(t, logger, ps.log, "expected logger to be set")
	assert.Equal(t, db, ps.db, "expected database repository to be set")
	assert.NotNil(t, ps.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, ps.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, ps.stop, "expected stop channel to be initialized")
	assert.NotNil(t, ps.clients, "expected clients map to be initialized")
	assert.NotNil(t, ps.rooms, "expected rooms map to be initialized")
}

func Test_PartyServer_handleJoin(t *testing.T) {
	dbParty := database.Party{
		Id:              1,
		ExternalId:      "testparty",
		Title:           "movie night",
		HostId:          1,
		VideoRef:        "video-1",
		MaxParticipants: 10,
	}

	t.Run("creates room from party record", func(t *testing.T) {
		db := &database.MockPartyRepository{}
		defer db.AssertExpectations(t)
		db.On("GetPartyByExternalId", "testparty").Return(dbParty, nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveParties").Once()
		su.On("Add", "NumEventsBroadcast", mock.Anything)
		ps := newTestPartyServer(t, db, su)

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(joinMessage(c, "testparty", 1))

		room, ok := ps.rooms["testparty"]
		assert.True(t, ok, "expected room to be registered")
		assert.Equal(t, "testparty", room.party.ExternalId)
		assert.Equal(t, 10, room.party.MaxParticipants)

		var msgs []*ServerMessage
		assert.Eventually(t, func() bool {
			msgs = append(msgs, drainMessages(c)...)
			return len(msgs) >= 2
		}, time.Second, 10*time.Millisecond, "expected the new room to process the join")
		assert.NotNil(t, msgs[0].Snapshot, "expected snapshot from the new room")
	})

	t.Run("forwards join to existing room", func(t *testing.T) {
		db := &database.MockPartyRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		ps := newTestPartyServer(t, db, su)

		room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
		ps.rooms["testparty"] = room

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(joinMessage(c, "testparty", 1))

		assert.Len(t, room.joinChan, 1, "expected join forwarded without a db lookup")
	})

	t.Run("room join channel full", func(t *testing.T) {
		db := &database.MockPartyRepository{}
		su := &stats.MockStatsUpdater{}
		ps := newTestPartyServer(t, db, su)

		room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
		room.joinChan = make(chan *ClientMessage, 1)
		room.joinChan <- &ClientMessage{}
		ps.rooms["testparty"] = room

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(joinMessage(c, "testparty", 1))

		msgs := drainMessages(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 503, msgs[0].Response.ResponseCode, "expected unavailable when the room cannot accept the join")
	})

	t.Run("resume cannot recreate a room", func(t *testing.T) {
		db := &database.MockPartyRepository{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		ps := newTestPartyServer(t, db, su)

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Resume:      &Resume{PartyId: "testparty", LastSeq: 5},
			UserId:      1,
			client:      c,
		})

		msgs := drainMessages(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 404, msgs[0].Response.ResponseCode)
		assert.Equal(t, ReasonNotFound, msgs[0].Response.Reason, "expected resume on a torn-down room to require a fresh join")
		assert.Empty(t, ps.rooms, "expected no room created for a resume")
	})

	t.Run("party not found", func(t *testing.T) {
		db := &database.MockPartyRepository{}
		defer db.AssertExpectations(t)
		db.On("GetPartyByExternalId", "missing").Return(database.Party{}, sql.ErrNoRows).Once()

		ps := newTestPartyServer(t, db, &stats.MockStatsUpdater{})

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(joinMessage(c, "missing", 1))

		msgs := drainMessages(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 404, msgs[0].Response.ResponseCode)
	})

	t.Run("ended party not joinable", func(t *testing.T) {
		ended := dbParty
		ended.Ended = true

		db := &database.MockPartyRepository{}
		defer db.AssertExpectations(t)
		db.On("GetPartyByExternalId", "testparty").Return(ended, nil).Once()

		ps := newTestPartyServer(t, db, &stats.MockStatsUpdater{})

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(joinMessage(c, "testparty", 1))

		msgs := drainMessages(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 404, msgs[0].Response.ResponseCode, "expected ended party to be unjoinable")
	})

	t.Run("missing party id", func(t *testing.T) {
		ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})

		c := newTestClient(t, 1, "host", "s1")
		ps.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			UserId:      1,
			client:      c,
		})

		msgs := drainMessages(c)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 400, msgs[0].Response.ResponseCode)
	})
}

func Test_PartyServer_handleUnload(t *testing.T) {
	t.Run("unloads a live room", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", "NumActiveParties").Once()
		defer su.AssertExpectations(t)

		ps := newTestPartyServer(t, &database.MockPartyRepository{}, su)

		room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
		ps.rooms["testparty"] = room

		// stand in for the room goroutine answering the exit handshake
		go func() {
			e := <-room.exit
			e.done <- "testparty"
		}()

		done := make(chan error, 1)
		ps.handleUnload(unloadRoomRequest{partyId: "testparty", deleted: true, done: done})

		assert.Empty(t, ps.rooms, "expected room removed from registry")
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("timeout: handleUnload did not complete")
		}
	})

	t.Run("crashed room skips the handshake", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Decr", "NumActiveParties").Once()
		defer su.AssertExpectations(t)

		ps := newTestPartyServer(t, &database.MockPartyRepository{}, su)
		room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
		ps.rooms["testparty"] = room

		ps.handleUnload(unloadRoomRequest{partyId: "testparty", crashed: true})
		assert.Empty(t, ps.rooms, "expected crashed room dropped without a handshake")
	})

	t.Run("unknown room reports an error", func(t *testing.T) {
		ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})

		done := make(chan error, 1)
		ps.handleUnload(unloadRoomRequest{partyId: "missing", done: done})

		select {
		case err := <-done:
			assert.Error(t, err, "expected error for unknown room")
		default:
			t.Error("expected error on done channel")
		}
	})
}

func Test_UnloadParty(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", "NumActiveParties").Once()

	ps := newTestPartyServer(t, &database.MockPartyRepository{}, su)
	go ps.Run()

	room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
	ps.rooms["testparty"] = room
	go func() {
		e := <-room.exit
		e.done <- "testparty"
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := ps.UnloadParty(ctx, "testparty")
	assert.NoError(t, err, "expected unload to succeed")

	// unknown party is not an error for the caller
	err = ps.UnloadParty(ctx, "missing")
	assert.NoError(t, err)
}

func Test_dropCrashedRoom(t *testing.T) {
	ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})

	ps.dropCrashedRoom("testparty")

	select {
	case req := <-ps.unloadRoomChan:
		assert.Equal(t, "testparty", req.partyId)
		assert.True(t, req.crashed, "expected crashed flag set")
	default:
		t.Error("expected unload request for crashed room")
	}
}

func Test_RegisterDeregisterClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumSessions").Once()
	su.On("Decr", "NumSessions").Once()
	defer su.AssertExpectations(t)

	ps := newTestPartyServer(t, &database.MockPartyRepository{}, su)

	c := newTestClient(t, 1, "testuser", "s1")
	ps.RegisterClient(c)
	assert.Contains(t, ps.clients, c, "expected client registered")

	ps.DeregisterClient(c)
	assert.NotContains(t, ps.clients, c, "expected client deregistered")

	// deregistering twice must not double-decrement
	ps.DeregisterClient(c)
}

func TestPartyServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-ps.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := ps.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-ps.stop:
				// never answer, simulating a hang
			case <-time.After(time.Second):
			}
		}()

		err := ps.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestPartyServerShutdown_Integration(t *testing.T) {
	t.Run("successful shutdown with no rooms", func(t *testing.T) {
		ps := newTestPartyServer(t, &database.MockPartyRepository{}, &stats.MockStatsUpdater{})
		go ps.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := ps.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("successful shutdown with active rooms", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveParties").Once()
		su.On("Add", "NumEventsBroadcast", mock.Anything)
		defer su.AssertExpectations(t)

		db := &database.MockPartyRepository{}
		db.On("GetPartyByExternalId", "testparty").Return(database.Party{
			Id:         1,
			ExternalId: "testparty",
			HostId:     1,
		}, nil).Once()

		ps := newTestPartyServer(t, db, su)
		go ps.Run()

		c := newTestClient(t, 1, "host", "s1")
		ps.joinChan <- joinMessage(c, "testparty", 1)

		// wait for the registry to create the room
		assert.Eventually(t, func() bool {
			msgs := drainMessages(c)
			return len(msgs) > 0
		}, time.Second, 10*time.Millisecond, "expected join to be processed")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := ps.Shutdown(ctx)
		assert.NoError(t, err, "expected shutdown to drain active rooms")
	})
}

func TestNewPartyServer_configTunables(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	cfg := &config.Config{
		ReconnectWindow:  time.Minute,
		BufferingTimeout: 2 * time.Second,
		SendQueueSize:    8,
		RoomQueueSize:    4,
		ChatBurst:        2,
	}

	ps, err := NewPartyServer(testutil.TestLogger(t), &database.MockPartyRepository{}, su, history.NopSink{}, cfg)
	assert.NoError(t, err)

	assert.Equal(t, time.Minute, ps.tun.reconnectWindow)
	assert.Equal(t, 2*time.Second, ps.tun.bufferingTimeout)
	assert.Equal(t, float64(2), ps.tun.chatBurst)

	// unset fields keep the defaults
	assert.Equal(t, config.DefaultIdleRoomTimeout, ps.tun.idleRoomTimeout)
	assert.Equal(t, float64(config.DefaultChatPerSecond), ps.tun.chatPerSecond)

	c := NewClient(types.User{Id: 1, Username: "testuser"}, "s1", nil, ps, testutil.TestLogger(t))
	assert.Equal(t, 8, cap(c.send), "expected the configured send queue size")

	room := newRoom(types.Party{ExternalId: "testparty"}, ps, testutil.TestLogger(t), su, history.NopSink{})
	assert.Equal(t, 4, cap(room.intentChan), "expected the configured room queue size")
	assert.Equal(t, time.Minute, room.tun.reconnectWindow)
}
