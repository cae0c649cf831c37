package signalclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	"github.com/dkeye/sharedview/internal/adapters/signal"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/adapters/store/notify"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// server runs the signaling endpoint; the token is taken as the user id.
func server(t *testing.T, capacity int) (string, *domain.Room) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := busmem.New()
	t.Cleanup(func() { _ = bus.Close() })
	store := notify.Wrap(storemem.New(), bus)
	for _, id := range []domain.UserID{"host", "b", "c"} {
		require.NoError(t, store.CreateUser(ctx, &domain.User{ID: id, Nickname: strings.ToUpper(string(id))}))
	}
	roomSvc := rooms.NewService(store, rooms.Limits{DefaultMaxParticipants: capacity, MaxParticipantsLimit: 10})
	room, err := roomSvc.Create(ctx, "Pairing", "host", 0)
	require.NoError(t, err)

	ctl := signal.NewSignalWSController(signal.Deps{
		Rooms:   roomSvc,
		Members: membership.NewTracker(store),
		Chat:    chat.NewService(store, bus, domain.ChatPageSize),
		Control: control.NewCoordinator(control.NewAuthority(store), bus),
		Users:   store,
		Bus:     bus,
	})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		u, err := store.GetUser(c.Request.Context(), domain.UserID(c.Query("token")))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		ctl.HandleSignal(ctx, c, u)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", room
}

func dial(t *testing.T, url string, user domain.UserID, room domain.RoomID) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, string(user), room)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDialHandshake(t *testing.T) {
	url, room := server(t, 4)
	host := dial(t, url, "host", room.ID)

	assert.Equal(t, domain.UserID("host"), host.Self())
	assert.Equal(t, room.ID, host.Room())
	r, members, _ := host.Snapshot()
	require.NotNil(t, r)
	assert.Equal(t, room.ID, r.ID)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsConnected)
}

func TestDialSurfacesJoinErrors(t *testing.T) {
	url, room := server(t, 1)

	_, err := Dial(context.Background(), url, "b", room.ID)
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	_, err = Dial(context.Background(), url, "b", "nope")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestControlPlaneRoundTrips(t *testing.T) {
	url, room := server(t, 4)
	host := dial(t, url, "host", room.ID)
	b := dial(t, url, "b", room.ID)
	ctx := context.Background()

	requests := make(chan core.ControlRequest, 1)
	_, err := host.SubscribeControlRequests(ctx, func(r core.ControlRequest) { requests <- r })
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []domain.UserID
	_, err = b.SubscribeControlChanges(ctx, func(ch core.ControllerChange) {
		mu.Lock()
		seen = append(seen, ch.ControllerID)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.RequestControl(ctx))
	select {
	case r := <-requests:
		assert.Equal(t, domain.UserID("b"), r.RequesterID)
	case <-time.After(2 * time.Second):
		t.Fatal("request not delivered to host")
	}

	assert.ErrorIs(t, b.GrantControl(ctx, "b"), domain.ErrNotAuthorized)
	assert.ErrorIs(t, host.GrantControl(ctx, "c"), domain.ErrNotMember)

	require.NoError(t, host.GrantControl(ctx, "b"))
	require.NoError(t, host.RevokeControl(ctx))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[0] == "b" && seen[1] == "host"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPeerSignalRelay(t *testing.T) {
	url, room := server(t, 4)
	host := dial(t, url, "host", room.ID)
	b := dial(t, url, "b", room.ID)
	ctx := context.Background()

	got := make(chan core.PeerSignal, 1)
	sub, err := b.SubscribePeerSignals(ctx, func(s core.PeerSignal) { got <- s })
	require.NoError(t, err)

	mid := "0"
	require.NoError(t, host.SendPeerSignal(ctx, core.PeerSignal{
		Type: core.PeerSignalCandidate,
		To:   "b",
		Candidate: &webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host",
			SDPMid:    &mid,
		},
	}))
	select {
	case s := <-got:
		assert.Equal(t, domain.UserID("host"), s.From)
		require.NotNil(t, s.Candidate)
		assert.Equal(t, "0", *s.Candidate.SDPMid)
	case <-time.After(2 * time.Second):
		t.Fatal("candidate not relayed")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestMembersAndChat(t *testing.T) {
	url, room := server(t, 4)
	host := dial(t, url, "host", room.ID)
	ctx := context.Background()

	events := make(chan string, 8)
	host.SubscribeMembers(ctx, func(ev string, p domain.ParticipantView) {
		if p.UserID == "b" {
			events <- ev
		}
	})
	msgs := make(chan domain.ChatMessageView, 1)
	host.SubscribeChat(ctx, func(m domain.ChatMessageView) { msgs <- m })

	b := dial(t, url, "b", room.ID)
	assert.Equal(t, "member_joined", <-events)

	require.NoError(t, b.SendChat(ctx, "hi"))
	select {
	case m := <-msgs:
		assert.Equal(t, "hi", m.Message)
		assert.Equal(t, "B", m.Nickname)
	case <-time.After(2 * time.Second):
		t.Fatal("chat not delivered")
	}

	require.NoError(t, b.Leave(ctx))
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev == "member_left" {
				return
			}
		case <-timeout:
			t.Fatal("member_left not delivered")
		}
	}
}

func TestClosedClient(t *testing.T) {
	url, room := server(t, 4)
	b := dial(t, url, "b", room.ID)
	b.Close()
	b.Close()

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down")
	}
	assert.ErrorIs(t, b.RequestControl(context.Background()), ErrClosed)
}
