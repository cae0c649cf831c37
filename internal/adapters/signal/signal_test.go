package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/adapters/store/notify"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	srv   *httptest.Server
	store *notify.Store
	room  *domain.Room
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := busmem.New()
	t.Cleanup(func() { _ = bus.Close() })
	store := notify.Wrap(storemem.New(), bus)
	for id, nick := range map[domain.UserID]string{"host": "Host", "b": "Bee", "c": "Sea"} {
		require.NoError(t, store.CreateUser(ctx, &domain.User{ID: id, Nickname: nick}))
	}

	roomSvc := rooms.NewService(store, rooms.Limits{DefaultMaxParticipants: 4, MaxParticipantsLimit: 10})
	room, err := roomSvc.Create(ctx, "Standup", "host", 0)
	require.NoError(t, err)

	ctl := NewSignalWSController(Deps{
		Rooms:   roomSvc,
		Members: membership.NewTracker(store),
		Chat:    chat.NewService(store, bus, domain.ChatPageSize),
		Control: control.NewCoordinator(control.NewAuthority(store), bus),
		Users:   store,
		Bus:     bus,
		Limiter: NewRoomRateLimiter(2, time.Minute),
	})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		u, err := store.GetUser(c.Request.Context(), domain.UserID(c.Query("as")))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		ctl.HandleSignal(ctx, c, u)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, store: store, room: room}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type frame map[string]any

func (s *stack) dial(t *testing.T, as domain.UserID, room domain.RoomID) *wsClient {
	t.Helper()
	q := url.Values{"as": {string(as)}}
	if room != "" {
		q.Set("room", string(room))
	}
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// expect skips frames until one of type typ matches pred.
func (c *wsClient) expect(typ string, pred func(frame) bool) frame {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var f frame
		require.NoError(c.t, json.Unmarshal(data, &f))
		if f["type"] == typ && (pred == nil || pred(f)) {
			return f
		}
	}
}

func field(f frame, path ...string) any {
	var cur any = map[string]any(f)
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func TestJoinSendsRoomStateAndMemberEvents(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	state := host.expect("room_state", nil)
	assert.Equal(t, "host", state["controller"])
	assert.Equal(t, string(s.room.ID), field(state, "room", "id"))

	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	joined := host.expect("member_joined", nil)
	assert.Equal(t, "b", field(joined, "participant", "user_id"))
	assert.Equal(t, "Bee", field(joined, "participant", "nickname"))

	p, err := s.store.GetParticipant(context.Background(), s.room.ID, "b")
	require.NoError(t, err)
	assert.True(t, p.IsConnected)
}

func TestDisconnectKeepsMembership(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	host.expect("room_state", nil)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	require.NoError(t, b.conn.Close())
	host.expect("member_updated", func(f frame) bool {
		return field(f, "participant", "user_id") == "b" && field(f, "participant", "is_connected") == false
	})

	p, err := s.store.GetParticipant(context.Background(), s.room.ID, "b")
	require.NoError(t, err)
	assert.False(t, p.IsConnected)
}

func TestLeaveRemovesMembership(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	host.expect("room_state", nil)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	b.send(map[string]any{"type": "leave"})
	b.expect("left", nil)
	host.expect("member_left", func(f frame) bool { return field(f, "participant", "user_id") == "b" })

	_, err := s.store.GetParticipant(context.Background(), s.room.ID, "b")
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestControlFlowOverSignal(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	host.expect("room_state", nil)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	b.send(map[string]any{"type": "request_control"})
	res := b.expect("control_result", nil)
	assert.Equal(t, "request", res["op"])
	assert.Equal(t, true, res["success"])
	req := host.expect("control_requested", nil)
	assert.Equal(t, "b", req["requester"])

	// only the host may grant
	b.send(map[string]any{"type": "grant_control", "target": "b"})
	res = b.expect("control_result", nil)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, domain.ErrNotAuthorized.Error(), res["error"])

	host.send(map[string]any{"type": "grant_control", "target": "b"})
	res = host.expect("control_result", nil)
	assert.Equal(t, "grant", res["op"])
	assert.Equal(t, true, res["success"])
	b.expect("controller_changed", func(f frame) bool { return f["controller"] == "b" })
	host.expect("controller_changed", func(f frame) bool { return f["controller"] == "b" })

	host.send(map[string]any{"type": "revoke_control"})
	host.expect("control_result", func(f frame) bool { return f["op"] == "revoke" && f["success"] == true })
	b.expect("controller_changed", func(f frame) bool { return f["controller"] == "host" })
}

func TestControlRequestsAreRateLimited(t *testing.T) {
	s := newStack(t)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	for i := 0; i < 2; i++ {
		b.send(map[string]any{"type": "request_control"})
		assert.Equal(t, true, b.expect("control_result", nil)["success"])
	}
	b.send(map[string]any{"type": "request_control"})
	res := b.expect("control_result", nil)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, errRateLimited.Error(), res["error"])
}

func TestPeerSignalsAreRelayed(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	host.expect("room_state", nil)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	host.send(map[string]any{
		"type": "offer",
		"to":   "b",
		"sdp":  map[string]any{"type": "offer", "sdp": "v=0\r\n"},
	})
	offer := b.expect("offer", nil)
	assert.Equal(t, "host", offer["from"])
	assert.Equal(t, "v=0\r\n", field(offer, "sdp", "sdp"))

	b.send(map[string]any{
		"type":      "candidate",
		"to":        "host",
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 1 10.0.0.2 5000 typ host", "sdpMid": "0"},
	})
	cand := host.expect("candidate", nil)
	assert.Equal(t, "b", cand["from"])
	assert.Equal(t, "0", field(cand, "candidate", "sdpMid"))

	b.send(map[string]any{"type": "answer", "to": "host"})
	b.expect("error", func(f frame) bool { return f["error"] == errBadPayload.Error() })
}

func TestChatOverSignal(t *testing.T) {
	s := newStack(t)
	host := s.dial(t, "host", s.room.ID)
	host.expect("room_state", nil)
	b := s.dial(t, "b", s.room.ID)
	b.expect("room_state", nil)

	b.send(map[string]any{"type": "chat", "message": "  hello  "})
	msg := host.expect("chat_message", nil)
	assert.Equal(t, "hello", field(msg, "message", "message"))
	assert.Equal(t, "Bee", field(msg, "message", "user_nickname"))
	b.expect("chat_message", nil)

	b.send(map[string]any{"type": "chat", "message": "   "})
	b.expect("error", func(f frame) bool { return f["error"] == domain.ErrMessageEmpty.Error() })

	c := s.dial(t, "c", s.room.ID)
	state := c.expect("room_state", nil)
	messages, _ := state["messages"].([]any)
	assert.Len(t, messages, 1)
}

func TestMisc(t *testing.T) {
	s := newStack(t)
	c := s.dial(t, "c", "")

	c.send(map[string]any{"type": "ping"})
	c.expect("pong", nil)

	c.send(map[string]any{"type": "whoami"})
	who := c.expect("whoami", nil)
	assert.Equal(t, "c", who["user_id"])
	assert.Equal(t, "Sea", who["nickname"])
	assert.Nil(t, who["room"])

	c.send(map[string]any{"type": "request_control"})
	res := c.expect("control_result", nil)
	assert.Equal(t, errNotInRoom.Error(), res["error"])

	c.send(map[string]any{"type": "dance"})
	c.expect("error", func(f frame) bool { return f["error"] == errUnknownType.Error() })

	c.send(map[string]any{"type": "join", "room": "missing"})
	c.expect("error", func(f frame) bool { return f["error"] == domain.ErrRoomNotFound.Error() })

	c.send(map[string]any{"type": "join", "room": string(s.room.ID)})
	c.expect("room_state", nil)
	c.send(map[string]any{"type": "whoami"})
	who = c.expect("whoami", nil)
	assert.Equal(t, string(s.room.ID), who["room"])
	assert.Equal(t, "host", who["host"])
}
