package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/app"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Deps struct {
	Rooms    *rooms.Service
	Members  *membership.Tracker
	Chat     *chat.Service
	Control  *control.Coordinator
	Users    core.UserStore
	Bus      core.Bus
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *RoomRateLimiter

	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Deps
}

func NewSignalWSController(d Deps) *SignalWSController {
	if d.Registry == nil {
		d.Registry = app.NewRegistry()
	}
	if d.Policy == nil {
		d.Policy = app.SimplePolicy{}
	}
	if d.Limiter == nil {
		d.Limiter = DefaultRoomRateLimiter()
	}
	if d.PingPeriod <= 0 {
		d.PingPeriod = 54 * time.Second
	}
	if d.SendBuffer <= 0 {
		d.SendBuffer = 64
	}
	return &SignalWSController{Deps: d}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is the per-connection state: who is talking and which room the
// connection currently follows.
type client struct {
	sid  core.SessionID
	user *domain.User
	conn *WsSignalConn
	sess core.MemberSession
	ctx  context.Context

	mu   sync.Mutex
	room domain.RoomID
	host domain.UserID
	subs []core.Subscription
}

func (cl *client) Room() (domain.RoomID, domain.UserID) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.room, cl.host
}

func (cl *client) attach(room domain.RoomID, host domain.UserID, subs []core.Subscription) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.room = room
	cl.host = host
	cl.subs = subs
}

// detach clears the room association and ends its subscriptions.
func (cl *client) detach() domain.RoomID {
	cl.mu.Lock()
	room, subs := cl.room, cl.subs
	cl.room, cl.host, cl.subs = "", "", nil
	cl.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
	return room
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request for an authenticated user. A room query
// parameter joins that room right away.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, user *domain.User) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	cl := &client{
		sid:  sid,
		user: user,
		conn: conn,
		sess: core.NewMemberSession(user, conn),
		ctx:  ctx,
	}
	ctl.Registry.BindSignal(sid, cl.sess, cancel)
	metrics.SignalConnections.Set(float64(ctl.Registry.Len()))

	go ctl.writePump(ctx, conn)
	if room := c.Query("room"); room != "" {
		ctl.join(cl, domain.RoomID(room))
	}
	go ctl.readPump(ctx, cancel, cl)
}

// disconnect runs once the read side is gone. Membership is kept; only the
// presence flag drops, and only if no other connection of the same user is
// still in the room.
func (ctl *SignalWSController) disconnect(cl *client) {
	room, sess, inRoom := ctl.Registry.RoomOf(cl.sid)
	cl.detach()
	ctl.Registry.Unbind(cl.sid)
	ctl.Policy.Release(cl.sess)
	metrics.SignalConnections.Set(float64(ctl.Registry.Len()))
	if !inRoom || ctl.Registry.ConnectedIn(room, sess.User().ID, cl.sid) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cl.ctx), 5*time.Second)
	defer cancel()
	if err := ctl.Members.SetConnected(ctx, room, cl.user.ID, false); err != nil && !errors.Is(err, domain.ErrNotMember) {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room)).Str("user", string(cl.user.ID)).Msg("mark disconnected")
	}
}

// onBackpressure applies the policy to a session whose send queue is full.
// Sessions already unbound are ignored.
func (ctl *SignalWSController) onBackpressure(sid core.SessionID) {
	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		return
	}
	action := ctl.Policy.OnBackPressure(sess)
	ev := log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("user", string(sess.User().ID)).Str("action", action.String())
	switch action {
	case app.KickMember:
		ev.Msg("slow connection kicked")
		ctl.Registry.Cancel(sid)
	case app.MarkSlow:
		ev.Msg("slow connection")
	default:
		ev.Msg("frame dropped")
	}
}
