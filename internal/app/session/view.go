// Package session is the owned handle for one user's stay in one room. It
// holds the control plane subscriptions and one transport endpoint per
// remote peer; Close tears all of it down.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotController = errors.New("not the current controller")
	ErrNoPeers       = errors.New("no connected peers")
	ErrViewClosed    = errors.New("session view closed")
)

// EndpointFactory builds a fresh endpoint for the link to peer.
type EndpointFactory func(peer domain.UserID) (core.TransportEndpoint, error)

type Options struct {
	Room        *domain.Room
	Plane       core.ControlPlane
	Signaler    core.PeerSignaler
	NewEndpoint EndpointFactory
	// Share starts the screen share on endpoints this view initiates.
	Share bool
}

type View struct {
	room        domain.RoomID
	self        domain.UserID
	plane       core.ControlPlane
	signaler    core.PeerSignaler
	newEndpoint EndpointFactory
	share       bool
	controller  *control.ControllerView
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	endpoints map[domain.UserID]core.TransportEndpoint
	early     map[domain.UserID][]webrtc.ICECandidateInit
	subs      []core.Subscription

	onController func(domain.UserID)
	onRequest    func(core.ControlRequest)
	onInput      func(from domain.UserID, sig core.ControlSignal)
	onEndpoint   func(peer domain.UserID, ep core.TransportEndpoint)
	onLinkState  func(peer domain.UserID, s core.TransportState)
}

// Open enters the room view. The returned View must be closed on leave.
func Open(ctx context.Context, opts Options) (*View, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &View{
		room:        opts.Room.ID,
		self:        opts.Plane.Self(),
		plane:       opts.Plane,
		signaler:    opts.Signaler,
		newEndpoint: opts.NewEndpoint,
		share:       opts.Share,
		controller:  control.NewControllerView(opts.Room),
		ctx:         ctx,
		cancel:      cancel,
		endpoints:   make(map[domain.UserID]core.TransportEndpoint),
		early:       make(map[domain.UserID][]webrtc.ICECandidateInit),
	}
	v.logger = log.With().Str("module", "app.session").Str("room", string(v.room)).Str("user", string(v.self)).Logger()

	sub, err := v.plane.SubscribeControlChanges(ctx, v.applyControlChange)
	if err != nil {
		cancel()
		return nil, err
	}
	v.subs = append(v.subs, sub)

	sub, err = v.plane.SubscribeControlRequests(ctx, v.deliverRequest)
	if err != nil {
		v.Close()
		return nil, err
	}
	v.subs = append(v.subs, sub)

	if v.signaler != nil {
		sub, err = v.signaler.SubscribePeerSignals(ctx, v.handleSignal)
		if err != nil {
			v.Close()
			return nil, err
		}
		v.subs = append(v.subs, sub)
	}
	v.logger.Info().Str("controller", string(v.controller.Controller())).Msg("view opened")
	return v, nil
}

func (v *View) Room() domain.RoomID { return v.room }
func (v *View) Self() domain.UserID { return v.self }

func (v *View) Controller() domain.UserID { return v.controller.Controller() }
func (v *View) IsController() bool        { return v.controller.Is(v.self) }

func (v *View) OnControllerChange(fn func(domain.UserID)) {
	v.mu.Lock()
	v.onController = fn
	v.mu.Unlock()
}

func (v *View) OnControlRequest(fn func(core.ControlRequest)) {
	v.mu.Lock()
	v.onRequest = fn
	v.mu.Unlock()
}

// OnInput receives control signals sent by the current controller.
func (v *View) OnInput(fn func(from domain.UserID, sig core.ControlSignal)) {
	v.mu.Lock()
	v.onInput = fn
	v.mu.Unlock()
}

// OnEndpoint is called for every endpoint the view creates, before
// negotiation starts. The endpoint's state callback belongs to the view;
// use OnLinkState to follow it.
func (v *View) OnEndpoint(fn func(peer domain.UserID, ep core.TransportEndpoint)) {
	v.mu.Lock()
	v.onEndpoint = fn
	v.mu.Unlock()
}

// OnLinkState reports state changes of the current endpoint per peer.
// Closed is reported only for links that ended on their own, not for ones
// replaced, disconnected, or torn down with the view.
func (v *View) OnLinkState(fn func(peer domain.UserID, s core.TransportState)) {
	v.mu.Lock()
	v.onLinkState = fn
	v.mu.Unlock()
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// --- control ---

func (v *View) RequestControl(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	return v.plane.RequestControl(ctx)
}

func (v *View) GrantControl(ctx context.Context, target domain.UserID) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	return v.plane.GrantControl(ctx, target)
}

func (v *View) RevokeControl(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	return v.plane.RevokeControl(ctx)
}

func (v *View) applyControlChange(ch core.ControllerChange) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	fn := v.onController
	v.mu.Unlock()

	if !v.controller.Apply(ch) {
		return
	}
	v.logger.Info().Str("controller", string(ch.ControllerID)).Int64("version", ch.Version).Msg("controller changed")
	if fn != nil {
		fn(ch.ControllerID)
	}
}

func (v *View) deliverRequest(req core.ControlRequest) {
	v.mu.Lock()
	fn := v.onRequest
	closed := v.closed
	v.mu.Unlock()
	if closed || req.RoomID != v.room || fn == nil {
		return
	}
	fn(req)
}

// --- input ---

// SendInput forwards sig to every connected peer. Only the controller may
// send; a peer whose endpoint is not connected drops it.
func (v *View) SendInput(sig core.ControlSignal) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	if !v.IsController() {
		return ErrNotController
	}
	v.mu.Lock()
	eps := make([]core.TransportEndpoint, 0, len(v.endpoints))
	for _, ep := range v.endpoints {
		eps = append(eps, ep)
	}
	v.mu.Unlock()
	if len(eps) == 0 {
		return ErrNoPeers
	}
	var errs []error
	for _, ep := range eps {
		if err := ep.SendControl(sig); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(eps) {
		return errors.Join(errs...)
	}
	return nil
}

func (v *View) deliverInput(from domain.UserID, sig core.ControlSignal) {
	if !v.controller.Is(from) {
		v.logger.Debug().Str("from", string(from)).Msg("dropping input from non-controller")
		return
	}
	v.mu.Lock()
	fn := v.onInput
	closed := v.closed
	v.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(from, sig)
}

// --- transport ---

// attach registers a new endpoint for peer, replacing (and closing) any
// previous one.
func (v *View) attach(peer domain.UserID) (core.TransportEndpoint, error) {
	ep, err := v.newEndpoint(peer)
	if err != nil {
		return nil, err
	}
	ep.OnControlSignal(func(sig core.ControlSignal) { v.deliverInput(peer, sig) })
	ep.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		cand := c
		if err := v.signaler.SendPeerSignal(v.ctx, core.PeerSignal{
			Type:      core.PeerSignalCandidate,
			From:      v.self,
			To:        peer,
			Candidate: &cand,
		}); err != nil {
			v.logger.Warn().Err(err).Str("peer", string(peer)).Msg("send candidate")
		}
	})
	ep.OnStateChange(func(s core.TransportState) {
		v.mu.Lock()
		current := !v.closed && v.endpoints[peer] == ep
		if current && s == core.TransportClosed {
			delete(v.endpoints, peer)
		}
		hook := v.onLinkState
		v.mu.Unlock()
		if s == core.TransportClosed {
			v.logger.Info().Str("peer", string(peer)).Bool("current", current).Msg("endpoint closed")
		}
		if current && hook != nil {
			hook(peer, s)
		}
	})

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		ep.Close()
		return nil, ErrViewClosed
	}
	old := v.endpoints[peer]
	v.endpoints[peer] = ep
	early := v.early[peer]
	delete(v.early, peer)
	hook := v.onEndpoint
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if hook != nil {
		hook(peer, ep)
	}
	for _, c := range early {
		if err := ep.AddRemoteCandidate(c); err != nil {
			v.logger.Warn().Err(err).Str("peer", string(peer)).Msg("early candidate")
		}
	}
	return ep, nil
}

func (v *View) endpoint(peer domain.UserID) core.TransportEndpoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.endpoints[peer]
}

// Connect initiates a transport to peer: optional screen share, then an
// offer sent through the signaler.
func (v *View) Connect(ctx context.Context, peer domain.UserID) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	if peer == v.self {
		return nil
	}
	ep, err := v.attach(peer)
	if err != nil {
		return err
	}
	if v.share {
		if err := ep.StartScreenShare(ctx); err != nil {
			ep.Close()
			return err
		}
	}
	offer, err := ep.CreateOffer(ctx)
	if err != nil {
		ep.Close()
		return err
	}
	return v.signaler.SendPeerSignal(ctx, core.PeerSignal{
		Type: core.PeerSignalOffer,
		From: v.self,
		To:   peer,
		SDP:  offer,
	})
}

// Disconnect closes the transport to peer, if any.
func (v *View) Disconnect(peer domain.UserID) {
	v.mu.Lock()
	ep := v.endpoints[peer]
	delete(v.endpoints, peer)
	delete(v.early, peer)
	v.mu.Unlock()
	if ep != nil {
		ep.Close()
	}
}

func (v *View) Peers() []domain.UserID {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.UserID, 0, len(v.endpoints))
	for p := range v.endpoints {
		out = append(out, p)
	}
	return out
}

func (v *View) handleSignal(s core.PeerSignal) {
	if v.isClosed() || s.From == v.self || (s.To != "" && s.To != v.self) {
		return
	}
	logger := v.logger.With().Str("peer", string(s.From)).Str("signal", s.Type).Logger()

	switch s.Type {
	case core.PeerSignalOffer:
		if s.SDP == nil {
			logger.Warn().Msg("offer without sdp")
			return
		}
		ep, err := v.attach(s.From)
		if err != nil {
			logger.Error().Err(err).Msg("create endpoint")
			return
		}
		answer, err := ep.AcceptOffer(v.ctx, *s.SDP)
		if err != nil {
			logger.Error().Err(err).Msg("accept offer")
			ep.Close()
			return
		}
		if err := v.signaler.SendPeerSignal(v.ctx, core.PeerSignal{
			Type: core.PeerSignalAnswer,
			From: v.self,
			To:   s.From,
			SDP:  answer,
		}); err != nil {
			logger.Error().Err(err).Msg("send answer")
		}

	case core.PeerSignalAnswer:
		ep := v.endpoint(s.From)
		if ep == nil || s.SDP == nil {
			logger.Warn().Msg("answer without endpoint")
			return
		}
		if err := ep.ApplyAnswer(v.ctx, *s.SDP); err != nil {
			logger.Error().Err(err).Msg("apply answer")
		}

	case core.PeerSignalCandidate:
		if s.Candidate == nil {
			return
		}
		v.mu.Lock()
		ep := v.endpoints[s.From]
		if ep == nil {
			// the offer is still in flight
			v.early[s.From] = append(v.early[s.From], *s.Candidate)
			v.mu.Unlock()
			return
		}
		v.mu.Unlock()
		if err := ep.AddRemoteCandidate(*s.Candidate); err != nil {
			logger.Warn().Err(err).Msg("add candidate")
		}

	default:
		logger.Warn().Msg("unknown peer signal")
	}
}

// Close unsubscribes everything and closes every endpoint. Deliveries
// already in flight are ignored. Safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	subs := v.subs
	v.subs = nil
	eps := v.endpoints
	v.endpoints = make(map[domain.UserID]core.TransportEndpoint)
	v.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
	v.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, ep := range eps {
		ep.Close()
	}
	v.cancel()
	v.logger.Info().Msg("view closed")
}
