// Package rtc is the pion-backed transport endpoint: one peer connection
// carrying the shared display and the "control" data channel.
package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ core.TransportEndpoint = (*Endpoint)(nil)

// Endpoint walks Idle -> Negotiating -> Connected -> Closed. It counts as
// Connected once both local and remote descriptions are set. Remote
// candidates that arrive before the remote description are buffered.
type Endpoint struct {
	cfg     Config
	capture core.CaptureDevice
	pc      *webrtc.PeerConnection
	logger  zerolog.Logger

	// op serializes negotiation steps; mu guards the fields below and is
	// never held across a pion call.
	op sync.Mutex
	mu sync.Mutex

	state     core.TransportState
	localSet  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	control   *webrtc.DataChannel
	stream    core.CaptureStream
	senders   []*webrtc.RTPSender
	timer     *time.Timer
	closeErr  error

	onControl func(core.ControlSignal)
	onLocal   func(webrtc.ICECandidateInit)
	onTrack   func(*webrtc.TrackRemote)
	onState   func(core.TransportState)
}

// NewEndpoint creates an idle endpoint. capture may be nil for a
// watch-only peer.
func NewEndpoint(id string, cfg Config, capture core.CaptureDevice) (*Endpoint, error) {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	pc, err := cfg.newPeerConnection()
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	e := &Endpoint{
		cfg:     cfg,
		capture: capture,
		pc:      pc,
		logger:  log.With().Str("module", "rtc").Str("peer", id).Logger(),
		state:   core.TransportIdle,
	}
	e.bindHandlers()
	return e, nil
}

func (e *Endpoint) bindHandlers() {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.mu.Lock()
		fn := e.onLocal
		closed := e.state == core.TransportClosed
		e.mu.Unlock()
		if fn != nil && !closed {
			fn(c.ToJSON())
		}
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			e.shutdown(ErrConnectionFailed)
		}
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		e.mu.Lock()
		fn := e.onTrack
		e.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	// the answering side learns the control channel from the offerer
	e.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ControlChannelLabel {
			e.logger.Warn().Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		e.attachControl(dc)
	})
}

func (e *Endpoint) attachControl(dc *webrtc.DataChannel) {
	e.mu.Lock()
	if e.state == core.TransportClosed {
		e.mu.Unlock()
		_ = dc.Close()
		return
	}
	e.control = dc
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.logger.Debug().Msg("control channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		sig, err := DecodeControl(msg.Data)
		if err != nil {
			e.logger.Warn().Err(err).Msg("bad control frame")
			return
		}
		e.mu.Lock()
		fn := e.onControl
		e.mu.Unlock()
		if fn != nil {
			fn(sig)
		}
	})
}

func (e *Endpoint) State() core.TransportState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err is the reason the endpoint closed, nil while it is open.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// setStateLocked returns the callback to fire once mu is released.
func (e *Endpoint) setStateLocked(s core.TransportState) func() {
	if e.state == s {
		return func() {}
	}
	e.state = s
	metrics.TransportStates.WithLabelValues(s.String()).Inc()
	e.logger.Info().Str("state", s.String()).Msg("transport state")
	switch s {
	case core.TransportNegotiating:
		if e.timer == nil {
			e.timer = time.AfterFunc(e.cfg.NegotiationTimeout, e.negotiationExpired)
		}
	case core.TransportConnected, core.TransportClosed:
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	fn := e.onState
	return func() {
		if fn != nil {
			fn(s)
		}
	}
}

func (e *Endpoint) negotiationExpired() {
	if e.State() == core.TransportNegotiating {
		e.logger.Warn().Dur("timeout", e.cfg.NegotiationTimeout).Msg("negotiation timed out")
		e.shutdown(ErrNegotiationTimeout)
	}
}

// begin takes the op lock and checks that the endpoint is still open.
func (e *Endpoint) begin(op string) (func(), error) {
	e.op.Lock()
	if e.State() == core.TransportClosed {
		e.op.Unlock()
		return nil, NewError(op, ErrClosed)
	}
	return e.op.Unlock, nil
}

func (e *Endpoint) StartScreenShare(ctx context.Context) error {
	const op = "start screen share"
	done, err := e.begin(op)
	if err != nil {
		return err
	}
	defer done()

	if e.capture == nil {
		return WrapError(op, ErrCaptureFailed, "no capture device")
	}
	e.mu.Lock()
	active := e.stream != nil
	senders := e.senders
	negotiated := e.localSet
	e.mu.Unlock()
	if active {
		return nil
	}
	// Once negotiated, a track can only ride on a sender that is already
	// in the session description.
	if negotiated && len(senders) == 0 {
		return WrapError(op, ErrInvalidState, "negotiated without media")
	}

	stream, err := e.capture.Acquire(ctx)
	if err != nil {
		return NewError(op, err)
	}
	tracks := stream.Tracks()
	if len(senders) > 0 {
		for i, s := range senders {
			if i >= len(tracks) {
				break
			}
			if err := s.ReplaceTrack(tracks[i].Local()); err != nil {
				stream.Stop()
				return NewError(op, err)
			}
		}
	} else {
		for _, t := range tracks {
			sender, err := e.pc.AddTrack(t.Local())
			if err != nil {
				stream.Stop()
				return NewError(op, err)
			}
			senders = append(senders, sender)
			go drainRTCP(sender)
		}
	}

	e.mu.Lock()
	if e.state == core.TransportClosed {
		e.mu.Unlock()
		stream.Stop()
		return NewError(op, ErrClosed)
	}
	e.stream = stream
	e.senders = senders
	notify := func() {}
	if e.state == core.TransportIdle {
		notify = e.setStateLocked(core.TransportNegotiating)
	}
	e.mu.Unlock()
	notify()
	e.logger.Info().Int("tracks", len(tracks)).Msg("screen share started")
	return nil
}

// drainRTCP reads sender feedback so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// StopScreenShare releases the capture but keeps the connection and its
// senders, so a later start needs no renegotiation.
func (e *Endpoint) StopScreenShare() {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	senders := e.senders
	e.mu.Unlock()
	if stream == nil {
		return
	}
	for _, s := range senders {
		if err := s.ReplaceTrack(nil); err != nil {
			e.logger.Warn().Err(err).Msg("detach track")
		}
	}
	stream.Stop()
	e.logger.Info().Msg("screen share stopped")
}

// CreateOffer opens the control channel and produces the local offer.
func (e *Endpoint) CreateOffer(_ context.Context) (*webrtc.SessionDescription, error) {
	const op = "create offer"
	done, err := e.begin(op)
	if err != nil {
		return nil, err
	}
	defer done()

	e.mu.Lock()
	bad := e.localSet || e.remoteSet
	haveControl := e.control != nil
	e.mu.Unlock()
	if bad {
		return nil, WrapError(op, ErrInvalidState, "descriptions already set")
	}

	if !haveControl {
		ordered := true
		dc, err := e.pc.CreateDataChannel(ControlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return nil, NewError("create data channel", err)
		}
		e.attachControl(dc)
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return nil, NewError(op, err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return nil, NewError("set local description", err)
	}

	e.mu.Lock()
	e.localSet = true
	notify := e.setStateLocked(core.TransportNegotiating)
	e.mu.Unlock()
	notify()
	return e.pc.LocalDescription(), nil
}

// AcceptOffer applies a remote offer and returns the local answer.
func (e *Endpoint) AcceptOffer(_ context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	const op = "accept offer"
	done, err := e.begin(op)
	if err != nil {
		return nil, err
	}
	defer done()

	if offer.Type != webrtc.SDPTypeOffer {
		return nil, WrapError(op, ErrInvalidState, "not an offer: "+offer.Type.String())
	}
	e.mu.Lock()
	if e.localSet || e.remoteSet {
		e.mu.Unlock()
		return nil, WrapError(op, ErrInvalidState, "descriptions already set")
	}
	notify := e.setStateLocked(core.TransportNegotiating)
	e.mu.Unlock()
	notify()

	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return nil, NewError("set remote description", err)
	}
	e.markRemoteSet()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return nil, NewError("create answer", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return nil, NewError("set local description", err)
	}

	e.mu.Lock()
	e.localSet = true
	notify = e.setStateLocked(core.TransportConnected)
	e.mu.Unlock()
	notify()
	return e.pc.LocalDescription(), nil
}

// ApplyAnswer completes negotiation on the offering side.
func (e *Endpoint) ApplyAnswer(_ context.Context, answer webrtc.SessionDescription) error {
	const op = "apply answer"
	done, err := e.begin(op)
	if err != nil {
		return err
	}
	defer done()

	e.mu.Lock()
	ok := e.localSet && !e.remoteSet
	e.mu.Unlock()
	if !ok || answer.Type != webrtc.SDPTypeAnswer {
		return WrapError(op, ErrInvalidState, "no outstanding offer")
	}
	if err := e.pc.SetRemoteDescription(answer); err != nil {
		return NewError("set remote description", err)
	}
	e.markRemoteSet()

	e.mu.Lock()
	notify := e.setStateLocked(core.TransportConnected)
	e.mu.Unlock()
	notify()
	return nil
}

// markRemoteSet flushes buffered candidates. Caller holds op.
func (e *Endpoint) markRemoteSet() {
	e.mu.Lock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			e.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	if len(pending) > 0 {
		e.logger.Debug().Int("count", len(pending)).Msg("applied buffered candidates")
	}
}

// AddRemoteCandidate accepts candidates in any order relative to the
// remote description.
func (e *Endpoint) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	const op = "add remote candidate"
	done, err := e.begin(op)
	if err != nil {
		return err
	}
	defer done()

	e.mu.Lock()
	if !e.remoteSet {
		e.pending = append(e.pending, c)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	if err := e.pc.AddICECandidate(c); err != nil {
		return NewError(op, err)
	}
	return nil
}

// SendControl drops sig unless the endpoint is Connected and the control
// channel is open. Nothing is queued.
func (e *Endpoint) SendControl(sig core.ControlSignal) error {
	const op = "send control"
	e.mu.Lock()
	state := e.state
	dc := e.control
	e.mu.Unlock()

	if state != core.TransportConnected {
		return WrapError(op, ErrNotConnected, state.String())
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return NewError(op, ErrChannelNotOpen)
	}
	b, err := EncodeControl(sig)
	if err != nil {
		return NewError(op, err)
	}
	if err := dc.Send(b); err != nil {
		return NewError(op, err)
	}
	return nil
}

func (e *Endpoint) OnControlSignal(fn func(core.ControlSignal)) {
	e.mu.Lock()
	e.onControl = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.onLocal = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnStateChange(fn func(core.TransportState)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

func (e *Endpoint) Close() {
	e.shutdown(ErrClosed)
}

// shutdown is the single path into Closed. The first reason wins.
func (e *Endpoint) shutdown(reason error) {
	e.mu.Lock()
	if e.state == core.TransportClosed {
		e.mu.Unlock()
		return
	}
	e.closeErr = reason
	stream := e.stream
	e.stream = nil
	dc := e.control
	e.pending = nil
	notify := e.setStateLocked(core.TransportClosed)
	e.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if dc != nil {
		_ = dc.Close()
	}
	if err := e.pc.Close(); err != nil {
		e.logger.Error().Err(err).Msg("close error")
	}
	notify()
}
