package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TransportState is the explicit state of a peer transport endpoint.
type TransportState int32

const (
	TransportIdle TransportState = iota
	TransportNegotiating
	TransportConnected
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportIdle:
		return "idle"
	case TransportNegotiating:
		return "negotiating"
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// ControlSignal is one application-level input event carried on the
// control-signal channel.
type ControlSignal struct {
	Kind   string  `msgpack:"kind" json:"kind"` // pointer, click, key, scroll
	X      float64 `msgpack:"x,omitempty" json:"x,omitempty"`
	Y      float64 `msgpack:"y,omitempty" json:"y,omitempty"`
	Button int     `msgpack:"button,omitempty" json:"button,omitempty"`
	Key    string  `msgpack:"key,omitempty" json:"key,omitempty"`
	Down   bool    `msgpack:"down,omitempty" json:"down,omitempty"`
	DeltaY float64 `msgpack:"dy,omitempty" json:"dy,omitempty"`
}

// TransportEndpoint owns one peer connection carrying the shared display
// and the control-signal channel.
type TransportEndpoint interface {
	State() TransportState

	StartScreenShare(ctx context.Context) error
	StopScreenShare()

	CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	// SendControl drops the signal unless the endpoint is connected.
	SendControl(ControlSignal) error

	OnControlSignal(func(ControlSignal))
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnRemoteTrack(func(*webrtc.TrackRemote))
	OnStateChange(func(TransportState))

	// Close is idempotent and valid from any state.
	Close()
}

// CaptureDevice acquires a live display capture.
type CaptureDevice interface {
	Acquire(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an acquired capture. Each track can be stopped on its own;
// Stop stops them all.
type CaptureStream interface {
	Tracks() []CaptureTrack
	Stop()
}

type CaptureTrack interface {
	Local() webrtc.TrackLocal
	Stop()
}
