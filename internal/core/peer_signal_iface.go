package core

import (
	"context"

	"github.com/dkeye/sharedview/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	PeerSignalOffer     = "offer"
	PeerSignalAnswer    = "answer"
	PeerSignalCandidate = "candidate"
)

// PeerSignal is one negotiation message between two room members. SDP and
// candidate payloads pass through unmodified.
type PeerSignal struct {
	Type      string                     `json:"type"`
	From      domain.UserID              `json:"from"`
	To        domain.UserID              `json:"to"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// PeerSignaler carries negotiation messages out of band.
type PeerSignaler interface {
	SendPeerSignal(ctx context.Context, s PeerSignal) error
	// SubscribePeerSignals delivers signals addressed to the local user.
	SubscribePeerSignals(ctx context.Context, h func(PeerSignal)) (Subscription, error)
}
